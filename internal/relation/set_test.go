package relation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcat_DiagonalUnionFillsNulls(t *testing.T) {
	a := FromFrame(NewFrame([]string{"id", "name"}, []any{int64(1), "ann"}))
	b := FromFrame(NewFrame([]string{"id", "age"}, []any{int64(2), int64(30)}))
	c := FromFrame(NewFrame([]string{"city"}, []any{"oslo"}))

	f, err := Concat(a, b, c).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name", "age", "city"}, f.Columns)
	require.Equal(t, 3, f.Len())
	assert.Equal(t, []any{int64(1), "ann", nil, nil}, f.Rows[0])
	assert.Equal(t, []any{int64(2), nil, int64(30), nil}, f.Rows[1])
	assert.Equal(t, []any{nil, nil, nil, "oslo"}, f.Rows[2])
}

func TestConcat_LimitSpansMembers(t *testing.T) {
	a := FromFrame(numbers(2))
	b := FromFrame(numbers(5))

	f, err := Concat(a, b).Limit(3).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, f.Len())

	// Schema still carries every member's columns.
	other := FromFrame(NewFrame([]string{"extra"}, []any{"x"}))
	f, err = Concat(a, other).Limit(1).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"n", "extra"}, f.Columns)
	assert.Equal(t, 1, f.Len())
}

func TestPerFile_RejectsEmpty(t *testing.T) {
	_, err := PerFile(nil)
	assert.ErrorIs(t, err, ErrEmptySet)

	var zero Set
	assert.True(t, zero.IsZero())
	assert.Equal(t, 0, zero.Len())
}

func TestSet_MapKeepsShape(t *testing.T) {
	set, err := PerFile([]*Relation{
		FromFrame(numbers(2)).WithLabel("a.csv"),
		FromFrame(numbers(3)).WithLabel("b.csv"),
	})
	require.NoError(t, err)

	mapped, err := set.Map(func(_ int, r *Relation) (*Relation, error) {
		return r.Limit(1), nil
	})
	require.NoError(t, err)

	assert.Equal(t, KindPerFile, mapped.Kind())
	assert.Equal(t, 2, mapped.Len())
	assert.Equal(t, "a.csv", mapped.Members()[0].Label())
	assert.Equal(t, "b.csv", mapped.Members()[1].Label())

	f, err := mapped.Concat().Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())
}

func TestSet_Single(t *testing.T) {
	r := FromFrame(numbers(4))
	set := Single(r)

	assert.Equal(t, KindSingle, set.Kind())
	assert.False(t, set.IsPerFile())
	assert.Same(t, r, set.First())
	assert.Same(t, r, set.Concat())
	assert.Equal(t, "single", set.Kind().String())
}
