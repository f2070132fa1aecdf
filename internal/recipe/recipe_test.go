package recipe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/gorecipe/internal/relation"
)

func TestParse(t *testing.T) {
	data := []byte(`[
		{"id": "s1", "type": "drop_nulls", "label": "Drop", "params": {"how": "any", "cols": ["x"]}},
		{"type": "fill_nulls", "params": {"cols": ["x"], "strategy": "zero"}}
	]`)

	r, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, r, 2)

	assert.Equal(t, "s1", r[0].ID)
	assert.Equal(t, "Drop", r[0].Label)
	assert.Equal(t, "any", r[0].Params["how"])

	assert.NotEmpty(t, r[1].ID, "missing IDs are generated")
	assert.Equal(t, "fill_nulls", r[1].Label)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		errMsg string
	}{
		{name: "not json", data: `{`, errMsg: "failed to parse recipe"},
		{name: "object instead of array", data: `{"type": "x"}`, errMsg: "failed to parse recipe"},
		{name: "missing type", data: `[{"id": "a"}]`, errMsg: "has no type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParse_EmptyArray(t *testing.T) {
	r, err := Parse([]byte(`[]`))
	require.NoError(t, err)
	assert.NotNil(t, r)
	assert.Len(t, r, 0)
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipe.json")
	in := Recipe{NewStep("select_cols", "", map[string]any{"cols": []any{"a"}})}

	require.NoError(t, SaveFile(path, in))
	out, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestClone_IsDeep(t *testing.T) {
	orig := Recipe{NewStep("fill_nulls", "", map[string]any{
		"cols":    []any{"x"},
		"options": map[string]any{"value": 1},
	})}
	snap := orig.Clone()

	orig[0].Params["strategy"] = "zero"
	orig[0].Params["options"].(map[string]any)["value"] = 2
	orig[0].Label = "changed"

	assert.NotContains(t, snap[0].Params, "strategy")
	assert.Equal(t, 1, snap[0].Params["options"].(map[string]any)["value"])
	assert.Equal(t, "fill_nulls", snap[0].Label)
}

func TestTransformContext_Lookup(t *testing.T) {
	base := relation.Single(relation.FromFrame(relation.NewFrame([]string{"a"})))
	transformed := relation.Single(relation.FromFrame(relation.NewFrame([]string{"b"})))

	tc := &TransformContext{
		Datasets: map[string]relation.Set{"other": base},
		Apply: func(_ context.Context, name string) (relation.Set, error) {
			return transformed, nil
		},
	}

	got, ok, err := tc.Lookup(context.Background(), "other", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, base.First(), got.First())

	got, ok, err = tc.Lookup(context.Background(), "other", true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, transformed.First(), got.First())

	_, ok, err = tc.Lookup(context.Background(), "missing", true)
	require.NoError(t, err)
	assert.False(t, ok)

	var nilCtx *TransformContext
	_, ok, _ = nilCtx.Lookup(context.Background(), "other", false)
	assert.False(t, ok)
}
