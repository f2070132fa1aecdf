package relation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource records the limit it was scanned with.
type countingSource struct {
	frame     *Frame
	scans     int
	lastLimit int
}

func (s *countingSource) Scan(_ context.Context, limit int) (*Frame, error) {
	s.scans++
	s.lastLimit = limit
	return s.frame.Head(limit), nil
}

func (s *countingSource) Describe() string { return "counting" }

func numbers(n int) *Frame {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i)}
	}
	return NewFrame([]string{"n"}, rows...)
}

func TestRelation_LimitPushdown(t *testing.T) {
	src := &countingSource{frame: numbers(10)}
	r := New(src).Limit(3)

	f, err := r.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, 3, src.lastLimit, "limit before any op should reach the scan")

	// Tighter limit wins, looser one is ignored.
	_, err = r.Limit(2).Limit(5).Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.lastLimit)
}

func TestRelation_LimitAfterOpIsNotPushedDown(t *testing.T) {
	src := &countingSource{frame: numbers(10)}
	r := New(src).Then("identity", func(_ context.Context, f *Frame) (*Frame, error) {
		return f, nil
	}).Limit(4)

	f, err := r.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, f.Len())
	assert.Equal(t, -1, src.lastLimit)
}

func TestRelation_BuildersDoNotMutateReceiver(t *testing.T) {
	base := FromFrame(numbers(5))
	_ = base.Limit(1)
	_ = base.Then("noop", func(_ context.Context, f *Frame) (*Frame, error) { return f, nil })

	f, err := base.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, f.Len())
	assert.Len(t, base.Plan(), 1)
}

func TestRelation_Schema(t *testing.T) {
	src := &countingSource{frame: numbers(10)}
	r := New(src).Then("add", func(_ context.Context, f *Frame) (*Frame, error) {
		rows := make([][]any, len(f.Rows))
		for i, row := range f.Rows {
			rows[i] = []any{row[0], "x"}
		}
		return &Frame{Columns: []string{"n", "tag"}, Rows: rows}, nil
	})

	cols, err := r.Schema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"n", "tag"}, cols)
	assert.Equal(t, 0, src.lastLimit)
}

func TestRelation_AnnotateWrapsOnlyUnwrappedOps(t *testing.T) {
	boom := errors.New("boom")
	first := FromFrame(numbers(1)).Then("fails", func(_ context.Context, f *Frame) (*Frame, error) {
		return nil, boom
	}).Annotate(func(err error) error { return errors.Join(errors.New("first"), err) })

	second := first.Annotate(func(err error) error { return errors.Join(errors.New("second"), err) })

	_, err := second.Collect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "first")
	assert.NotContains(t, err.Error(), "second")
}

func TestRelation_PanickingOpBecomesError(t *testing.T) {
	rel := FromFrame(numbers(2)).Then("index", func(_ context.Context, f *Frame) (*Frame, error) {
		_ = f.Rows[0][99]
		return f, nil
	}).Annotate(func(err error) error { return fmt.Errorf("step 0 (index): %w", err) })

	_, err := rel.Collect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpPanicked)
	assert.Contains(t, err.Error(), "step 0 (index)")
	assert.Contains(t, err.Error(), "index out of range")
}

func TestRelation_CollectHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FromFrame(numbers(3)).Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSample_IsDeterministicForSeed(t *testing.T) {
	r := FromFrame(numbers(1000))

	a, err := r.Sample(50, 42).Collect(context.Background())
	require.NoError(t, err)
	b, err := r.Sample(50, 42).Collect(context.Background())
	require.NoError(t, err)
	c, err := r.Sample(50, 7).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 50, a.Len())
	assert.Equal(t, a.Rows, b.Rows)
	assert.NotEqual(t, a.Rows, c.Rows)

	// Order is preserved.
	for i := 1; i < a.Len(); i++ {
		assert.Less(t, a.Rows[i-1][0].(int64), a.Rows[i][0].(int64))
	}
}

func TestSample_SmallerInputIsUnchanged(t *testing.T) {
	f := SampleFrame(numbers(3), 10, 1)
	assert.Equal(t, 3, f.Len())
}

func TestFrame_MustColumns(t *testing.T) {
	f := NewFrame([]string{"a", "b"})
	idx, err := f.MustColumns("b", "a")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, idx)

	_, err = f.MustColumns("c")
	var cnf *ColumnNotFoundError
	require.ErrorAs(t, err, &cnf)
	assert.Equal(t, "c", cnf.Column)
}
