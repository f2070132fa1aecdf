package steps

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/registry"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

// run decodes raw params for stepType and collects the step's output.
func run(t *testing.T, stepType string, in *relation.Frame, raw map[string]any, tc *recipe.TransformContext) *relation.Frame {
	t.Helper()
	out, err := tryRun(stepType, in, raw, tc)
	require.NoError(t, err)
	return out
}

func tryRun(stepType string, in *relation.Frame, raw map[string]any, tc *recipe.TransformContext) (*relation.Frame, error) {
	reg, err := NewRegistry()
	if err != nil {
		return nil, err
	}
	def, ok := reg.Get(stepType)
	if !ok {
		return nil, assert.AnError
	}
	p, err := def.Decode(raw)
	if err != nil {
		return nil, err
	}
	rel, err := def.Transform(context.Background(), relation.FromFrame(in), p, tc)
	if err != nil {
		return nil, err
	}
	return rel.Collect(context.Background())
}

func people() *relation.Frame {
	return relation.NewFrame([]string{"id", "name", "age"},
		[]any{int64(1), "Ann", int64(30)},
		[]any{int64(2), "bob", nil},
		[]any{int64(3), "Cy", int64(25)},
		[]any{int64(2), "bob", nil},
	)
}

func TestNewRegistry_RegistersEveryBuiltin(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	assert.Equal(t, len(Builtins()), reg.Len())

	def, ok := reg.Get("aggregate")
	require.True(t, ok)
	assert.Equal(t, registry.ScopeWholeDataset, def.Scope)

	// Registering twice collides.
	assert.ErrorIs(t, RegisterBuiltins(reg), registry.ErrDuplicateStep)
}

func TestSelectAndDropCols(t *testing.T) {
	out := run(t, "select_cols", people(), map[string]any{"cols": []any{"name", "id"}}, nil)
	assert.Equal(t, []string{"name", "id"}, out.Columns)
	assert.Equal(t, []any{"Ann", int64(1)}, out.Rows[0])

	out = run(t, "drop_cols", people(), map[string]any{"cols": []any{"age", "missing"}}, nil)
	assert.Equal(t, []string{"id", "name"}, out.Columns)

	_, err := tryRun("select_cols", people(), map[string]any{"cols": []any{"nope"}}, nil)
	var cnf *relation.ColumnNotFoundError
	assert.ErrorAs(t, err, &cnf)
}

func TestRenameCol(t *testing.T) {
	out := run(t, "rename_col", people(), map[string]any{"old": "age", "new": "years"}, nil)
	assert.Equal(t, []string{"id", "name", "years"}, out.Columns)

	_, err := tryRun("rename_col", people(), map[string]any{"old": "age", "new": "name"}, nil)
	assert.Error(t, err)
}

func TestFilterRows(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want int
	}{
		{name: "eq", raw: map[string]any{"col": "id", "op": "eq", "value": 2}, want: 2},
		{name: "gt skips nulls", raw: map[string]any{"col": "age", "op": "gt", "value": 20}, want: 2},
		{name: "is_null", raw: map[string]any{"col": "age", "op": "is_null"}, want: 2},
		{name: "contains", raw: map[string]any{"col": "name", "op": "contains", "value": "o"}, want: 2},
		{name: "in", raw: map[string]any{"col": "id", "op": "in", "value": []any{1, 3}}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, "filter_rows", people(), tt.raw, nil)
			assert.Equal(t, tt.want, out.Len())
		})
	}

	_, err := tryRun("filter_rows", people(), map[string]any{"col": "id", "op": "like"}, nil)
	var pe *registry.ParamError
	assert.ErrorAs(t, err, &pe)
}

func TestSortRows(t *testing.T) {
	out := run(t, "sort_rows", people(), map[string]any{"cols": []any{"age"}}, nil)
	ages, _ := out.Column("age")
	assert.Equal(t, []any{nil, nil, int64(25), int64(30)}, ages)

	out = run(t, "sort_rows", people(), map[string]any{"cols": []any{"age"}, "descending": true, "nulls_last": true}, nil)
	ages, _ = out.Column("age")
	assert.Equal(t, []any{int64(30), int64(25), nil, nil}, ages)
}

func TestSliceRows(t *testing.T) {
	out := run(t, "slice_rows", people(), map[string]any{"offset": 1, "length": 2}, nil)
	ids, _ := out.Column("id")
	assert.Equal(t, []any{int64(2), int64(3)}, ids)

	out = run(t, "slice_rows", people(), map[string]any{"offset": 3}, nil)
	assert.Equal(t, 1, out.Len())

	out = run(t, "slice_rows", people(), map[string]any{"length": 1}, nil)
	assert.Equal(t, 1, out.Len())
}

func TestSample_SeededIsReproducible(t *testing.T) {
	rows := make([][]any, 200)
	for i := range rows {
		rows[i] = []any{int64(i)}
	}
	in := relation.NewFrame([]string{"n"}, rows...)

	a := run(t, "sample", in, map[string]any{"n": 20, "seed": 42}, nil)
	b := run(t, "sample", in, map[string]any{"n": 20, "seed": 42}, nil)
	assert.Equal(t, 20, a.Len())
	assert.Equal(t, a.Rows, b.Rows)

	half := run(t, "sample", in, map[string]any{"fraction": 0.5, "seed": 1}, nil)
	assert.Equal(t, 100, half.Len())

	_, err := tryRun("sample", in, map[string]any{}, nil)
	assert.Error(t, err)
}

func TestDeduplicate(t *testing.T) {
	out := run(t, "deduplicate", people(), map[string]any{}, nil)
	assert.Equal(t, 3, out.Len())

	in := relation.NewFrame([]string{"k", "v"},
		[]any{"a", int64(1)},
		[]any{"a", int64(2)},
		[]any{int64(1), int64(3)},
		[]any{"1", int64(4)},
	)
	out = run(t, "deduplicate", in, map[string]any{"cols": []any{"k"}, "keep": "last"}, nil)
	vs, _ := out.Column("v")
	assert.Equal(t, []any{int64(2), int64(3), int64(4)}, vs, "text \"1\" and number 1 are distinct keys")
}

func TestAddRowNumber(t *testing.T) {
	out := run(t, "add_row_number", people(), map[string]any{"offset": 1}, nil)
	assert.Equal(t, "row_nr", out.Columns[0])
	nums, _ := out.Column("row_nr")
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4)}, nums)
}

func TestFillNulls(t *testing.T) {
	in := relation.NewFrame([]string{"x"}, []any{int64(1)}, []any{nil}, []any{int64(5)}, []any{nil})

	tests := []struct {
		strategy string
		extra    map[string]any
		want     []any
	}{
		{"forward", nil, []any{int64(1), int64(1), int64(5), int64(5)}},
		{"backward", nil, []any{int64(1), int64(5), int64(5), nil}},
		{"zero", nil, []any{int64(1), int64(0), int64(5), int64(0)}},
		{"mean", nil, []any{int64(1), 3.0, int64(5), 3.0}},
		{"median", nil, []any{int64(1), 3.0, int64(5), 3.0}},
		{"min", nil, []any{int64(1), int64(1), int64(5), int64(1)}},
		{"max", nil, []any{int64(1), int64(5), int64(5), int64(5)}},
		{"literal", map[string]any{"value": "n/a"}, []any{int64(1), "n/a", int64(5), "n/a"}},
	}

	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			raw := map[string]any{"cols": []any{"x"}, "strategy": tt.strategy}
			for k, v := range tt.extra {
				raw[k] = v
			}
			out := run(t, "fill_nulls", in, raw, nil)
			got, _ := out.Column("x")
			assert.Equal(t, tt.want, got)
		})
	}

	// The input frame is untouched.
	assert.Nil(t, in.Rows[1][0])

	_, err := tryRun("fill_nulls", in, map[string]any{"strategy": "literal"}, nil)
	assert.Error(t, err)
}

func TestDropNulls(t *testing.T) {
	in := relation.NewFrame([]string{"a", "b"},
		[]any{int64(1), nil},
		[]any{nil, nil},
		[]any{int64(3), int64(4)},
	)

	assert.Equal(t, 1, run(t, "drop_nulls", in, map[string]any{"how": "any"}, nil).Len())
	assert.Equal(t, 2, run(t, "drop_nulls", in, map[string]any{"how": "all"}, nil).Len())
	assert.Equal(t, 2, run(t, "drop_nulls", in, map[string]any{"cols": []any{"a"}}, nil).Len())
}

func TestStringCaseAndNormalize(t *testing.T) {
	in := relation.NewFrame([]string{"s", "n"},
		[]any{"  héllo   wörld ", int64(1)},
		[]any{nil, int64(2)},
	)

	out := run(t, "string_case", in, map[string]any{"cols": []any{"s"}, "case": "upper"}, nil)
	assert.Equal(t, "  HÉLLO   WÖRLD ", out.Rows[0][0])
	assert.Nil(t, out.Rows[1][0])

	out = run(t, "normalize_text", in, map[string]any{
		"cols": []any{"s"}, "strip_accents": true, "collapse_spaces": true,
	}, nil)
	assert.Equal(t, "hello world", out.Rows[0][0])

	out = run(t, "string_case", relation.NewFrame([]string{"s"}, []any{"big data"}), map[string]any{"cols": []any{"s"}, "case": "title"}, nil)
	assert.Equal(t, "Big Data", out.Rows[0][0])
}

func joinContext() *recipe.TransformContext {
	cities := relation.NewFrame([]string{"id", "city", "name"},
		[]any{int64(1), "Oslo", "x"},
		[]any{int64(3), "Rome", "y"},
	)
	return &recipe.TransformContext{
		Datasets: map[string]relation.Set{"cities": relation.Single(relation.FromFrame(cities))},
	}
}

func TestJoinDataset(t *testing.T) {
	out := run(t, "join_dataset", people(), map[string]any{"alias": "cities", "left_on": []any{"id"}}, joinContext())
	assert.Equal(t, []string{"id", "name", "age", "city", "name_right"}, out.Columns)
	require.Equal(t, 4, out.Len())
	assert.Equal(t, []any{int64(1), "Ann", int64(30), "Oslo", "x"}, out.Rows[0])
	assert.Equal(t, []any{int64(2), "bob", nil, nil, nil}, out.Rows[1])

	out = run(t, "join_dataset", people(), map[string]any{"alias": "cities", "how": "inner", "left_on": []any{"id"}}, joinContext())
	assert.Equal(t, 2, out.Len())
}

func TestJoinDataset_MissingAliasIsNoop(t *testing.T) {
	out := run(t, "join_dataset", people(), map[string]any{"alias": "gone", "left_on": []any{"id"}}, joinContext())
	assert.Equal(t, people(), out)
}

func TestConcatDatasets(t *testing.T) {
	out := run(t, "concat_datasets", people(), map[string]any{"datasets": []any{"cities", "gone"}}, joinContext())
	assert.Equal(t, []string{"id", "name", "age", "city"}, out.Columns)
	assert.Equal(t, 6, out.Len())
	assert.Equal(t, []any{int64(3), "y", nil, "Rome"}, out.Rows[5])
}

func TestAggregate(t *testing.T) {
	out := run(t, "aggregate", people(), map[string]any{
		"group_by": []any{"name"},
		"aggs": []any{
			map[string]any{"col": "id", "op": "sum"},
			map[string]any{"col": "age", "op": "count", "alias": "ages"},
		},
	}, nil)
	assert.Equal(t, []string{"name", "id_sum", "ages"}, out.Columns)
	require.Equal(t, 3, out.Len())
	assert.Equal(t, []any{"bob", int64(4), int64(0)}, out.Rows[1])

	out = run(t, "aggregate", people(), map[string]any{
		"aggs": []any{map[string]any{"col": "age", "op": "mean"}},
	}, nil)
	assert.Equal(t, [][]any{{27.5}}, out.Rows)

	_, err := tryRun("aggregate", people(), map[string]any{
		"aggs": []any{map[string]any{"col": "age", "op": "mode"}},
	}, nil)
	assert.Error(t, err)
}
