package steps

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/registry"
	"github.com/dbsmedya/gorecipe/internal/relation"
	"github.com/dbsmedya/gorecipe/internal/types"
)

// FilterParams keeps rows where Col compares to Value under Op.
type FilterParams struct {
	Col   string `mapstructure:"col"`
	Op    string `mapstructure:"op"`
	Value any    `mapstructure:"value"`
}

var filterOps = []string{"eq", "ne", "gt", "ge", "lt", "le", "contains", "starts_with", "in", "is_null", "not_null"}

func (p *FilterParams) Validate() error {
	if p.Col == "" {
		return errors.New("col must be set")
	}
	if err := oneOf("op", p.Op, filterOps...); err != nil {
		return err
	}
	if p.Op == "in" {
		if _, ok := p.Value.([]any); !ok {
			return errors.New("value must be a list for op \"in\"")
		}
	}
	return nil
}

func filterRowsDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "filter_rows",
		Label:       "Filter Rows",
		Group:       GroupRows,
		Description: "Keep rows matching a condition. Comparisons against null never match.",
	}, func() *FilterParams { return &FilterParams{Op: "eq"} }, filterRows)
}

func filterRows(_ context.Context, rel *relation.Relation, p *FilterParams, _ *recipe.TransformContext) (*relation.Relation, error) {
	col, op, value := p.Col, p.Op, p.Value
	return rel.Then("filter_rows", func(_ context.Context, f *relation.Frame) (*relation.Frame, error) {
		idx, err := f.MustColumns(col)
		if err != nil {
			return nil, err
		}
		var rows [][]any
		for _, row := range f.Rows {
			if matches(row[idx[0]], op, value) {
				rows = append(rows, row)
			}
		}
		return f.WithRows(rows), nil
	}), nil
}

func matches(v any, op string, want any) bool {
	switch op {
	case "is_null":
		return v == nil
	case "not_null":
		return v != nil
	}
	if v == nil {
		return false
	}
	switch op {
	case "eq":
		return want != nil && types.Equal(v, want)
	case "ne":
		return want != nil && !types.Equal(v, want)
	case "gt":
		return want != nil && types.Compare(v, want) > 0
	case "ge":
		return want != nil && types.Compare(v, want) >= 0
	case "lt":
		return want != nil && types.Compare(v, want) < 0
	case "le":
		return want != nil && types.Compare(v, want) <= 0
	case "contains":
		return strings.Contains(types.FormatValue(v), types.FormatValue(want))
	case "starts_with":
		return strings.HasPrefix(types.FormatValue(v), types.FormatValue(want))
	case "in":
		list, _ := want.([]any)
		for _, w := range list {
			if w != nil && types.Equal(v, w) {
				return true
			}
		}
	}
	return false
}

// SortParams orders rows by one or more columns.
type SortParams struct {
	Cols       []string `mapstructure:"cols"`
	Descending bool     `mapstructure:"descending"`
	NullsLast  bool     `mapstructure:"nulls_last"`
}

func (p *SortParams) Validate() error {
	if len(p.Cols) == 0 {
		return errors.New("cols must not be empty")
	}
	return nil
}

func sortRowsDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "sort_rows",
		Label:       "Sort Rows",
		Group:       GroupRows,
		Description: "Stable sort by the listed columns.",
	}, func() *SortParams { return &SortParams{} }, sortRows)
}

func sortRows(_ context.Context, rel *relation.Relation, p *SortParams, _ *recipe.TransformContext) (*relation.Relation, error) {
	cols, desc, nullsLast := slices.Clone(p.Cols), p.Descending, p.NullsLast
	return rel.Then("sort_rows", func(_ context.Context, f *relation.Frame) (*relation.Frame, error) {
		idx, err := f.MustColumns(cols...)
		if err != nil {
			return nil, err
		}
		rows := slices.Clone(f.Rows)
		slices.SortStableFunc(rows, func(a, b []any) int {
			for _, i := range idx {
				x, y := a[i], b[i]
				if (x == nil) != (y == nil) {
					if (x == nil) == nullsLast {
						return 1
					}
					return -1
				}
				c := types.Compare(x, y)
				if desc {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
		return f.WithRows(rows), nil
	}), nil
}

// SliceParams keeps Length rows starting at Offset. A negative length keeps
// everything after the offset.
type SliceParams struct {
	Offset int `mapstructure:"offset"`
	Length int `mapstructure:"length"`
}

func (p *SliceParams) Validate() error {
	if p.Offset < 0 {
		return errors.New("offset must be >= 0")
	}
	return nil
}

func sliceRowsDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "slice_rows",
		Label:       "Slice Rows",
		Group:       GroupRows,
		Description: "Keep a contiguous range of rows.",
	}, func() *SliceParams { return &SliceParams{Length: -1} }, sliceRows)
}

func sliceRows(_ context.Context, rel *relation.Relation, p *SliceParams, _ *recipe.TransformContext) (*relation.Relation, error) {
	offset, length := p.Offset, p.Length
	if offset == 0 && length >= 0 {
		return rel.Limit(length), nil
	}
	return rel.Then(fmt.Sprintf("slice_rows(%d, %d)", offset, length), func(_ context.Context, f *relation.Frame) (*relation.Frame, error) {
		start := min(offset, f.Len())
		end := f.Len()
		if length >= 0 {
			end = min(start+length, end)
		}
		return f.WithRows(f.Rows[start:end]), nil
	}), nil
}

// SampleParams draws N rows, or Fraction of the rows, at random. Without a
// Seed every run draws differently.
type SampleParams struct {
	N        int     `mapstructure:"n"`
	Fraction float64 `mapstructure:"fraction"`
	Seed     *int64  `mapstructure:"seed"`
}

func (p *SampleParams) Validate() error {
	switch {
	case p.N < 0:
		return errors.New("n must be >= 0")
	case p.Fraction < 0 || p.Fraction > 1:
		return errors.New("fraction must be between 0 and 1")
	case p.N == 0 && p.Fraction == 0:
		return errors.New("either n or fraction must be set")
	}
	return nil
}

func sampleDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "sample",
		Label:       "Sample Rows",
		Group:       GroupRows,
		Description: "Random subset of rows. Set seed for reproducible output.",
	}, func() *SampleParams { return &SampleParams{} }, sampleRows)
}

func sampleRows(_ context.Context, rel *relation.Relation, p *SampleParams, _ *recipe.TransformContext) (*relation.Relation, error) {
	seed := rand.Uint64()
	if p.Seed != nil {
		seed = uint64(*p.Seed)
	}
	if p.N > 0 {
		return rel.Sample(p.N, seed), nil
	}
	fraction := p.Fraction
	return rel.Then(fmt.Sprintf("sample(fraction=%g)", fraction), func(_ context.Context, f *relation.Frame) (*relation.Frame, error) {
		return relation.SampleFrame(f, int(float64(f.Len())*fraction), seed), nil
	}), nil
}

// DedupParams removes duplicate rows, compared on Cols or on every column.
type DedupParams struct {
	Cols []string `mapstructure:"cols"`
	Keep string   `mapstructure:"keep"`
}

func (p *DedupParams) Validate() error {
	return oneOf("keep", p.Keep, "first", "last")
}

func deduplicateDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "deduplicate",
		Label:       "Remove Duplicates",
		Group:       GroupClean,
		Description: "Drop rows whose key columns repeat an earlier (or later) row.",
	}, func() *DedupParams { return &DedupParams{Keep: "first"} }, deduplicate)
}

func deduplicate(_ context.Context, rel *relation.Relation, p *DedupParams, _ *recipe.TransformContext) (*relation.Relation, error) {
	cols, keepLast := slices.Clone(p.Cols), p.Keep == "last"
	return rel.Then("deduplicate", func(_ context.Context, f *relation.Frame) (*relation.Frame, error) {
		idx, err := columnsOrAll(f, cols)
		if err != nil {
			return nil, err
		}
		order := make([]int, f.Len())
		for i := range order {
			order[i] = i
		}
		if keepLast {
			slices.Reverse(order)
		}

		seen := make(map[uint64][]int)
		keep := make([]bool, f.Len())
		var buf []byte
		for _, r := range order {
			buf = appendKey(buf[:0], f.Rows[r], idx)
			h := xxh3.Hash(buf)
			dup := false
			for _, prev := range seen[h] {
				if sameKey(f.Rows[prev], f.Rows[r], idx) {
					dup = true
					break
				}
			}
			if !dup {
				seen[h] = append(seen[h], r)
				keep[r] = true
			}
		}

		rows := make([][]any, 0, len(seen))
		for r, row := range f.Rows {
			if keep[r] {
				rows = append(rows, row)
			}
		}
		return f.WithRows(rows), nil
	}), nil
}

// appendKey encodes the key columns of row. Each value is prefixed by a kind
// byte so the text "1" and the number 1 do not collide; nulls encode as 0x00.
func appendKey(buf []byte, row []any, idx []int) []byte {
	for _, i := range idx {
		v := row[i]
		switch {
		case v == nil:
			buf = append(buf, 0x00)
		case types.IsNumeric(v):
			buf = append(buf, 'n')
			buf = append(buf, types.FormatValue(v)...)
		default:
			buf = append(buf, 's')
			buf = append(buf, types.FormatValue(v)...)
		}
		buf = append(buf, 0x1f)
	}
	return buf
}

func sameKey(a, b []any, idx []int) bool {
	for _, i := range idx {
		if (a[i] == nil) != (b[i] == nil) {
			return false
		}
		if a[i] != nil && !types.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// RowNumberParams adds a sequential row number column.
type RowNumberParams struct {
	Name   string `mapstructure:"name"`
	Offset int64  `mapstructure:"offset"`
}

func (p *RowNumberParams) Validate() error {
	if p.Name == "" {
		return errors.New("name must be set")
	}
	return nil
}

func addRowNumberDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "add_row_number",
		Label:       "Add Row Number",
		Group:       GroupRows,
		Description: "Prepend a column numbering rows from offset.",
	}, func() *RowNumberParams { return &RowNumberParams{Name: "row_nr"} }, addRowNumber)
}

func addRowNumber(_ context.Context, rel *relation.Relation, p *RowNumberParams, _ *recipe.TransformContext) (*relation.Relation, error) {
	name, offset := p.Name, p.Offset
	return rel.Then("add_row_number", func(_ context.Context, f *relation.Frame) (*relation.Frame, error) {
		if f.ColumnIndex(name) >= 0 {
			return nil, fmt.Errorf("column %q already exists", name)
		}
		cols := append([]string{name}, f.Columns...)
		rows := make([][]any, len(f.Rows))
		for i, src := range f.Rows {
			row := make([]any, 0, len(src)+1)
			row = append(row, offset+int64(i))
			rows[i] = append(row, src...)
		}
		return relation.NewFrame(cols, rows...), nil
	}), nil
}
