package steps

import (
	"context"
	"errors"
	"slices"

	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/registry"
	"github.com/dbsmedya/gorecipe/internal/relation"
	"github.com/dbsmedya/gorecipe/internal/types"
)

var fillStrategies = []string{"forward", "backward", "mean", "median", "min", "max", "zero", "literal"}

// FillNullsParams replaces nulls in Cols (every column when empty).
type FillNullsParams struct {
	Cols     []string `mapstructure:"cols"`
	Strategy string   `mapstructure:"strategy"`
	Value    any      `mapstructure:"value"`
}

func (p *FillNullsParams) Validate() error {
	if err := oneOf("strategy", p.Strategy, fillStrategies...); err != nil {
		return err
	}
	if p.Strategy == "literal" && p.Value == nil {
		return errors.New("value must be set for the literal strategy")
	}
	return nil
}

func fillNullsDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:  "fill_nulls",
		Label: "Fill Nulls",
		Group: GroupClean,
		Description: "Replace nulls with a neighbour, a column statistic, zero or a literal. " +
			"Statistics are computed over the rows the step sees.",
	}, func() *FillNullsParams { return &FillNullsParams{Strategy: "literal"} }, fillNulls)
}

func fillNulls(_ context.Context, rel *relation.Relation, p *FillNullsParams, _ *recipe.TransformContext) (*relation.Relation, error) {
	cols, strategy, value := slices.Clone(p.Cols), p.Strategy, p.Value
	return rel.Then("fill_nulls", func(_ context.Context, f *relation.Frame) (*relation.Frame, error) {
		idx, err := columnsOrAll(f, cols)
		if err != nil {
			return nil, err
		}
		rows := make([][]any, len(f.Rows))
		for i, row := range f.Rows {
			rows[i] = copyRow(row)
		}
		for _, c := range idx {
			fillColumn(rows, c, strategy, value)
		}
		return f.WithRows(rows), nil
	}), nil
}

func fillColumn(rows [][]any, c int, strategy string, literal any) {
	switch strategy {
	case "forward":
		var last any
		for _, row := range rows {
			if row[c] == nil {
				row[c] = last
			} else {
				last = row[c]
			}
		}
		return
	case "backward":
		var next any
		for i := len(rows) - 1; i >= 0; i-- {
			if rows[i][c] == nil {
				rows[i][c] = next
			} else {
				next = rows[i][c]
			}
		}
		return
	}

	var fill any
	switch strategy {
	case "literal":
		fill = literal
	case "zero":
		fill = int64(0)
		for _, row := range rows {
			if types.IsFloat(row[c]) {
				fill = 0.0
				break
			}
		}
	default:
		fill = columnStat(rows, c, strategy)
	}
	if fill == nil {
		return
	}
	for _, row := range rows {
		if row[c] == nil {
			row[c] = fill
		}
	}
}

// columnStat computes a statistic over the non-null values of column c.
// Mean and median are numeric only; min and max use value ordering.
func columnStat(rows [][]any, c int, stat string) any {
	var values []any
	for _, row := range rows {
		if row[c] != nil {
			values = append(values, row[c])
		}
	}
	if len(values) == 0 {
		return nil
	}
	switch stat {
	case "min":
		return slices.MinFunc(values, types.Compare)
	case "max":
		return slices.MaxFunc(values, types.Compare)
	}

	nums := make([]float64, 0, len(values))
	for _, v := range values {
		if n, ok := types.ToFloat64(v); ok && types.IsNumeric(v) {
			nums = append(nums, n)
		}
	}
	if len(nums) == 0 {
		return nil
	}
	switch stat {
	case "mean":
		sum := 0.0
		for _, n := range nums {
			sum += n
		}
		return sum / float64(len(nums))
	case "median":
		slices.Sort(nums)
		mid := len(nums) / 2
		if len(nums)%2 == 1 {
			return nums[mid]
		}
		return (nums[mid-1] + nums[mid]) / 2
	}
	return nil
}

// DropNullsParams drops rows with nulls in Cols (every column when empty).
type DropNullsParams struct {
	Cols []string `mapstructure:"cols"`
	How  string   `mapstructure:"how"`
}

func (p *DropNullsParams) Validate() error {
	return oneOf("how", p.How, "any", "all")
}

func dropNullsDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "drop_nulls",
		Label:       "Drop Nulls",
		Group:       GroupClean,
		Description: "Drop rows where any (or all) of the columns are null.",
	}, func() *DropNullsParams { return &DropNullsParams{How: "any"} }, dropNulls)
}

func dropNulls(_ context.Context, rel *relation.Relation, p *DropNullsParams, _ *recipe.TransformContext) (*relation.Relation, error) {
	cols, all := slices.Clone(p.Cols), p.How == "all"
	return rel.Then("drop_nulls", func(_ context.Context, f *relation.Frame) (*relation.Frame, error) {
		idx, err := columnsOrAll(f, cols)
		if err != nil {
			return nil, err
		}
		var rows [][]any
		for _, row := range f.Rows {
			nulls := 0
			for _, c := range idx {
				if row[c] == nil {
					nulls++
				}
			}
			drop := nulls > 0
			if all {
				drop = len(idx) > 0 && nulls == len(idx)
			}
			if !drop {
				rows = append(rows, row)
			}
		}
		return f.WithRows(rows), nil
	}), nil
}
