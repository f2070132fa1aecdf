package steps

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/registry"
	"github.com/dbsmedya/gorecipe/internal/relation"
	"github.com/dbsmedya/gorecipe/internal/types"
)

var aggOps = []string{"sum", "mean", "median", "min", "max", "count", "n_unique", "first", "last"}

// AggSpec computes one output column.
type AggSpec struct {
	Col   string `mapstructure:"col"`
	Op    string `mapstructure:"op"`
	Alias string `mapstructure:"alias"`
}

// AggregateParams groups rows by GroupBy (all rows when empty) and computes Aggs.
type AggregateParams struct {
	GroupBy []string  `mapstructure:"group_by"`
	Aggs    []AggSpec `mapstructure:"aggs"`
}

func (p *AggregateParams) Validate() error {
	if len(p.Aggs) == 0 {
		return errors.New("aggs must not be empty")
	}
	seen := map[string]bool{}
	for _, g := range p.GroupBy {
		seen[g] = true
	}
	for i := range p.Aggs {
		a := &p.Aggs[i]
		if a.Col == "" {
			return fmt.Errorf("aggs[%d]: col must be set", i)
		}
		if err := oneOf(fmt.Sprintf("aggs[%d].op", i), a.Op, aggOps...); err != nil {
			return err
		}
		if a.Alias == "" {
			a.Alias = a.Col + "_" + a.Op
		}
		if seen[a.Alias] {
			return fmt.Errorf("aggs[%d]: duplicate output column %q", i, a.Alias)
		}
		seen[a.Alias] = true
	}
	return nil
}

func aggregateDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "aggregate",
		Label:       "Group & Aggregate",
		Group:       GroupAnalyze,
		Description: "Group rows and compute aggregates. Runs over the whole dataset.",
		Scope:       registry.ScopeWholeDataset,
	}, func() *AggregateParams { return &AggregateParams{} }, aggregate)
}

func aggregate(_ context.Context, rel *relation.Relation, p *AggregateParams, _ *recipe.TransformContext) (*relation.Relation, error) {
	groupBy, aggs := slices.Clone(p.GroupBy), slices.Clone(p.Aggs)
	return rel.Then("aggregate", func(_ context.Context, f *relation.Frame) (*relation.Frame, error) {
		gidx, err := f.MustColumns(groupBy...)
		if err != nil {
			return nil, err
		}
		aidx := make([]int, len(aggs))
		for i, a := range aggs {
			p, err := f.MustColumns(a.Col)
			if err != nil {
				return nil, err
			}
			aidx[i] = p[0]
		}

		var order []string
		groups := make(map[string][]int)
		var buf []byte
		for r, row := range f.Rows {
			buf = appendKey(buf[:0], row, gidx)
			k := string(buf)
			if _, ok := groups[k]; !ok {
				order = append(order, k)
			}
			groups[k] = append(groups[k], r)
		}
		if len(gidx) == 0 && len(order) == 0 {
			order = append(order, "")
			groups[""] = nil
		}

		cols := slices.Clone(groupBy)
		for _, a := range aggs {
			cols = append(cols, a.Alias)
		}
		rows := make([][]any, 0, len(order))
		for _, k := range order {
			members := groups[k]
			row := make([]any, 0, len(cols))
			for _, g := range gidx {
				row = append(row, f.Rows[members[0]][g])
			}
			for i, a := range aggs {
				row = append(row, aggregateValues(f.Rows, members, aidx[i], a.Op))
			}
			rows = append(rows, row)
		}
		return relation.NewFrame(cols, rows...), nil
	}), nil
}

func aggregateValues(rows [][]any, members []int, c int, op string) any {
	var values []any
	for _, r := range members {
		if v := rows[r][c]; v != nil {
			values = append(values, v)
		}
	}
	switch op {
	case "count":
		return int64(len(values))
	case "n_unique":
		seen := map[string]bool{}
		var buf []byte
		for _, v := range values {
			buf = appendKey(buf[:0], []any{v}, []int{0})
			seen[string(buf)] = true
		}
		return int64(len(seen))
	case "first":
		if len(values) == 0 {
			return nil
		}
		return values[0]
	case "last":
		if len(values) == 0 {
			return nil
		}
		return values[len(values)-1]
	case "sum":
		allInt := true
		var isum int64
		var fsum float64
		for _, v := range values {
			if !types.IsNumeric(v) {
				continue
			}
			if types.IsFloat(v) {
				allInt = false
			}
			n, _ := types.ToInt64(v)
			fv, _ := types.ToFloat64(v)
			isum += n
			fsum += fv
		}
		if allInt {
			return isum
		}
		return fsum
	}
	wrapped := make([][]any, len(values))
	for i, v := range values {
		wrapped[i] = []any{v}
	}
	return columnStat(wrapped, 0, op)
}
