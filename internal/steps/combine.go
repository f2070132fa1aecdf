package steps

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/registry"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

// JoinParams joins another dataset on key columns. Transformed selects the
// other dataset's recipe-applied view instead of its base relation.
type JoinParams struct {
	Alias       string   `mapstructure:"alias"`
	How         string   `mapstructure:"how"`
	LeftOn      []string `mapstructure:"left_on"`
	RightOn     []string `mapstructure:"right_on"`
	Suffix      string   `mapstructure:"suffix"`
	Transformed bool     `mapstructure:"transformed"`
}

func (p *JoinParams) Validate() error {
	if p.Alias == "" {
		return errors.New("alias must be set")
	}
	if err := oneOf("how", p.How, "inner", "left"); err != nil {
		return err
	}
	if len(p.LeftOn) == 0 {
		return errors.New("left_on must not be empty")
	}
	if len(p.RightOn) == 0 {
		p.RightOn = slices.Clone(p.LeftOn)
	}
	if len(p.LeftOn) != len(p.RightOn) {
		return fmt.Errorf("left_on and right_on must have the same length (%d != %d)", len(p.LeftOn), len(p.RightOn))
	}
	return nil
}

func (p *JoinParams) References() []string {
	return []string{p.Alias}
}

func joinDatasetDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "join_dataset",
		Label:       "Join Dataset",
		Group:       GroupCombine,
		Description: "Join rows of another loaded dataset on key columns. A dataset that is not loaded leaves the input unchanged.",
	}, func() *JoinParams { return &JoinParams{How: "left", Suffix: "_right"} }, joinDataset)
}

func joinDataset(ctx context.Context, rel *relation.Relation, p *JoinParams, tc *recipe.TransformContext) (*relation.Relation, error) {
	other, ok, err := tc.Lookup(ctx, p.Alias, p.Transformed)
	if err != nil {
		return nil, fmt.Errorf("resolve dataset %q: %w", p.Alias, err)
	}
	if !ok {
		return rel, nil
	}
	right := other.Concat()
	alias, inner, suffix := p.Alias, p.How == "inner", p.Suffix
	leftOn, rightOn := slices.Clone(p.LeftOn), slices.Clone(p.RightOn)

	return rel.Then("join_dataset("+alias+")", func(ctx context.Context, f *relation.Frame) (*relation.Frame, error) {
		rf, err := right.Collect(ctx)
		if err != nil {
			return nil, fmt.Errorf("collect %q: %w", alias, err)
		}
		lidx, err := f.MustColumns(leftOn...)
		if err != nil {
			return nil, err
		}
		ridx, err := rf.MustColumns(rightOn...)
		if err != nil {
			return nil, err
		}
		return hashJoin(f, rf, lidx, ridx, inner, suffix), nil
	}), nil
}

func hashJoin(left, right *relation.Frame, lidx, ridx []int, inner bool, suffix string) *relation.Frame {
	var keep []int
	cols := slices.Clone(left.Columns)
	for i, c := range right.Columns {
		if slices.Contains(ridx, i) {
			continue
		}
		if slices.Contains(cols, c) {
			c += suffix
		}
		cols = append(cols, c)
		keep = append(keep, i)
	}

	buckets := make(map[string][]int)
	var buf []byte
	for r, row := range right.Rows {
		if hasNull(row, ridx) {
			continue
		}
		buf = appendKey(buf[:0], row, ridx)
		buckets[string(buf)] = append(buckets[string(buf)], r)
	}

	var rows [][]any
	for _, lrow := range left.Rows {
		var matched []int
		if !hasNull(lrow, lidx) {
			buf = appendKey(buf[:0], lrow, lidx)
			matched = buckets[string(buf)]
		}
		if len(matched) == 0 {
			if !inner {
				row := make([]any, len(cols))
				copy(row, lrow)
				rows = append(rows, row)
			}
			continue
		}
		for _, r := range matched {
			row := make([]any, 0, len(cols))
			row = append(row, lrow...)
			for _, i := range keep {
				row = append(row, right.Rows[r][i])
			}
			rows = append(rows, row)
		}
	}
	return relation.NewFrame(cols, rows...)
}

func hasNull(row []any, idx []int) bool {
	for _, i := range idx {
		if row[i] == nil {
			return true
		}
	}
	return false
}

// ConcatDatasetsParams appends other datasets below the input, aligning
// columns by name.
type ConcatDatasetsParams struct {
	Datasets    []string `mapstructure:"datasets"`
	Transformed bool     `mapstructure:"transformed"`
}

func (p *ConcatDatasetsParams) Validate() error {
	if len(p.Datasets) == 0 {
		return errors.New("datasets must not be empty")
	}
	return nil
}

func (p *ConcatDatasetsParams) References() []string {
	return slices.Clone(p.Datasets)
}

func concatDatasetsDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "concat_datasets",
		Label:       "Append Datasets",
		Group:       GroupCombine,
		Description: "Diagonally concatenate other loaded datasets; missing datasets are skipped.",
	}, func() *ConcatDatasetsParams { return &ConcatDatasetsParams{} }, concatDatasets)
}

func concatDatasets(ctx context.Context, rel *relation.Relation, p *ConcatDatasetsParams, tc *recipe.TransformContext) (*relation.Relation, error) {
	members := []*relation.Relation{rel}
	for _, name := range p.Datasets {
		other, ok, err := tc.Lookup(ctx, name, p.Transformed)
		if err != nil {
			return nil, fmt.Errorf("resolve dataset %q: %w", name, err)
		}
		if ok {
			members = append(members, other.Concat())
		}
	}
	if len(members) == 1 {
		return rel, nil
	}
	return relation.Concat(members...), nil
}
