package steps

import (
	"context"
	"errors"
	"slices"

	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/registry"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

// ColumnsParams names a list of columns.
type ColumnsParams struct {
	Cols []string `mapstructure:"cols"`
}

func (p *ColumnsParams) Validate() error {
	if len(p.Cols) == 0 {
		return errors.New("cols must not be empty")
	}
	return nil
}

func selectColsDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "select_cols",
		Label:       "Select Columns",
		Group:       GroupColumns,
		Description: "Keep only the listed columns, in the listed order.",
	}, func() *ColumnsParams { return &ColumnsParams{} }, selectCols)
}

func selectCols(_ context.Context, rel *relation.Relation, p *ColumnsParams, _ *recipe.TransformContext) (*relation.Relation, error) {
	cols := slices.Clone(p.Cols)
	return rel.Then("select_cols", func(_ context.Context, f *relation.Frame) (*relation.Frame, error) {
		idx, err := f.MustColumns(cols...)
		if err != nil {
			return nil, err
		}
		return project(f, cols, idx), nil
	}), nil
}

func dropColsDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "drop_cols",
		Label:       "Drop Columns",
		Group:       GroupColumns,
		Description: "Remove the listed columns. Missing columns are ignored.",
	}, func() *ColumnsParams { return &ColumnsParams{} }, dropCols)
}

func dropCols(_ context.Context, rel *relation.Relation, p *ColumnsParams, _ *recipe.TransformContext) (*relation.Relation, error) {
	drop := slices.Clone(p.Cols)
	return rel.Then("drop_cols", func(_ context.Context, f *relation.Frame) (*relation.Frame, error) {
		var keep []string
		var idx []int
		for i, c := range f.Columns {
			if !slices.Contains(drop, c) {
				keep = append(keep, c)
				idx = append(idx, i)
			}
		}
		return project(f, keep, idx), nil
	}), nil
}

func project(f *relation.Frame, cols []string, idx []int) *relation.Frame {
	rows := make([][]any, len(f.Rows))
	for r, src := range f.Rows {
		row := make([]any, len(idx))
		for i, p := range idx {
			row[i] = src[p]
		}
		rows[r] = row
	}
	return relation.NewFrame(cols, rows...)
}

// RenameParams renames one column.
type RenameParams struct {
	Old string `mapstructure:"old"`
	New string `mapstructure:"new"`
}

func (p *RenameParams) Validate() error {
	if p.Old == "" || p.New == "" {
		return errors.New("old and new must both be set")
	}
	return nil
}

func renameColDef() registry.Definition {
	return registry.Define(registry.Meta{
		Type:        "rename_col",
		Label:       "Rename Column",
		Group:       GroupColumns,
		Description: "Rename a column.",
	}, func() *RenameParams { return &RenameParams{} }, renameCol)
}

func renameCol(_ context.Context, rel *relation.Relation, p *RenameParams, _ *recipe.TransformContext) (*relation.Relation, error) {
	oldName, newName := p.Old, p.New
	return rel.Then("rename_col", func(_ context.Context, f *relation.Frame) (*relation.Frame, error) {
		idx, err := f.MustColumns(oldName)
		if err != nil {
			return nil, err
		}
		if oldName != newName && f.ColumnIndex(newName) >= 0 {
			return nil, errors.New("column " + newName + " already exists")
		}
		cols := slices.Clone(f.Columns)
		cols[idx[0]] = newName
		return &relation.Frame{Columns: cols, Rows: f.Rows}, nil
	}), nil
}
