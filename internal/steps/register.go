// Package steps implements the built-in transform steps and registers them
// into a step registry.
package steps

import (
	"fmt"
	"slices"

	"github.com/dbsmedya/gorecipe/internal/registry"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

// Step groups shown in capability listings.
const (
	GroupColumns = "Columns"
	GroupRows    = "Rows"
	GroupClean   = "Clean"
	GroupText    = "Text"
	GroupCombine = "Combine"
	GroupAnalyze = "Analyze"
)

// Builtins returns the definitions of every built-in step in listing order.
func Builtins() []registry.Definition {
	return []registry.Definition{
		selectColsDef(),
		dropColsDef(),
		renameColDef(),
		filterRowsDef(),
		sortRowsDef(),
		sliceRowsDef(),
		sampleDef(),
		deduplicateDef(),
		addRowNumberDef(),
		fillNullsDef(),
		dropNullsDef(),
		stringCaseDef(),
		normalizeTextDef(),
		joinDatasetDef(),
		concatDatasetsDef(),
		aggregateDef(),
	}
}

// RegisterBuiltins adds every built-in step to reg.
func RegisterBuiltins(reg *registry.Registry) error {
	for _, def := range Builtins() {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("failed to register built-in steps: %w", err)
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in steps.
func NewRegistry() (*registry.Registry, error) {
	reg := registry.New()
	if err := RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// columnsOrAll resolves names to positions; an empty list selects every column.
func columnsOrAll(f *relation.Frame, names []string) ([]int, error) {
	if len(names) == 0 {
		idx := make([]int, len(f.Columns))
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	return f.MustColumns(names...)
}

func copyRow(row []any) []any {
	return slices.Clone(row)
}

func oneOf(field, value string, valid ...string) error {
	if slices.Contains(valid, value) {
		return nil
	}
	return fmt.Errorf("%s must be one of %v, got %q", field, valid, value)
}
