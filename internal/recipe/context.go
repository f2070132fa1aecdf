package recipe

import (
	"context"

	"github.com/dbsmedya/gorecipe/internal/relation"
)

// TransformContext is what a step may see besides its input relation.
// Steps read it and never modify it.
type TransformContext struct {
	// Dataset is the dataset the recipe is being applied to.
	Dataset string
	// Datasets maps every loaded dataset to its base (recipe-unapplied) relations.
	Datasets map[string]relation.Set
	// Recipes maps every loaded dataset to its current recipe.
	Recipes map[string]Recipe
	// Apply returns another dataset's recipe-transformed full view.
	Apply func(ctx context.Context, name string) (relation.Set, error)
}

// Lookup resolves a referenced dataset. With transformed set and an Apply
// callback present, the dataset's recipe is applied first. A dataset that is
// not loaded reports ok == false and no error.
func (tc *TransformContext) Lookup(ctx context.Context, name string, transformed bool) (relation.Set, bool, error) {
	if tc == nil {
		return relation.Set{}, false, nil
	}
	base, ok := tc.Datasets[name]
	if !ok {
		return relation.Set{}, false, nil
	}
	if !transformed || tc.Apply == nil {
		return base, true, nil
	}
	set, err := tc.Apply(ctx, name)
	if err != nil {
		return relation.Set{}, false, err
	}
	return set, true, nil
}
