package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/dbsmedya/gorecipe/internal/dataset"
	"github.com/dbsmedya/gorecipe/internal/graph"
	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

// Resolver builds the TransformContext a recipe runs with.
type Resolver struct {
	datasets *dataset.Registry
	exec     *Executor
}

// NewResolver creates a resolver over the loaded datasets.
func NewResolver(datasets *dataset.Registry, exec *Executor) *Resolver {
	return &Resolver{datasets: datasets, exec: exec}
}

// Resolve returns the context for running requesting's recipe. Datasets
// holds every loaded dataset's base relations; Apply returns another
// dataset's transformed full view. Resolve never fails.
func (r *Resolver) Resolve(requesting string) *recipe.TransformContext {
	st := r.datasets.State()
	return r.build(requesting, st.Bases, st.Recipes, []string{requesting})
}

// build wires Apply so that nested lookups share one snapshot and the chain
// of datasets being applied, which is how recursion is caught.
func (r *Resolver) build(requesting string, bases map[string]relation.Set, recipes map[string]recipe.Recipe, chain []string) *recipe.TransformContext {
	tc := &recipe.TransformContext{
		Dataset:  requesting,
		Datasets: bases,
		Recipes:  recipes,
	}
	tc.Apply = func(ctx context.Context, name string) (relation.Set, error) {
		if i := slices.Index(chain, name); i >= 0 {
			path := append(slices.Clone(chain[i:]), name)
			return relation.Set{}, &graph.CycleError{Info: &graph.CycleInfo{
				TotalNodes:        len(bases),
				UnprocessedNodes:  slices.Clone(chain),
				CycleParticipants: slices.Clone(chain[i:]),
				CyclePath:         path,
			}}
		}
		base, ok := bases[name]
		if !ok {
			return relation.Set{}, fmt.Errorf("%w: %q", ErrDatasetNotFound, name)
		}
		next := r.build(name, bases, recipes, append(slices.Clone(chain), name))
		return r.exec.ApplySet(ctx, base, recipes[name], next)
	}
	return tc
}

// Dependencies builds the graph of datasets whose recipes reference others.
func (r *Resolver) Dependencies() *graph.Graph {
	st := r.datasets.State()
	return graph.Build(st.Names, st.Recipes, r.exec.Steps())
}

// Order returns every loaded dataset with referenced datasets first. It fails
// with a graph.CycleError when recipes reference each other in a loop.
func (r *Resolver) Order() ([]string, error) {
	return r.Dependencies().TopologicalSort()
}
