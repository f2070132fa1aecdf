package graph

import (
	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/registry"
)

// Build creates the dependency graph of the named datasets from their recipes.
// References to datasets outside names are ignored, since such steps are
// no-ops. A dataset reading its own base relation adds no edge, and steps of
// unknown type reference nothing.
func Build(names []string, recipes map[string]recipe.Recipe, reg *registry.Registry) *Graph {
	g := NewGraph()
	known := make(map[string]bool, len(names))
	for _, n := range names {
		g.AddNode(n)
		known[n] = true
	}
	for _, n := range names {
		for _, step := range recipes[n] {
			def, ok := reg.Get(step.Type)
			if !ok {
				continue
			}
			for _, ref := range def.References(step.Params) {
				if known[ref] && ref != n {
					g.AddEdge(ref, n)
				}
			}
		}
	}
	return g
}
