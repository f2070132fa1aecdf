// Package graph provides the dataset dependency graph: which datasets a
// dataset's recipe reads from, the order datasets can be evaluated in, and
// cycle detection.
package graph

import "slices"

// Graph is a directed graph of datasets. An edge dependency -> dependent
// means the dependent's recipe reads the dependency.
type Graph struct {
	Nodes    map[string]bool     // dataset name -> present
	Children map[string][]string // dataset -> datasets that read it (outgoing edges)
	Parents  map[string][]string // dataset -> datasets it reads (incoming edges)
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:    make(map[string]bool),
		Children: make(map[string][]string),
		Parents:  make(map[string][]string),
	}
}

// AddNode adds a dataset node.
func (g *Graph) AddNode(name string) {
	g.Nodes[name] = true
}

// AddEdge records that dependent reads dependency. Both nodes are added, and
// repeated edges are stored once.
func (g *Graph) AddEdge(dependency, dependent string) {
	g.AddNode(dependency)
	g.AddNode(dependent)
	if slices.Contains(g.Children[dependency], dependent) {
		return
	}
	g.Children[dependency] = append(g.Children[dependency], dependent)
	g.Parents[dependent] = append(g.Parents[dependent], dependency)
}

// GetChildren returns the datasets that read name.
func (g *Graph) GetChildren(name string) []string {
	return g.Children[name]
}

// GetParents returns the datasets name reads.
func (g *Graph) GetParents(name string) []string {
	return g.Parents[name]
}

// sortedNodes returns node names in lexical order so traversal results are
// stable across runs.
func (g *Graph) sortedNodes() []string {
	names := make([]string, 0, len(g.Nodes))
	for n := range g.Nodes {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Dependencies returns every dataset name reads, directly or transitively.
func (g *Graph) Dependencies(name string) []string {
	seen := map[string]bool{name: true}
	var out []string
	stack := slices.Clone(g.Parents[name])
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
		stack = append(stack, g.Parents[n]...)
	}
	slices.Sort(out)
	return out
}
