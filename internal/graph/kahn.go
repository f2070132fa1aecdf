package graph

import (
	"container/list"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrCycleDetected is returned when recipes reference each other in a loop.
var ErrCycleDetected = errors.New("cycle detected in dataset dependencies")

// CycleInfo describes the nodes Kahn's algorithm could not order.
type CycleInfo struct {
	TotalNodes        int
	ProcessedNodes    int
	UnprocessedNodes  []string // part of a cycle or blocked by one
	CycleParticipants []string // subset of UnprocessedNodes that lie on a cycle
	CyclePath         []string // e.g. [a, b, a]
}

// CycleError reports a dependency cycle.
type CycleError struct {
	Info *CycleInfo
}

func (e *CycleError) Error() string {
	msg := fmt.Sprintf("%s: %d of %d datasets could not be ordered",
		ErrCycleDetected, len(e.Info.UnprocessedNodes), e.Info.TotalNodes)
	if len(e.Info.CyclePath) > 0 {
		msg += fmt.Sprintf("\nCycle path: %s", strings.Join(e.Info.CyclePath, " -> "))
	}
	return msg
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}

// CalculateInDegrees counts incoming edges per node.
func (g *Graph) CalculateInDegrees() map[string]int {
	inDegree := make(map[string]int, len(g.Nodes))
	for name := range g.Nodes {
		inDegree[name] = 0
	}
	for _, children := range g.Children {
		for _, child := range children {
			inDegree[child]++
		}
	}
	return inDegree
}

// kahn runs Kahn's algorithm and returns the nodes it could order.
func (g *Graph) kahn() []string {
	inDegree := g.CalculateInDegrees()
	queue := list.New()
	for _, name := range g.sortedNodes() {
		if inDegree[name] == 0 {
			queue.PushBack(name)
		}
	}

	var order []string
	for queue.Len() > 0 {
		node := queue.Remove(queue.Front()).(string)
		order = append(order, node)

		children := slices.Clone(g.GetChildren(node))
		slices.Sort(children)
		for _, child := range children {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue.PushBack(child)
			}
		}
	}
	return order
}

// TopologicalSort returns datasets so that every dataset comes after the
// datasets it reads. Returns a *CycleError if recipes form a cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	order := g.kahn()
	if len(order) != len(g.Nodes) {
		return nil, &CycleError{Info: g.DetectIncompleteProcessing()}
	}
	return order, nil
}

// DetectIncompleteProcessing returns nil when every node can be ordered, and
// a description of the blocked nodes otherwise.
func (g *Graph) DetectIncompleteProcessing() *CycleInfo {
	order := g.kahn()
	if len(order) == len(g.Nodes) {
		return nil
	}

	processed := make(map[string]bool, len(order))
	for _, n := range order {
		processed[n] = true
	}
	unprocessed := make(map[string]bool)
	var names []string
	for _, n := range g.sortedNodes() {
		if !processed[n] {
			unprocessed[n] = true
			names = append(names, n)
		}
	}

	var participants []string
	for _, n := range names {
		if g.canReach(n, n, unprocessed) {
			participants = append(participants, n)
		}
	}

	info := &CycleInfo{
		TotalNodes:        len(g.Nodes),
		ProcessedNodes:    len(order),
		UnprocessedNodes:  names,
		CycleParticipants: participants,
	}
	if len(participants) > 0 {
		info.CyclePath = g.FindCyclePath(participants[0], unprocessed)
	}
	return info
}

// HasCycle reports whether the graph contains a cycle.
func (g *Graph) HasCycle() bool {
	return g.DetectIncompleteProcessing() != nil
}

// FindCyclePath returns a cycle through start using only allowed nodes, with
// start at both ends, or nil.
func (g *Graph) FindCyclePath(start string, allowed map[string]bool) []string {
	path := []string{start}
	visited := make(map[string]bool)
	var dfs func(current string) bool
	dfs = func(current string) bool {
		for _, child := range g.GetChildren(current) {
			if !allowed[child] {
				continue
			}
			if child == start {
				path = append(path, start)
				return true
			}
			if visited[child] {
				continue
			}
			visited[child] = true
			path = append(path, child)
			if dfs(child) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}
	if dfs(start) {
		return path
	}
	return nil
}

// canReach reports whether target is reachable from start in one or more
// steps through allowed nodes.
func (g *Graph) canReach(start, target string, allowed map[string]bool) bool {
	visited := make(map[string]bool)
	stack := slices.Clone(g.GetChildren(start))
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if visited[n] || !allowed[n] {
			continue
		}
		visited[n] = true
		stack = append(stack, g.GetChildren(n)...)
	}
	return false
}

// Validate fails with a *CycleError if the graph has a cycle.
func (g *Graph) Validate() error {
	if info := g.DetectIncompleteProcessing(); info != nil {
		return &CycleError{Info: info}
	}
	return nil
}
