// Package deps answers dependency-closure queries over a snapshot of the
// build graph obtained from the build tool's query output.
package deps

import (
	"maps"
	"slices"
)

// Graph is an immutable dependency graph snapshot. Roots are the targets
// requested by the client.
type Graph struct {
	Deps  map[string][]string
	Roots map[string]struct{}
}

func NewGraph(deps map[string][]string, roots ...string) *Graph {
	g := &Graph{Deps: deps, Roots: make(map[string]struct{}, len(roots))}
	if g.Deps == nil {
		g.Deps = make(map[string][]string)
	}
	for _, r := range roots {
		g.Roots[r] = struct{}{}
	}
	return g
}

func (g *Graph) IsRoot(id string) bool {
	_, ok := g.Roots[id]
	return ok
}

// Nodes returns every node id that has outgoing edges or is a root, sorted.
func (g *Graph) Nodes() []string {
	ids := maps.Clone(g.Roots)
	if ids == nil {
		ids = make(map[string]struct{})
	}
	for id := range g.Deps {
		ids[id] = struct{}{}
	}
	return slices.Sorted(maps.Keys(ids))
}

// TransitiveDependencies returns every node reachable from target, excluding
// target itself, sorted.
func TransitiveDependencies(g *Graph, target string) []string {
	return closure(g, target, false)
}

// TransitiveDependenciesWithoutRoots is TransitiveDependencies with roots
// other than target left out of the result. Traversal still continues
// through them.
func TransitiveDependenciesWithoutRoots(g *Graph, target string) []string {
	return closure(g, target, true)
}

func closure(g *Graph, target string, withoutRoots bool) []string {
	visited := map[string]struct{}{target: {}}
	var result []string
	stack := slices.Clone(g.Deps[target])
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		if !withoutRoots || !g.IsRoot(id) {
			result = append(result, id)
		}
		stack = append(stack, g.Deps[id]...)
	}
	slices.Sort(result)
	return result
}
