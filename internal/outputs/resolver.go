// Package outputs accumulates the named file sets and output groups reported
// during one build and resolves output groups into their transitive files.
package outputs

import (
	"maps"
	"slices"
	"sync"
)

// NamedSet is one node of the file set DAG: directly listed file URIs plus
// references to child sets.
type NamedSet struct {
	Files    []string
	Children []string
}

// OutputGroup is what one target contributed to a named output group.
type OutputGroup struct {
	Name     string
	FileSets []string
	// InlineFiles are URIs reported directly on the group rather than via a set.
	InlineFiles []string
}

// Resolver is owned by a single build session. It is not safe for concurrent use.
type Resolver struct {
	namedSets   map[string]NamedSet
	groupRoots  map[string]map[string]struct{}
	groupInline map[string][]string
	rootTargets map[string]struct{}
}

func NewResolver() *Resolver {
	return &Resolver{
		namedSets:   make(map[string]NamedSet),
		groupRoots:  make(map[string]map[string]struct{}),
		groupInline: make(map[string][]string),
		rootTargets: make(map[string]struct{}),
	}
}

// StoreNamedSet records a file set. Storing the same id again replaces the entry.
func (r *Resolver) StoreNamedSet(id string, set NamedSet) {
	r.namedSets[id] = NamedSet{
		Files:    slices.Clone(set.Files),
		Children: slices.Clone(set.Children),
	}
}

// StoreTargetOutputGroups marks target as a root target and adds the file sets
// of each of its groups to the group's accumulator.
func (r *Resolver) StoreTargetOutputGroups(target string, groups []OutputGroup) {
	r.rootTargets[target] = struct{}{}
	for _, g := range groups {
		roots, ok := r.groupRoots[g.Name]
		if !ok {
			roots = make(map[string]struct{})
			r.groupRoots[g.Name] = roots
		}
		for _, id := range g.FileSets {
			roots[id] = struct{}{}
		}
		r.groupInline[g.Name] = append(r.groupInline[g.Name], g.InlineFiles...)
	}
}

// Resolve returns every file URI reachable from the group's root sets, each
// exactly once. Unknown groups resolve to nothing. Sets referenced but never
// stored are skipped, so Resolve is only complete once the build finished.
func (r *Resolver) Resolve(group string) []string {
	return resolve(r.namedSets, r.groupRoots[group], r.groupInline[group])
}

// Freeze returns an immutable snapshot of the accumulated state.
func (r *Resolver) Freeze() *Output {
	groupRoots := make(map[string]map[string]struct{}, len(r.groupRoots))
	for name, roots := range r.groupRoots {
		groupRoots[name] = maps.Clone(roots)
	}
	groupInline := make(map[string][]string, len(r.groupInline))
	for name, files := range r.groupInline {
		groupInline[name] = slices.Clone(files)
	}
	return &Output{
		namedSets:   maps.Clone(r.namedSets),
		groupRoots:  groupRoots,
		groupInline: groupInline,
		rootTargets: maps.Clone(r.rootTargets),
		resolved:    make(map[string][]string),
	}
}

func resolve(namedSets map[string]NamedSet, roots map[string]struct{}, inline []string) []string {
	var files []string
	seenFiles := make(map[string]struct{})
	add := func(uri string) {
		if _, ok := seenFiles[uri]; ok {
			return
		}
		seenFiles[uri] = struct{}{}
		files = append(files, uri)
	}
	for _, uri := range inline {
		add(uri)
	}

	queue := slices.Sorted(maps.Keys(roots))
	visited := make(map[string]struct{}, len(queue))
	for _, id := range queue {
		visited[id] = struct{}{}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		set, ok := namedSets[id]
		if !ok {
			continue
		}
		for _, uri := range set.Files {
			add(uri)
		}
		for _, child := range set.Children {
			if _, ok := visited[child]; ok {
				continue
			}
			visited[child] = struct{}{}
			queue = append(queue, child)
		}
	}
	return files
}

// Output is the frozen per-build snapshot handed to callers after the build
// finished. Group resolution is computed on first use and memoized.
type Output struct {
	namedSets   map[string]NamedSet
	groupRoots  map[string]map[string]struct{}
	groupInline map[string][]string
	rootTargets map[string]struct{}

	mu       sync.Mutex
	resolved map[string][]string
}

// RootTargets returns the targets that reported completion, sorted.
func (o *Output) RootTargets() []string {
	return slices.Sorted(maps.Keys(o.rootTargets))
}

// OutputGroups returns the names of all groups seen during the build, sorted.
func (o *Output) OutputGroups() []string {
	names := make(map[string]struct{}, len(o.groupRoots)+len(o.groupInline))
	for name := range o.groupRoots {
		names[name] = struct{}{}
	}
	for name := range o.groupInline {
		names[name] = struct{}{}
	}
	return slices.Sorted(maps.Keys(names))
}

// FilesByOutputGroup returns the transitive file URIs of the named group.
func (o *Output) FilesByOutputGroup(name string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if files, ok := o.resolved[name]; ok {
		return slices.Clone(files)
	}
	files := resolve(o.namedSets, o.groupRoots[name], o.groupInline[name])
	o.resolved[name] = files
	return slices.Clone(files)
}
