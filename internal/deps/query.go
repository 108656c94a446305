package deps

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"bazelbsp/internal/pbwire"
)

// blaze_query.Target.Discriminator
const (
	targetRule       = 1
	targetSourceFile = 2
)

// Rule is a rule target of a query result.
type Rule struct {
	Name   string
	Class  string
	Inputs []string
	Srcs   []string
}

// QueryResult is the decoded output of "bazel query --output=streamed_proto".
type QueryResult struct {
	Rules       map[string]Rule
	SourceFiles map[string]struct{}
}

// QueryExpression returns the query that yields the graph of targets.
func QueryExpression(targets []string) string {
	return "deps(set(" + strings.Join(targets, " ") + "))"
}

// ParseStreamedQuery decodes a stream of length-delimited blaze_query.Target
// messages.
func ParseStreamedQuery(r io.Reader) (*QueryResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read query output: %w", err)
	}
	res := &QueryResult{
		Rules:       make(map[string]Rule),
		SourceFiles: make(map[string]struct{}),
	}
	for n := 1; len(data) > 0; n++ {
		msg, rest, err := pbwire.NextFrame(data)
		if errors.Is(err, pbwire.ErrShortFrame) {
			return nil, fmt.Errorf("query target %d: %w", n, io.ErrUnexpectedEOF)
		}
		if err != nil {
			return nil, fmt.Errorf("query target %d: %w", n, err)
		}
		data = rest
		if err := res.addTarget(msg); err != nil {
			return nil, fmt.Errorf("query target %d: %w", n, err)
		}
	}
	return res, nil
}

func (res *QueryResult) addTarget(b []byte) error {
	var (
		kind   uint64
		rule   *Rule
		source string
	)
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			kind = f.Varint
		case 2:
			r, err := decodeRule(f.Bytes)
			if err != nil {
				return err
			}
			rule = &r
		case 3:
			return pbwire.Walk(f.Bytes, func(f pbwire.Field) error {
				if f.Num == 1 {
					source = f.String()
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	switch {
	case kind == targetRule && rule != nil:
		if rule.Name == "" {
			return errors.New("rule without name")
		}
		res.Rules[rule.Name] = *rule
	case kind == targetSourceFile && source != "":
		res.SourceFiles[source] = struct{}{}
	}
	return nil
}

func decodeRule(b []byte) (Rule, error) {
	var r Rule
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			r.Name = f.String()
		case 2:
			r.Class = f.String()
		case 4:
			return decodeAttribute(f.Bytes, &r)
		case 5:
			r.Inputs = append(r.Inputs, f.String())
		}
		return nil
	})
	return r, err
}

func decodeAttribute(b []byte, r *Rule) error {
	var (
		name   string
		values []string
	)
	err := pbwire.Walk(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			name = f.String()
		case 6:
			values = append(values, f.String())
		}
		return nil
	})
	if err == nil && name == "srcs" {
		r.Srcs = values
	}
	return err
}

// Graph builds the dependency graph between the rules of the result.
// Edges to source files and to targets outside the result are dropped.
func (res *QueryResult) Graph(roots ...string) *Graph {
	edges := make(map[string][]string, len(res.Rules))
	for name, rule := range res.Rules {
		var deps []string
		for _, in := range rule.Inputs {
			if _, ok := res.Rules[in]; ok {
				deps = append(deps, in)
			}
		}
		edges[name] = deps
	}
	return NewGraph(edges, roots...)
}

// Sources maps every rule to the workspace paths of its source files.
// Sources in external repositories are left out.
func (res *QueryResult) Sources(workspaceRoot string) map[string][]string {
	out := make(map[string][]string, len(res.Rules))
	for _, name := range slices.Sorted(maps.Keys(res.Rules)) {
		var paths []string
		for _, src := range res.Rules[name].Srcs {
			if _, isRule := res.Rules[src]; isRule {
				continue
			}
			if p, ok := LabelPath(workspaceRoot, src); ok {
				paths = append(paths, p)
			}
		}
		out[name] = paths
	}
	return out
}

// LabelPath converts a label of the main repository to a path under
// workspaceRoot.
func LabelPath(workspaceRoot, label string) (string, bool) {
	rest := strings.TrimLeft(label, "@")
	if len(rest) != len(label) {
		// only the main repository, spelled @// or @@//
		if !strings.HasPrefix(rest, "//") {
			return "", false
		}
	}
	rest, ok := strings.CutPrefix(rest, "//")
	if !ok {
		return "", false
	}
	pkg, name, found := strings.Cut(rest, ":")
	if !found {
		name = filepath.Base(pkg)
	}
	if name == "" {
		return "", false
	}
	return filepath.Join(workspaceRoot, filepath.FromSlash(pkg), filepath.FromSlash(name)), true
}
