package app

import (
	"context"
	"errors"

	"bazelbsp/internal/deps"
)

// DepsParams selects the targets whose dependency closure is requested.
type DepsParams struct {
	Targets []string
	// ExcludeRoots leaves the other requested targets out of each closure.
	ExcludeRoots bool
}

// Dependencies returns the transitive dependencies of every requested target.
func (a *App) Dependencies(ctx context.Context, params DepsParams) (map[string][]string, error) {
	if len(params.Targets) == 0 {
		return nil, errors.New("at least one target is required")
	}
	res, err := a.query(ctx, params.Targets)
	if err != nil {
		return nil, err
	}
	a.cacheSources(res)

	g := res.Graph(params.Targets...)
	closure := deps.TransitiveDependencies
	if params.ExcludeRoots {
		closure = deps.TransitiveDependenciesWithoutRoots
	}
	out := make(map[string][]string, len(params.Targets))
	for _, t := range params.Targets {
		out[t] = closure(g, t)
	}
	return out, nil
}
