package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"bazelbsp/internal/deps"
	"bazelbsp/internal/outputs"
	"bazelbsp/internal/process"
)

// BuildParams selects what to build.
type BuildParams struct {
	// Command is the tool command, "build" if empty.
	Command string
	Targets []string
	Flags   []string
}

// BuildResult is returned once the build's event stream has been ingested.
type BuildResult struct {
	Status   process.Status
	ExitCode int
	// Output is nil when the tool reported no finished build.
	Output *outputs.Output
	Stderr []string
}

// Build runs the tool with event streaming. Diagnostics are published to the
// sink while the build runs.
func (a *App) Build(ctx context.Context, params BuildParams) (*BuildResult, error) {
	if len(params.Targets) == 0 {
		return nil, errors.New("at least one target is required")
	}
	command := params.Command
	if command == "" {
		command = "build"
	}

	// The requested targets and the output snapshot belong to one build at a
	// time; a second build waits here until the first one has been ingested.
	if err := a.lockBuild(ctx); err != nil {
		return nil, err
	}
	defer a.unlockBuild()

	a.ensureExecRoot(ctx)
	if err := a.primeSources(ctx, params.Targets); err != nil {
		// Stale diagnostics are not cleared for these targets, the build still runs.
		a.log.Error(err, "could not resolve target sources", "targets", params.Targets)
	}

	before := a.ingestor.Output()
	a.ingestor.SetRequestedTargets(params.Targets)
	res, err := a.runner.ExecuteWithEventStreaming(ctx, command, params.Flags, params.Targets)
	if err != nil {
		return nil, err
	}

	result := &BuildResult{
		Status:   res.Status,
		ExitCode: res.ExitCode,
		Stderr:   res.Stderr,
	}
	if out := a.ingestor.Output(); out != before {
		result.Output = out
	}
	return result, nil
}

// ensureExecRoot asks the tool for its execution root once, unless configured.
func (a *App) ensureExecRoot(ctx context.Context) {
	a.execRootMu.Lock()
	defer a.execRootMu.Unlock()
	if a.execRoot != "" {
		return
	}
	root, err := a.runner.Info(ctx, "execution_root")
	if err != nil {
		a.log.Error(err, "could not resolve execution root, relative outputs stay unresolved")
		return
	}
	a.execRoot = root
	a.ingestor.SetExecRoot(root)
}

// primeSources fills the source cache for targets it does not know yet.
func (a *App) primeSources(ctx context.Context, targets []string) error {
	var missing []string
	for _, t := range targets {
		if !a.sources.Has(t) {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	res, err := a.query(ctx, missing)
	if err != nil {
		return err
	}
	a.cacheSources(res)
	for _, t := range missing {
		// remember targets the query did not report, so they are not queried again
		if !a.sources.Has(t) {
			a.sources.Put(t, nil)
		}
	}
	return nil
}

func (a *App) cacheSources(res *deps.QueryResult) {
	for target, paths := range res.Sources(a.cfg.WorkspaceRoot) {
		a.sources.Put(target, paths)
	}
}

// query runs "bazel query --output=streamed_proto" over the dependencies of
// targets. The binary output goes through a file since the controller
// captures text lines.
func (a *App) query(ctx context.Context, targets []string) (*deps.QueryResult, error) {
	f, err := os.CreateTemp("", "bazelbsp-query-*.pb")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	_ = f.Close()
	defer os.Remove(path)

	flags := []string{"--output=streamed_proto", "--keep_going", "--output_file=" + path}
	res, err := a.runner.Execute(ctx, "query", flags, []string{deps.QueryExpression(targets)})
	if err != nil {
		return nil, err
	}
	if res.Status != process.StatusOK {
		// --keep_going still writes the part of the graph that could be loaded
		a.log.Info("query finished with errors", "exitCode", res.ExitCode)
	}

	out, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	qr, err := deps.ParseStreamedQuery(out)
	if err != nil {
		return nil, fmt.Errorf("parse query output: %w", err)
	}
	return qr, nil
}
