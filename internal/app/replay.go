package app

import (
	"context"

	"bazelbsp/internal/outputs"
	"bazelbsp/internal/spool"
)

// ReplayResult describes an ingested spool file.
type ReplayResult struct {
	Events int
	Output *outputs.Output
}

// Replay ingests a spool file written by an earlier build.
func (a *App) Replay(ctx context.Context, path string) (*ReplayResult, error) {
	if err := a.lockBuild(ctx); err != nil {
		return nil, err
	}
	defer a.unlockBuild()

	before := a.ingestor.Output()
	n, err := spool.Replay(ctx, path, a.ingestor.HandleFrame)
	if err != nil {
		return nil, err
	}
	res := &ReplayResult{Events: n}
	if out := a.ingestor.Output(); out != before {
		res.Output = out
	}
	return res, nil
}
