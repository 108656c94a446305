package app

import (
	"fmt"

	"github.com/go-logr/logr"

	"bazelbsp/internal/bes"
	"bazelbsp/internal/config"
	"bazelbsp/internal/diagnostics"
	"bazelbsp/internal/ingest"
)

// ListenOptions configures a build event endpoint for builds started by
// someone else, e.g. a developer passing --bes_backend by hand.
type ListenOptions struct {
	ConfigPath string
	// Address defaults to a free loopback port.
	Address string
	Sink    ingest.Sink
	Log     logr.Logger
}

// Listen starts a Build Event Service endpoint that ingests every stream it
// receives. Target sources are unknown to it, so stale diagnostics are only
// cleared for files a build reports again.
func Listen(opts ListenOptions) (*bes.Server, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	sink := opts.Sink
	if sink == nil {
		sink = logSink{log: log.WithName("notifications")}
	}
	sources, err := diagnostics.NewSourceCache(cfg.SourceCacheSize)
	if err != nil {
		return nil, fmt.Errorf("source cache: %w", err)
	}

	in := ingest.New(ingest.Options{
		Sink:          sink,
		Sources:       sources,
		WorkspaceRoot: cfg.WorkspaceRoot,
		ExecRoot:      cfg.ExecRoot,
		Log:           log,
	})
	return bes.Start(bes.Options{Address: opts.Address, Handler: in.HandleFrame, Log: log})
}
