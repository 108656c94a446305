package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"

	"bazelbsp/internal/bes"
	"bazelbsp/internal/config"
	"bazelbsp/internal/diagnostics"
	"bazelbsp/internal/ingest"
	"bazelbsp/internal/process"
	"bazelbsp/internal/spool"
)

// Options configures the top-level facade.
type Options struct {
	// ConfigPath points to the optional JSON config file.
	ConfigPath string
	// Config is used as is when set; ConfigPath is ignored then.
	Config *config.Config
	// Sink receives build notifications. Defaults to logging them.
	Sink          ingest.Sink
	OutputHandler process.OutputHandler
	Log           logr.Logger
}

// toolRunner is the part of process.Controller the facade drives.
type toolRunner interface {
	Execute(ctx context.Context, command string, flags, args []string) (*process.Result, error)
	ExecuteWithEventStreaming(ctx context.Context, command string, flags, args []string) (*process.Result, error)
	Info(ctx context.Context, key string) (string, error)
}

// eventTransport receives the build event stream of one invocation at a time.
type eventTransport interface {
	process.EventStream
	io.Closer
}

var (
	newRunner = func(opts process.Options) toolRunner {
		return process.New(opts)
	}
	newTransport = defaultTransport
)

func resetDeps() {
	newRunner = func(opts process.Options) toolRunner {
		return process.New(opts)
	}
	newTransport = defaultTransport
}

// App wires the build tool controller, the event transport and the ingestor
// for one workspace.
type App struct {
	cfg       config.Config
	log       logr.Logger
	sources   *diagnostics.SourceCache
	ingestor  *ingest.Ingestor
	transport eventTransport
	runner    toolRunner

	// builds holds one token while a build or replay owns the ingestor.
	builds chan struct{}

	execRootMu sync.Mutex
	execRoot   string
}

// New constructs the facade and starts the event transport.
func New(opts Options) (*App, error) {
	var cfg config.Config
	if opts.Config != nil {
		cfg = *opts.Config
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	} else {
		var err error
		cfg, err = config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
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

	a := &App{
		cfg:      cfg,
		log:      log,
		sources:  sources,
		execRoot: cfg.ExecRoot,
		builds:   make(chan struct{}, 1),
	}
	a.ingestor = ingest.New(ingest.Options{
		Sink:          sink,
		Sources:       sources,
		WorkspaceRoot: cfg.WorkspaceRoot,
		ExecRoot:      cfg.ExecRoot,
		Log:           log,
	})

	a.transport, err = newTransport(cfg, a.ingestor.HandleFrame, log)
	if err != nil {
		return nil, fmt.Errorf("start %s transport: %w", cfg.Transport, err)
	}
	a.runner = newRunner(process.Options{
		Binary:        cfg.BazelBinary,
		WorkspaceRoot: cfg.WorkspaceRoot,
		Events:        a.transport,
		OutputHandler: opts.OutputHandler,
		Log:           log,
	})
	return a, nil
}

// Config returns the effective configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Info returns the value of "bazel info <key>".
func (a *App) Info(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", errors.New("info key must not be empty")
	}
	return a.runner.Info(ctx, key)
}

// Close stops the event transport.
func (a *App) Close() error {
	if a == nil || a.transport == nil {
		return nil
	}
	return a.transport.Close()
}

func (a *App) lockBuild(ctx context.Context) error {
	select {
	case a.builds <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) unlockBuild() {
	<-a.builds
}

func defaultTransport(cfg config.Config, handler func([]byte) bool, log logr.Logger) (eventTransport, error) {
	switch cfg.Transport {
	case config.TransportFile:
		return spoolTransport{spool.NewReader(spool.Options{
			Dir:          filepath.Join(os.TempDir(), "bazelbsp"),
			PollInterval: cfg.SpoolPollInterval,
			Handler:      handler,
			Log:          log,
		})}, nil
	default:
		return bes.Start(bes.Options{Handler: handler, Log: log})
	}
}

// spoolTransport has nothing to release between invocations.
type spoolTransport struct {
	*spool.Reader
}

func (spoolTransport) Close() error { return nil }
