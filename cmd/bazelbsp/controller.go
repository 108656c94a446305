package main

import (
	"context"
	"io"

	"bazelbsp/internal/app"
	"bazelbsp/internal/process"
)

// controllerAPI is the part of app.App the commands use.
type controllerAPI interface {
	Build(ctx context.Context, params app.BuildParams) (*app.BuildResult, error)
	Dependencies(ctx context.Context, params app.DepsParams) (map[string][]string, error)
	Replay(ctx context.Context, path string) (*app.ReplayResult, error)
	Info(ctx context.Context, key string) (string, error)
	Close() error
}

// controllerFactory builds the controller; notifications are printed to out.
var controllerFactory = func(out io.Writer) (controllerAPI, error) {
	return app.New(app.Options{
		ConfigPath: configPath,
		Sink:       newPrinter(out),
		OutputHandler: func(stream process.Stream, line string) {
			rootLog.V(1).Info(line, "stream", stream.String())
		},
		Log: rootLog.Logger,
	})
}
