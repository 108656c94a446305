package main

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"bazelbsp/internal/app"
	"bazelbsp/internal/ingest"
	"bazelbsp/internal/tui"
)

var tuiFlags []string

func init() {
	cmdTUI.Flags().StringArrayVar(&tuiFlags, "bazel-flag", nil, "Extra flag passed to bazel (repeatable)")
	rootCmd.AddCommand(cmdTUI)
}

var cmdTUI = &cobra.Command{
	Use:   "tui TARGET...",
	Short: "Build targets in an interactive terminal UI",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		factory := func(sink ingest.Sink) (tui.Controller, error) {
			// Logging stays off while the alt screen owns the terminal.
			return app.New(app.Options{ConfigPath: configPath, Sink: sink, Log: logr.Discard()})
		}
		if err := tui.Run(factory, app.BuildParams{Targets: args, Flags: tuiFlags}); err != nil {
			return fmt.Errorf("tui exited with error: %w", err)
		}
		return nil
	},
}
