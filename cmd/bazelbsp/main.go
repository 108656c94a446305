package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"bazelbsp/internal/logger"
)

var (
	configPath string
	rootLog    = logger.New("bazelbsp")
)

var rootCmd = &cobra.Command{
	Use:   "bazelbsp [command]",
	Short: "bazelbsp: drive Bazel builds and observe their build events",
	Long: `bazelbsp runs Bazel with its build event stream directed at itself and turns the
stream into build status, output locations and compiler diagnostics.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to JSON config file")
	rootLog.AddLevelFlag(rootCmd.PersistentFlags())
}

func main() {
	defer rootLog.Flush()
	if err := rootCmd.Execute(); err != nil {
		rootLog.Flush()
		log.Fatal(err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
