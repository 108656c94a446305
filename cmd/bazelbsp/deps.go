package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"bazelbsp/internal/app"
)

var depsExcludeRoots bool

var depsCmd = &cobra.Command{
	Use:   "deps TARGET...",
	Short: "Print the transitive dependencies of targets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctrl, err := controllerFactory(out)
		if err != nil {
			return err
		}
		defer ctrl.Close()

		closure, err := ctrl.Dependencies(commandContext(cmd), app.DepsParams{
			Targets:      args,
			ExcludeRoots: depsExcludeRoots,
		})
		if err != nil {
			return fmt.Errorf("deps failed: %w", err)
		}

		roots := make([]string, 0, len(closure))
		for root := range closure {
			roots = append(roots, root)
		}
		sort.Strings(roots)
		for _, root := range roots {
			fmt.Fprintf(out, "%s: %s\n", okStyle.Render(root), strings.Join(closure[root], " "))
		}
		return nil
	},
}

func init() {
	depsCmd.Flags().BoolVar(&depsExcludeRoots, "exclude-roots", false, "Leave the requested targets out of each closure")
	rootCmd.AddCommand(depsCmd)
}
