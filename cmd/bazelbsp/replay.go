package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var replayOutputGroup string

var replayCmd = &cobra.Command{
	Use:   "replay FILE",
	Short: "Feed a recorded binary build event file through the ingestor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctrl, err := controllerFactory(out)
		if err != nil {
			return err
		}
		defer ctrl.Close()

		res, err := ctrl.Replay(commandContext(cmd), args[0])
		if err != nil {
			return fmt.Errorf("replay failed: %w", err)
		}
		fmt.Fprintf(out, "replayed %d events\n", res.Events)
		if res.Output == nil {
			return nil
		}
		for _, f := range res.Output.FilesByOutputGroup(replayOutputGroup) {
			fmt.Fprintln(out, f)
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayOutputGroup, "output-group", "default", "Output group whose files are printed")
	rootCmd.AddCommand(replayCmd)
}
