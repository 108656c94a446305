package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info KEY",
	Short: "Print a single bazel info value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, err := controllerFactory(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer ctrl.Close()

		value, err := ctrl.Info(commandContext(cmd), args[0])
		if err != nil {
			return fmt.Errorf("info failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
