package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"bazelbsp/internal/app"
	"bazelbsp/internal/process"
)

var (
	buildFlags       []string
	buildOutputGroup string
	buildNoSpinner   bool
)

var buildCmd = &cobra.Command{
	Use:   "build TARGET...",
	Short: "Build targets and report diagnostics and outputs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd, "build", args)
	},
}

var testCmd = &cobra.Command{
	Use:   "test TARGET...",
	Short: "Test targets and report diagnostics and outputs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd, "test", args)
	},
}

func init() {
	for _, c := range []*cobra.Command{buildCmd, testCmd} {
		c.Flags().StringArrayVar(&buildFlags, "bazel-flag", nil, "Extra flag passed to bazel (repeatable)")
		c.Flags().StringVar(&buildOutputGroup, "output-group", "default", "Output group whose files are printed")
		c.Flags().BoolVar(&buildNoSpinner, "no-spinner", false, "Do not show a progress spinner")
		rootCmd.AddCommand(c)
	}
}

func runBuild(cmd *cobra.Command, command string, targets []string) error {
	out := cmd.OutOrStdout()
	ctrl, err := controllerFactory(out)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	var spin *spinner.Spinner
	if !buildNoSpinner {
		spin = spinner.New(spinner.CharSets[21], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
		spin.Suffix = fmt.Sprintf(" bazel %s", command)
		spin.Start()
	}
	res, err := ctrl.Build(commandContext(cmd), app.BuildParams{
		Command: command,
		Targets: targets,
		Flags:   buildFlags,
	})
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", command, err)
	}

	printResult(out, res)
	if res.Status != process.StatusOK {
		return fmt.Errorf("bazel %s exited with code %d", command, res.ExitCode)
	}
	return nil
}

func printResult(out io.Writer, res *app.BuildResult) {
	fmt.Fprintf(out, "%s (exit code %d)\n", statusText(res.Status), res.ExitCode)
	if res.Output == nil {
		return
	}
	files := res.Output.FilesByOutputGroup(buildOutputGroup)
	if len(files) == 0 {
		fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("no files in output group %q", buildOutputGroup)))
		return
	}
	for _, f := range files {
		fmt.Fprintln(out, f)
	}
}
