// gosync runs pipelines of ordered steps under a per-pipeline lock, with
// their logs routed to files, mail, Telegram and a message broker.
//
// Usage:
//
//	gosync [-c config.yaml] [-p pipelines/] <command> [flags]
//
// Commands:
//
//	run       Run one pipeline now
//	validate  Check pipeline definitions without running them
//	graph     Print the step dependency graph of a pipeline in DOT format
//	schedule  Run pipelines on their cron schedules until stopped
//	version   Print build information
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nomis52/gosync/buildinfo"
)

const defaultPipelinesPath = "pipelines"

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath    string
	pipelinesPath string
	logLevel      string
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and returns the process exit code.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "gosync",
		Short:         "Run pipelines of ordered steps with locking and alerting",
		Version:       buildinfo.Get().Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file (environment only when empty)")
	root.PersistentFlags().StringVarP(&opts.pipelinesPath, "pipelines", "p", defaultPipelinesPath, "Pipeline definition file or directory")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the process log level (debug, info, warn, error, alert)")

	root.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newGraphCmd(opts),
		newScheduleCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Get().String())
			return nil
		},
	}
}
