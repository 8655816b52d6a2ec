package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nomis52/gosync/logging"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		verbose    int
		quiet      bool
		overlap    bool
		profileSQL bool
		echo       bool
		env        string
		inputs     []string
	)

	cmd := &cobra.Command{
		Use:   "run PIPELINE",
		Short: "Run one pipeline now",
		Long: `Run one pipeline now and mirror its log to the console.

Exits 1 when the pipeline cannot start (invalid definition, overlapping
run, unreachable database) or when a step stops the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			def, err := a.definition(args[0])
			if err != nil {
				return err
			}

			ov := runOverrides{
				env:       env,
				console:   cmd.OutOrStdout(),
				verbosity: logging.VerbosityFromCount(quiet, verbose),
			}
			if cmd.Flags().Changed("allow-overlapping") {
				ov.overlap = &overlap
			}
			if cmd.Flags().Changed("profile-sql") {
				ov.profileSQL = &profileSQL
			}
			if cmd.Flags().Changed("echo") {
				ov.echo = &echo
			}
			if len(inputs) > 0 {
				ov.shared = make(map[string]any, len(inputs))
				for _, kv := range inputs {
					key, value, ok := strings.Cut(kv, "=")
					if !ok || key == "" {
						return fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
					}
					ov.shared[key] = value
				}
			}

			recorder, err := a.pushRecorder()
			if err != nil {
				return err
			}

			report, err := a.runPipeline(cmd.Context(), def, ov, recorder)
			if err != nil {
				return err
			}
			if !report.Completed {
				return &exitError{code: 1, err: fmt.Errorf("sync %q stopped: %s", def.Name, report.AbortReason)}
			}
			return nil
		},
	}

	cmd.Flags().CountVarP(&verbose, "verbose", "v", "Show more output (repeatable, -vvv shows debug records)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Show errors and alerts only")
	cmd.Flags().BoolVar(&overlap, "allow-overlapping", false, "Do not take the pipeline lock")
	cmd.Flags().BoolVar(&profileSQL, "profile-sql", false, "Log every SQL statement")
	cmd.Flags().BoolVar(&echo, "echo", false, "Copy the log file format to stdout")
	cmd.Flags().StringVar(&env, "env", "", "Override the environment label")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Shared context values as KEY=VALUE (repeatable)")

	return cmd
}
