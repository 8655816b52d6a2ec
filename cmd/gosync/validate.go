package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nomis52/gosync/config"
	"github.com/nomis52/gosync/pipeline"
	"github.com/nomis52/gosync/pipelinedef"
	"github.com/nomis52/gosync/schedule"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [PIPELINE...]",
		Short: "Check pipeline definitions without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}

			defs := a.defs
			if len(args) > 0 {
				defs = nil
				for _, name := range args {
					def, err := a.definition(name)
					if err != nil {
						return err
					}
					defs = append(defs, def)
				}
			}

			reg, closeDB, err := a.validationRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			var failed int
			for _, def := range defs {
				if err := validateDefinition(def, reg); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", def.Name, err)
					continue
				}
				printValid(cmd.OutOrStdout(), def)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d pipelines invalid", failed, len(defs))
			}
			return nil
		},
	}
}

func newGraphCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "graph PIPELINE",
		Short: "Print the step dependency graph in DOT format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			def, err := a.definition(args[0])
			if err != nil {
				return err
			}

			reg, closeDB, err := a.validationRegistry(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB()

			built, err := reg.BuildAll(def.StepSpecs())
			if err != nil {
				return err
			}
			return pipeline.WriteDOT(cmd.OutOrStdout(), built)
		},
	}
}

// validationRegistry builds steps without touching the network; the
// database pool is created but never connects.
func (a *app) validationRegistry(ctx context.Context) (*pipeline.Registry, func(), error) {
	db, err := a.openDatabase(ctx)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if db != nil {
			db.Close()
		}
	}
	reg, err := a.stepRegistry(db)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return reg, closeDB, nil
}

func validateDefinition(def *pipelinedef.Definition, reg *pipeline.Registry) error {
	var errs []error
	if _, err := def.BuildSteps(reg); err != nil {
		errs = append(errs, err)
	}
	if def.Schedule != "" {
		if err := schedule.ValidateCronSpec(def.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", def.Schedule, err))
		}
	}
	if _, err := pipeline.New(def.Name, config.SyncConfig{}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func printValid(w io.Writer, def *pipelinedef.Definition) {
	sched := def.Schedule
	if sched == "" {
		sched = "manual"
	}
	fmt.Fprintf(w, "ok   %s: %d steps, schedule %s\n", def.Name, len(def.Steps), sched)
}
