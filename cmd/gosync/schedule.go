package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nomis52/gosync/metrics"
	"github.com/nomis52/gosync/pipeline"
	"github.com/nomis52/gosync/pipelinedef"
	"github.com/nomis52/gosync/schedule"
)

func newScheduleCmd(root *rootOptions) *cobra.Command {
	var (
		triggers    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run pipelines on their cron schedules until stopped",
		Long: `Run pipelines on their cron schedules until SIGINT or SIGTERM.

Schedules come from the schedule field of each definition, or from
--triggers in the form "pipeline1,pipeline2:cron;pipeline3:cron". Pipelines
of one trigger run one after the other.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}

			specs, err := triggerSpecs(triggers, a.defs)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var recorder pipeline.Recorder
			errCh := make(chan error, 1)
			if metricsAddr != "" {
				registry, err := metrics.NewScrapeRegistry()
				if err != nil {
					return err
				}
				recorder, err = metrics.NewRunRecorder(registry, a.logger.Logger)
				if err != nil {
					return err
				}
				go func() {
					errCh <- registry.Serve(ctx, metricsAddr, a.logger.Logger)
				}()
			} else if recorder, err = a.pushRecorder(); err != nil {
				return err
			}

			runner := &pipelineRunner{app: a, recorder: recorder}
			manager, err := schedule.NewManager(specs, runner, a.logger.Logger)
			if err != nil {
				return err
			}

			manager.Start(ctx)
			a.logger.Info("scheduler started", "triggers", len(specs), "next_run", manager.NextRun())

			select {
			case <-ctx.Done():
			case err = <-errCh:
				stop()
			}
			a.logger.Info("scheduler stopping, waiting for running pipelines")
			manager.Wait()
			if err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&triggers, "triggers", "", "Trigger spec overriding the definition schedules")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics on this address (e.g. :9108)")

	return cmd
}

// triggerSpecs parses spec, or collects the schedules of defs when spec
// is empty.
func triggerSpecs(spec string, defs []*pipelinedef.Definition) ([]schedule.TriggerSpec, error) {
	if spec != "" {
		return schedule.ParseTriggerSpecs(spec, pipelinedef.Names(defs))
	}

	var specs []schedule.TriggerSpec
	for _, def := range defs {
		if def.Schedule == "" {
			continue
		}
		specs = append(specs, schedule.TriggerSpec{Pipelines: []string{def.Name}, CronSpec: def.Schedule})
	}
	if len(specs) == 0 {
		return nil, errors.New("no pipeline has a schedule, set schedule in a definition or use --triggers")
	}
	return specs, nil
}

// pipelineRunner implements schedule.Runner.
type pipelineRunner struct {
	app      *app
	recorder pipeline.Recorder
}

// RunPipelines runs each pipeline in turn. A pipeline that cannot start or
// does not complete is reported, and the next one still runs.
func (r *pipelineRunner) RunPipelines(ctx context.Context, names []string) error {
	var errs []error
	for _, name := range names {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := r.runOne(ctx, name); err != nil {
			r.app.logger.Error("scheduled pipeline failed", "pipeline", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *pipelineRunner) runOne(ctx context.Context, name string) error {
	def, err := r.app.definition(name)
	if err != nil {
		return err
	}
	report, err := r.app.runPipeline(ctx, def, runOverrides{}, r.recorder)
	if err != nil {
		return err
	}
	if !report.Completed {
		return fmt.Errorf("stopped: %s", report.AbortReason)
	}
	return nil
}
