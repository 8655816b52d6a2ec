// Package schedule runs pipelines on cron schedules.
//
// A Trigger calls a function according to one cron schedule; a Manager
// owns the triggers of a multi-trigger specification and hands the names
// of due pipelines to a Runner.
//
// Example usage:
//
//	trigger, err := schedule.NewTrigger("0 2 * * *", runFn, logger)
//	if err != nil {
//	    return err
//	}
//	trigger.Start(ctx)  // Returns immediately, runs in background
//	<-ctx.Done()        // Wait for shutdown signal
//	trigger.Wait()      // Wait for an in-flight run to finish
//
// Runs of one trigger never overlap: the next fire time is computed after
// the previous run returns. Overlap between processes is prevented by the
// pipeline's own lock marker.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronSpec is returned when the cron specification cannot be parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// RunFunc is called each time a trigger fires.
type RunFunc func(ctx context.Context) error

// Trigger executes a RunFunc according to a cron schedule.
type Trigger struct {
	spec     string
	schedule cron.Schedule
	run      RunFunc
	logger   *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewTrigger creates a new Trigger with the given cron specification.
// The spec follows standard cron format (5 fields: minute, hour, day, month, weekday)
// or a descriptor such as @hourly.
// Returns ErrInvalidCronSpec if the specification cannot be parsed.
func NewTrigger(spec string, run RunFunc, logger *slog.Logger) (*Trigger, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}

	return &Trigger{
		spec:     spec,
		schedule: sched,
		run:      run,
		logger:   logger.With("schedule", spec),
		now:      time.Now,
	}, nil
}

// Spec returns the cron specification.
func (t *Trigger) Spec() string {
	return t.spec
}

// Start launches a goroutine that triggers runs according to the cron schedule.
// Returns immediately. The goroutine exits when ctx is cancelled.
func (t *Trigger) Start(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.loop(ctx)
	}()
}

// Wait blocks until the goroutine started by Start has exited.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

// NextRun returns the next scheduled run time from now.
func (t *Trigger) NextRun() time.Time {
	return t.schedule.Next(t.now())
}

func (t *Trigger) loop(ctx context.Context) {
	for {
		nextRun := t.schedule.Next(t.now())
		wait := nextRun.Sub(t.now())

		t.logger.Debug("waiting for next scheduled run",
			"next_run", nextRun,
			"wait_duration", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Info("cron trigger shutting down")
			return
		case <-timer.C:
			t.execute(ctx)
		}
	}
}

// execute calls the run function and logs the result.
func (t *Trigger) execute(ctx context.Context) {
	t.logger.Info("starting scheduled run")

	if err := t.run(ctx); err != nil {
		t.logger.Warn("scheduled run completed with error", "error", err)
	} else {
		t.logger.Info("scheduled run completed successfully")
	}
}
