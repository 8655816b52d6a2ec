package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Runner runs pipelines by name, in the given order.
type Runner interface {
	RunPipelines(ctx context.Context, names []string) error
}

// Manager manages multiple Trigger instances with different pipelines and schedules.
type Manager struct {
	triggers []*Trigger
	specs    []TriggerSpec
	logger   *slog.Logger
}

// NewManagerFromSpec creates a Manager from a multi-trigger specification,
// see ParseTriggerSpecs.
func NewManagerFromSpec(spec string, runner Runner, logger *slog.Logger, available map[string]bool) (*Manager, error) {
	specs, err := ParseTriggerSpecs(spec, available)
	if err != nil {
		return nil, err
	}
	return NewManager(specs, runner, logger)
}

// NewManager creates one trigger per spec.
func NewManager(specs []TriggerSpec, runner Runner, logger *slog.Logger) (*Manager, error) {
	triggers := make([]*Trigger, 0, len(specs))
	for _, spec := range specs {
		pipelines := spec.Pipelines
		run := func(ctx context.Context) error {
			return runner.RunPipelines(ctx, pipelines)
		}

		trigger, err := NewTrigger(spec.CronSpec, run, logger.With("pipelines", pipelines))
		if err != nil {
			return nil, fmt.Errorf("creating trigger for '%s:%s': %w",
				strings.Join(spec.Pipelines, pipelineListSeparator), spec.CronSpec, err)
		}
		triggers = append(triggers, trigger)
	}

	logger.Info("cron trigger manager created", "trigger_count", len(triggers))
	for i, trigger := range triggers {
		logger.Info("trigger registered",
			"index", i,
			"pipelines", specs[i].Pipelines,
			"schedule", specs[i].CronSpec,
			"next_run", trigger.NextRun(),
		)
	}

	return &Manager{
		triggers: triggers,
		specs:    append([]TriggerSpec(nil), specs...),
		logger:   logger,
	}, nil
}

// Specs returns the trigger specifications in registration order.
func (m *Manager) Specs() []TriggerSpec {
	return append([]TriggerSpec(nil), m.specs...)
}

// Start launches all triggers. Each trigger runs in its own goroutine.
// Returns immediately. All goroutines exit when ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	for _, trigger := range m.triggers {
		trigger.Start(ctx)
	}
}

// Wait blocks until every started trigger has exited, letting in-flight
// runs finish.
func (m *Manager) Wait() {
	for _, trigger := range m.triggers {
		trigger.Wait()
	}
}

// NextRun returns the earliest scheduled run time across all triggers.
// Returns zero time if there are no triggers.
func (m *Manager) NextRun() time.Time {
	var earliest time.Time
	for _, trigger := range m.triggers {
		next := trigger.NextRun()
		if earliest.IsZero() || next.Before(earliest) {
			earliest = next
		}
	}
	return earliest
}
