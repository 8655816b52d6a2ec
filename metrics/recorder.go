package metrics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nomis52/gosync/pipeline"
)

// RunRecorder turns pipeline reports into metrics. It implements
// pipeline.Recorder. With a push registry, every recorded run is flushed
// immediately.
type RunRecorder struct {
	registry Registry
	logger   *slog.Logger

	runs     CounterVec
	duration GaugeVec
	lastRun  GaugeVec
	steps    CounterVec
}

// NewRunRecorder registers the run metrics in registry.
func NewRunRecorder(registry Registry, logger *slog.Logger) (*RunRecorder, error) {
	r := &RunRecorder{registry: registry, logger: logger}

	var err error
	r.runs, err = registry.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_runs_total",
		Help: "Number of pipeline runs by outcome.",
	}, []string{"pipeline", "env", "outcome"})
	if err != nil {
		return nil, fmt.Errorf("creating runs counter: %w", err)
	}

	r.duration, err = registry.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_run_duration_seconds",
		Help: "Duration of the last pipeline run.",
	}, []string{"pipeline", "env"})
	if err != nil {
		return nil, fmt.Errorf("creating duration gauge: %w", err)
	}

	r.lastRun, err = registry.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sync_last_run_timestamp_seconds",
		Help: "Unix time the last run of each outcome finished.",
	}, []string{"pipeline", "env", "outcome"})
	if err != nil {
		return nil, fmt.Errorf("creating last run gauge: %w", err)
	}

	r.steps, err = registry.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_steps_total",
		Help: "Number of executed steps by final status.",
	}, []string{"pipeline", "step", "status"})
	if err != nil {
		return nil, fmt.Errorf("creating steps counter: %w", err)
	}

	return r, nil
}

// RecordRun implements pipeline.Recorder. Push failures are logged.
func (r *RunRecorder) RecordRun(ctx context.Context, report *pipeline.Report) {
	outcome := report.Outcome()
	finished := report.Started.Add(report.Elapsed)

	r.runs.With(prometheus.Labels{"pipeline": report.Pipeline, "env": report.Env, "outcome": outcome}).Inc()
	r.duration.With(prometheus.Labels{"pipeline": report.Pipeline, "env": report.Env}).Set(report.Elapsed.Seconds())
	r.lastRun.With(prometheus.Labels{"pipeline": report.Pipeline, "env": report.Env, "outcome": outcome}).
		Set(float64(finished.Unix()))

	for _, step := range report.Steps {
		if step.State == pipeline.NotStarted {
			continue
		}
		r.steps.With(prometheus.Labels{
			"pipeline": report.Pipeline,
			"step":     step.Name,
			"status":   step.Status.String(),
		}).Inc()
	}

	if flusher, ok := r.registry.(Flusher); ok {
		if err := flusher.Flush(ctx); err != nil {
			r.logger.Warn("failed to push metrics", "pipeline", report.Pipeline, "error", err)
		}
	}
}
