package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/nomis52/gosync/clients/amqpclient"
	"github.com/nomis52/gosync/clients/mailclient"
	"github.com/nomis52/gosync/clients/pgclient"
	"github.com/nomis52/gosync/config"
	"github.com/nomis52/gosync/logging"
	"github.com/nomis52/gosync/metrics"
	"github.com/nomis52/gosync/pipeline"
	"github.com/nomis52/gosync/pipelinedef"
	"github.com/nomis52/gosync/steps"
)

// app holds what every command loads: configuration, process logger and
// pipeline definitions.
type app struct {
	cfg    config.Config
	logger *logging.Logger
	defs   []*pipelinedef.Definition
}

func newApp(opts *rootOptions) (*app, error) {
	var (
		cfg config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.AddSource,
	}
	if opts.logLevel != "" {
		logCfg.Level = opts.logLevel
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	defs, err := pipelinedef.Load(opts.pipelinesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipelines: %w", err)
	}

	return &app{cfg: cfg, logger: logger, defs: defs}, nil
}

// definition returns the definition named name.
func (a *app) definition(name string) (*pipelinedef.Definition, error) {
	for _, def := range a.defs {
		if def.Name == name {
			return def, nil
		}
	}
	names := make([]string, 0, len(a.defs))
	for _, def := range a.defs {
		names = append(names, def.Name)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("unknown pipeline %q (available: %s)", name, strings.Join(names, ", "))
}

// openDatabase creates the pool when a DSN is configured. Connections
// are opened lazily.
func (a *app) openDatabase(ctx context.Context) (*pgclient.Client, error) {
	if a.cfg.Database.DSN == "" {
		return nil, nil
	}
	db, err := pgclient.New(ctx, a.cfg.Database, a.logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create database client: %w", err)
	}
	return db, nil
}

// stepRegistry registers the stock step kinds against db, which may be nil.
func (a *app) stepRegistry(db *pgclient.Client) (*pipeline.Registry, error) {
	deps := steps.Deps{}
	if db != nil {
		deps.DB = db
	}
	reg := pipeline.NewRegistry()
	if err := steps.Register(reg, deps); err != nil {
		return nil, err
	}
	return reg, nil
}

// runOverrides are the run flags that replace definition settings.
type runOverrides struct {
	overlap    *bool
	profileSQL *bool
	echo       *bool
	env        string
	shared     map[string]any
	console    io.Writer
	verbosity  logging.Verbosity
}

// runPipeline builds and performs one pipeline with fresh collaborators.
// The returned error is set for pre-run failures only; an incomplete run
// is reported through the report.
func (a *app) runPipeline(ctx context.Context, def *pipelinedef.Definition, ov runOverrides, recorder pipeline.Recorder) (*pipeline.Report, error) {
	db, err := a.openDatabase(ctx)
	if err != nil {
		return nil, err
	}
	if db != nil {
		defer db.Close()
	}

	reg, err := a.stepRegistry(db)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{pipeline.WithFallbackLogger(a.logger.Logger)}
	if a.cfg.Mail.Host != "" {
		opts = append(opts, pipeline.WithMailer(mailclient.New(a.cfg.Mail, a.cfg.Site.MailFrom)))
	}
	if db != nil {
		opts = append(opts, pipeline.WithTuner(db), pipeline.WithProfiler(db))
	}
	if a.cfg.Broker.URL != "" {
		publisher, err := amqpclient.New(a.cfg.Broker.URL, a.cfg.Broker.Exchange, a.logger.Logger)
		if err != nil {
			a.logger.Warn("broker unavailable, alerts will not be published", "pipeline", def.Name, "error", err)
		} else {
			defer publisher.Close()
			opts = append(opts, pipeline.WithPublisher(publisher, a.cfg.Broker.RoutingKey))
		}
	}
	if recorder != nil {
		opts = append(opts, pipeline.WithRecorder(recorder))
	}
	if ov.console != nil {
		opts = append(opts, pipeline.WithStdout(ov.console))
	}

	p, err := def.Build(reg, a.cfg.SyncSettings(), opts...)
	if err != nil {
		return nil, err
	}

	if ov.overlap != nil {
		p.SetOverlapping(*ov.overlap)
	}
	if ov.profileSQL != nil {
		p.ProfileSQL(*ov.profileSQL)
	}
	if ov.echo != nil {
		p.SendOutputToEcho(*ov.echo)
	}
	if ov.env != "" {
		p.SetEnv(ov.env)
	}
	if len(ov.shared) > 0 {
		shared := make(map[string]any, len(def.Shared)+len(ov.shared))
		for k, v := range def.Shared {
			shared[k] = v
		}
		for k, v := range ov.shared {
			shared[k] = v
		}
		p.SetSharedData(shared)
	}
	if ov.console != nil {
		p.SendOutputToConsole(ov.console, ov.verbosity, nil)
	}

	a.logger.Info("running pipeline", "pipeline", def.Name, "run_id", p.RunID(), "log_file", p.LogFile())
	return p.Perform(ctx)
}

// pushRecorder returns a recorder pushing to the configured remote write
// endpoint, or nil when none is configured.
func (a *app) pushRecorder() (pipeline.Recorder, error) {
	mon := a.cfg.Monitoring
	if mon.VictoriaMetricsURL == "" {
		return nil, nil
	}
	hostname, _ := os.Hostname()
	registry := metrics.NewPushRegistry(metrics.PushConfig{
		URL:      mon.VictoriaMetricsURL,
		Prefix:   mon.MetricsPrefix,
		Job:      mon.JobName,
		Instance: hostname,
	})
	recorder, err := metrics.NewRunRecorder(registry, a.logger.Logger)
	if err != nil {
		return nil, err
	}
	return recorder, nil
}
