package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nomis52/gosync/clients/telegramclient"
	"github.com/nomis52/gosync/config"
	"github.com/nomis52/gosync/guard"
	"github.com/nomis52/gosync/logging"
)

// LogFileLayout is the time layout of per-run log file names.
const LogFileLayout = "2006_01_02_15_04_05"

const summarySeparator = "=============================================="

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Tuner prepares an external collaborator, typically the database, before
// the run starts. A failing Tune aborts the run before the guard is taken.
type Tuner interface {
	Tune(ctx context.Context) error
}

// Profiler logs every SQL statement executed during the run once enabled.
type Profiler interface {
	EnableProfiling(logger *slog.Logger)
}

// Recorder receives the report of every finished run, e.g. to export metrics.
type Recorder interface {
	RecordRun(ctx context.Context, report *Report)
}

// Pipeline runs an ordered list of steps under a lock, logging every step
// transition to the configured sinks.
type Pipeline struct {
	name     string
	cfg      config.SyncConfig
	runID    string
	dir      string
	logFile  string
	registry *logging.Registry
	logger   *slog.Logger
	fallback *slog.Logger
	steps    []Step
	shared   map[string]any

	mailer     logging.Mailer
	messenger  logging.Messenger
	publisher  logging.Publisher
	routingKey string
	tuner      Tuner
	profiler   Profiler
	recorder   Recorder
	stdout     io.Writer
	hostname   string
	now        func() time.Time
	guardOpts  []guard.Option

	// configErr holds the first error raised by a fluent setter. It is
	// returned by Perform.
	configErr error
	performed bool
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithLogDir overrides the root log directory of the configuration.
func WithLogDir(dir string) Option {
	return func(p *Pipeline) {
		p.cfg.LogDir = dir
	}
}

// WithMailer sets the mail collaborator used for alert and report mails.
func WithMailer(m logging.Mailer) Option {
	return func(p *Pipeline) {
		p.mailer = m
	}
}

// WithMessenger replaces the Telegram client built from the configured
// credentials.
func WithMessenger(m logging.Messenger) Option {
	return func(p *Pipeline) {
		p.messenger = m
	}
}

// WithPublisher publishes alerts to a message broker under routingKey. An
// empty key publishes under "sync.<severity>.<pipeline>".
func WithPublisher(pub logging.Publisher, routingKey string) Option {
	return func(p *Pipeline) {
		p.publisher = pub
		p.routingKey = routingKey
	}
}

// WithTuner sets the collaborator tuned before the run.
func WithTuner(t Tuner) Option {
	return func(p *Pipeline) {
		p.tuner = t
	}
}

// WithProfiler sets the collaborator that logs SQL when profiling is on.
func WithProfiler(pr Profiler) Option {
	return func(p *Pipeline) {
		p.profiler = pr
	}
}

// WithRecorder sets the collaborator receiving the run report.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithFallbackLogger sets the logger receiving sink failures and other
// diagnostics that cannot go to the pipeline log. Defaults to slog.Default().
func WithFallbackLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.fallback = l
	}
}

// WithStdout sets the writer of the echo sink. Defaults to os.Stdout.
func WithStdout(w io.Writer) Option {
	return func(p *Pipeline) {
		p.stdout = w
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithGuardOptions passes options to the execution guard.
func WithGuardOptions(opts ...guard.Option) Option {
	return func(p *Pipeline) {
		p.guardOpts = append(p.guardOpts, opts...)
	}
}

// New creates a pipeline. The name must match [A-Za-z0-9_-]+ and is
// checked before anything touches the filesystem. The log file itself is
// created on the first record.
func New(name string, cfg config.SyncConfig, opts ...Option) (*Pipeline, error) {
	if !validName.MatchString(name) {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("%q, use [A-Za-z0-9_-]+", name), Err: ErrInvalidName}
	}

	cfg.EmailAlertsTo = append([]string(nil), cfg.EmailAlertsTo...)
	cfg.EmailFinalLogTo = append([]string(nil), cfg.EmailFinalLogTo...)

	p := &Pipeline{
		name:     name,
		cfg:      cfg,
		runID:    uuid.NewString(),
		fallback: slog.Default(),
		stdout:   os.Stdout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.hostname == "" {
		p.hostname, _ = os.Hostname()
	}

	p.dir = filepath.Join(p.cfg.LogDir, name)
	p.logFile = filepath.Join(p.dir, p.now().Format(LogFileLayout)+".log")
	p.registry = logging.NewRegistry(name, p.fallback)
	p.registry.Attach(logging.NewFileSink(p.logFile, logging.LineFormatter{}), logging.SeverityDebug)
	p.logger = p.registry.Logger().With("run_id", p.runID)
	return p, nil
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// RunID returns the identifier attached to every record of this run.
func (p *Pipeline) RunID() string { return p.runID }

// LogFile returns the path of this run's log file.
func (p *Pipeline) LogFile() string { return p.logFile }

// LogDir returns the per-pipeline log directory.
func (p *Pipeline) LogDir() string { return p.dir }

// Logger returns the pipeline logger. Records go to every attached sink.
func (p *Pipeline) Logger() *slog.Logger { return p.logger }

// Settings returns the current configuration snapshot.
func (p *Pipeline) Settings() config.SyncConfig { return p.cfg }

// AllowOverlapping disables the lock marker.
func (p *Pipeline) AllowOverlapping() *Pipeline {
	return p.SetOverlapping(true)
}

// SetOverlapping sets whether concurrent runs of this pipeline are allowed.
func (p *Pipeline) SetOverlapping(allow bool) *Pipeline {
	p.cfg.AllowOverlapping = allow
	return p
}

// ProfileSQL enables or disables SQL statement logging.
func (p *Pipeline) ProfileSQL(enable bool) *Pipeline {
	p.cfg.ProfileSQL = enable
	return p
}

// EmailAlertsTo mails every alert record to the given addresses.
func (p *Pipeline) EmailAlertsTo(addrs ...string) *Pipeline {
	p.cfg.EmailAlertsTo = append([]string(nil), addrs...)
	return p
}

// EmailFinalLogTo mails the complete run log to the given addresses after
// the run.
func (p *Pipeline) EmailFinalLogTo(addrs ...string) *Pipeline {
	p.cfg.EmailFinalLogTo = append([]string(nil), addrs...)
	return p
}

// SendAlertsToTelegram posts every alert record to a Telegram channel.
// Alerts are only sent when both values are non-empty.
func (p *Pipeline) SendAlertsToTelegram(botToken, channelID string) *Pipeline {
	p.cfg.Telegram = config.TelegramConfig{BotToken: botToken, ChannelID: channelID}
	return p
}

// CleanOldLogs deletes log files older than days at the start of the run.
// Zero disables cleaning.
func (p *Pipeline) CleanOldLogs(days int) *Pipeline {
	p.cfg.CleanOldLogs = days
	return p
}

// SendOutputToEcho duplicates the log file to stdout.
func (p *Pipeline) SendOutputToEcho(enable bool) *Pipeline {
	p.cfg.SendOutputToEcho = enable
	return p
}

// SetEnv overrides the environment label.
func (p *Pipeline) SetEnv(env string) *Pipeline {
	p.cfg.Env = env
	return p
}

// SetSteps sets the steps to run, in order.
func (p *Pipeline) SetSteps(steps ...Step) *Pipeline {
	p.steps = append([]Step(nil), steps...)
	return p
}

// SetSharedData sets the initial shared context of the run.
func (p *Pipeline) SetSharedData(data map[string]any) *Pipeline {
	p.shared = data
	return p
}

// SendOutputToConsole mirrors records to w in real time. levelMap maps the
// caller's verbosity to a minimum severity; nil selects
// logging.DefaultVerbosityMap. A nil writer is a configuration error
// reported by Perform.
func (p *Pipeline) SendOutputToConsole(w io.Writer, verbosity logging.Verbosity, levelMap map[logging.Verbosity]logging.Severity) *Pipeline {
	if w == nil {
		p.setConfigErr(&ConfigurationError{Msg: "console output requires a writer"})
		return p
	}
	sink := logging.NewConsoleSink(w, verbosity, levelMap)
	p.registry.Attach(sink, sink.Threshold())
	return p
}

// PushLogSink attaches an additional sink receiving records at or above min.
func (p *Pipeline) PushLogSink(sink logging.Sink, min logging.Severity) *Pipeline {
	p.registry.Attach(sink, min)
	return p
}

func (p *Pipeline) setConfigErr(err error) {
	if p.configErr == nil {
		p.configErr = err
	}
}

func (p *Pipeline) alertTitle() string {
	return fmt.Sprintf("%s, %s: sync %q error", p.cfg.SiteName, p.cfg.Env, p.name)
}

// applyConfiguration attaches the sinks selected by the configuration and
// removes old log files.
func (p *Pipeline) applyConfiguration() {
	if len(p.cfg.EmailAlertsTo) > 0 {
		if p.mailer == nil {
			p.fallback.Error("email alerts configured without a mailer", "pipeline", p.name)
		} else {
			p.registry.Attach(
				logging.NewMailSink(p.mailer, p.cfg.EmailAlertsTo, p.alertTitle(), logging.LineFormatter{}),
				logging.SeverityAlert,
			)
		}
	}

	if p.cfg.CleanOldLogs > 0 {
		retention := logging.Retention{
			Dir:    p.dir,
			Days:   p.cfg.CleanOldLogs,
			Keep:   []string{p.logFile},
			Logger: p.logger,
		}
		if _, err := retention.Clean(p.now()); err != nil {
			p.logger.Error("failed to clean old logs", "error", err)
		}
	}

	if p.cfg.Telegram.Enabled() {
		messenger := p.messenger
		if messenger == nil {
			messenger = telegramclient.New(p.cfg.Telegram.BotToken, p.cfg.Telegram.ChannelID)
		}
		formatter := telegramclient.Formatter{
			Title:    p.alertTitle(),
			SiteName: p.cfg.SiteName,
			Env:      p.cfg.Env,
			Sandbox:  p.cfg.Sandbox,
			Hostname: p.hostname,
		}
		p.registry.Attach(logging.NewChannelSink(messenger, formatter, telegramclient.ParseModeHTML), logging.SeverityAlert)
	}

	if p.publisher != nil {
		p.registry.Attach(logging.NewBrokerSink(p.publisher, p.routingKey, p.cfg.Env), logging.SeverityAlert)
	}

	if p.cfg.SendOutputToEcho {
		p.registry.Attach(logging.NewWriterSink(p.stdout, logging.LineFormatter{}), logging.SeverityDebug)
	}
}

// Perform runs the pipeline once.
//
// Configuration, tuning, overlap and dependency errors are returned before
// any step runs, with a nil report. Once the steps start, Perform always
// returns a report and a nil error: failures inside steps are logged and
// reflected in Report.Completed.
func (p *Pipeline) Perform(ctx context.Context) (*Report, error) {
	if p.performed {
		return nil, ErrAlreadyPerformed
	}
	p.performed = true
	if p.configErr != nil {
		return nil, p.configErr
	}

	p.applyConfiguration()
	defer p.registry.Close()

	p.logger.Info("sync started", "env", p.cfg.Env)
	started := p.now()

	if p.tuner != nil {
		if err := p.tuner.Tune(ctx); err != nil {
			p.logger.Log(ctx, logging.LevelAlert, "failed to prepare the database", "error", err)
			return nil, fmt.Errorf("tuning: %w", err)
		}
	}

	opts := append([]guard.Option{
		guard.WithOverlapAllowed(p.cfg.AllowOverlapping),
		guard.WithEnv(p.cfg.Env),
	}, p.guardOpts...)
	release, err := guard.New(p.name, p.dir, p.logger, opts...).Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := Validate(p.steps); err != nil {
		p.logger.Log(ctx, logging.LevelAlert, "invalid pipeline", "error", err)
		return nil, err
	}

	if p.cfg.ProfileSQL && p.profiler != nil {
		p.profiler.EnableProfiling(p.logger)
	}

	report := &Report{
		RunID:     p.runID,
		Pipeline:  p.name,
		Env:       p.cfg.Env,
		Started:   started,
		Completed: true,
		Steps:     make([]StepResult, len(p.steps)),
	}
	for i, step := range p.steps {
		report.Steps[i] = StepResult{Name: StepName(step), State: NotStarted, Status: StatusPending}
	}

	shared := NewSharedContext(p.shared)
	report.Shared = shared
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			p.logger.Error("sync cancelled", "error", err)
			report.Completed = false
			report.AbortReason = err.Error()
			break
		}

		result := &report.Steps[i]
		rc := &RunContext{
			Pipeline: p.name,
			RunID:    p.runID,
			Env:      p.cfg.Env,
			Step:     result.Name,
			Logger:   p.logger.With("step", result.Name),
			Shared:   shared,
		}
		if !p.runStep(ctx, step, rc, result) {
			report.Completed = false
			report.AbortReason = result.Reason
			break
		}
	}

	report.Elapsed = p.now().Sub(started)
	p.logSummary(report.Elapsed)
	p.sendFinalLog(ctx, report)

	if p.recorder != nil {
		p.recorder.RecordRun(ctx, report)
	}
	return report, nil
}

// runStep executes one step between its start and finish records and
// reports whether the run should continue.
func (p *Pipeline) runStep(ctx context.Context, step Step, rc *RunContext, result *StepResult) bool {
	hooks, _ := step.(StartHooks)
	if hooks != nil {
		p.callHook(rc, "OnBeforeLogStart", hooks.OnBeforeLogStart)
	}
	rc.Logger.Info("step started")
	if hooks != nil {
		p.callHook(rc, "OnAfterLogStart", hooks.OnAfterLogStart)
	}

	result.State = Running
	result.Started = p.now()
	outcome, err := perform(ctx, step, rc)
	result.Duration = p.now().Sub(result.Started)

	proceed := true
	switch {
	case err != nil:
		proceed = false
		result.State = Aborted
		result.Status = StatusFailed
		result.Err = err
		result.Reason = err.Error()
		p.logFailure(ctx, rc, err)

	case outcome.Kind == KindEndStep:
		result.State = Finished
		result.Status = outcome.Status
		result.Reason = outcome.Reason
		rc.Logger.Info("step ended as "+outcome.Status.Label(), "reason", outcome.Reason)

	case outcome.Kind == KindAbortRun:
		proceed = false
		result.State = Aborted
		result.Status = outcome.Status
		result.Reason = outcome.Reason
		rc.Logger.Info("received command to stop the sync", "reason", outcome.Reason)

	default:
		result.State = Finished
		result.Status = StatusSuccess
	}

	p.finishStep(rc, step, result)
	return proceed
}

// perform calls step.Perform, converting a panic into a *PanicError.
func perform(ctx context.Context, step Step, rc *RunContext) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, location: panicLocation()}
		}
	}()
	return step.Perform(ctx, rc)
}

func (p *Pipeline) logFailure(ctx context.Context, rc *RunContext, err error) {
	loc := errorLocation(err)
	attrs := []any{
		"exception", errorKind(err),
		"message", err.Error(),
		"file", loc.File,
		"line", loc.Line,
	}

	var domainErr *DomainError
	var panicErr *PanicError
	switch {
	case errors.As(err, &domainErr):
		rc.Logger.Log(ctx, logging.LevelAlert, "domain error, sync stopped", attrs...)
	case errors.As(err, &panicErr):
		rc.Logger.Log(ctx, logging.LevelAlert, "step panicked, sync stopped", attrs...)
	default:
		rc.Logger.Log(ctx, logging.LevelAlert, "unhandled error, sync stopped", attrs...)
	}
}

// finishStep emits the finish record surrounded by the finish hooks. It is
// called exactly once for every step that started.
func (p *Pipeline) finishStep(rc *RunContext, step Step, result *StepResult) {
	hooks, _ := step.(FinishHooks)
	if hooks != nil {
		p.callHook(rc, "OnBeforeLogFinish", hooks.OnBeforeLogFinish)
	}
	rc.Logger.Info("step finished",
		"status", result.Status.String(),
		"duration", result.Duration,
	)
	if hooks != nil {
		p.callHook(rc, "OnAfterLogFinish", hooks.OnAfterLogFinish)
	}
}

// callHook runs a lifecycle hook. A panicking hook is logged and ignored
// so that start and finish records stay paired.
func (p *Pipeline) callHook(rc *RunContext, name string, hook func(*RunContext)) {
	defer func() {
		if r := recover(); r != nil {
			rc.Logger.Error("step hook panicked", "hook", name, "panic", fmt.Sprint(r))
		}
	}()
	hook(rc)
}

func (p *Pipeline) logSummary(elapsed time.Duration) {
	p.logger.Info(summarySeparator)
	p.logger.Info("sync finished")
	p.logger.Info("elapsed time: " + formatElapsed(elapsed))
}

// formatElapsed renders minutes from one minute up, seconds below.
func formatElapsed(d time.Duration) string {
	if d >= time.Minute {
		return trimFloat(d.Minutes()) + " minutes"
	}
	return trimFloat(d.Seconds()) + " seconds"
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
