// Package pipeline runs an ordered sequence of steps ("a sync") in a single
// process.
//
// # Overview
//
// A Pipeline owns a named list of steps, a shared context passed from step
// to step, a log registry fanning records out to sinks, and an execution
// guard preventing two runs of the same pipeline from overlapping. Steps
// always run one at a time in the declared order; dependencies only assert
// that a step has already run, they never reorder anything.
//
// # Step Contract
//
//	type Step interface {
//	    Perform(ctx context.Context, rc *RunContext) (Outcome, error)
//	}
//
// Perform tells the loop what to do next:
//
//	Completed()              the step did its work, continue
//	EndStep(status, reason)  end this step early as failed/skipped/success, continue
//	AbortRun(reason)         stop the run after this step
//	*DomainError             expected failure, logged as an alert, stop the run
//	any other error/panic    unhandled failure, logged as an alert, stop the run
//
// Optional interfaces add an identity (Named), dependencies (Dependent)
// and hooks around the start and finish records (StartHooks, FinishHooks).
// Every step that starts gets exactly one "step started" and one "step
// finished" record, whichever way it ends.
//
// # Run Sequence
//
//	applyConfiguration  attach alert/echo sinks, clean old logs
//	"sync started"
//	Tuner.Tune          e.g. raise the database statement timeout
//	guard.Acquire       lock marker + signal handling, released on return
//	Validate            dependencies exist and come first
//	Profiler            SQL logging when enabled
//	steps
//	summary             elapsed time
//	final log mail      when recipients are configured
//
// Errors before the first step are returned to the caller. After that,
// Perform returns a Report whose Completed field tells whether every step
// ran.
//
// # Usage Example
//
//	p, err := pipeline.New("import_prices", cfg.SyncSettings(),
//	    pipeline.WithMailer(mailer),
//	)
//	if err != nil {
//	    return err
//	}
//	report, err := p.
//	    EmailAlertsTo("ops@example.com").
//	    SetSteps(&FetchPrices{}, &LoadPrices{}).
//	    Perform(ctx)
package pipeline
