package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Report summarizes one run.
type Report struct {
	RunID    string
	Pipeline string
	Env      string
	Started  time.Time
	Elapsed  time.Duration

	// Completed is true when every step ran and none stopped the run.
	Completed bool
	// AbortReason explains why the run stopped early.
	AbortReason string

	// Steps holds one result per step, in pipeline order. Steps after the
	// one that stopped the run are NotStarted.
	Steps []StepResult

	// Shared is the shared context as the last executed step left it. The
	// map passed to SetSharedData is never modified.
	Shared *SharedContext
}

// Outcome returns "completed" or "aborted".
func (r *Report) Outcome() string {
	if r.Completed {
		return "completed"
	}
	return "aborted"
}

// Count returns the number of steps that ended with status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == status {
			n++
		}
	}
	return n
}

func (p *Pipeline) finalLogSubject(report *Report) string {
	return fmt.Sprintf("%s, %s: sync %q finished (%s)", p.cfg.SiteName, p.cfg.Env, p.name, report.Outcome())
}

// sendFinalLog mails this run's log file to the final report recipients.
// Failures go to the fallback logger and are not retried.
func (p *Pipeline) sendFinalLog(ctx context.Context, report *Report) {
	if len(p.cfg.EmailFinalLogTo) == 0 {
		return
	}
	if p.mailer == nil {
		p.fallback.Error("final log recipients configured without a mailer", "pipeline", p.name)
		return
	}

	body := fmt.Sprintf("could not read log file %s", p.logFile)
	if data, err := os.ReadFile(p.logFile); err == nil && len(data) > 0 {
		body = string(data)
	}

	if err := p.mailer.SendMail(ctx, p.cfg.EmailFinalLogTo, p.finalLogSubject(report), body); err != nil {
		p.fallback.Error("failed to send final log",
			"pipeline", p.name,
			"to", p.cfg.EmailFinalLogTo,
			"error", err,
		)
	}
}
