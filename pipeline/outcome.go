package pipeline

// OutcomeKind tells the execution loop what to do after a step returns.
type OutcomeKind int

const (
	// KindCompleted means the step did its work; the run continues.
	KindCompleted OutcomeKind = iota
	// KindEndStep means the step ended early with a status; the run continues.
	KindEndStep
	// KindAbortRun means the step asks for the whole run to stop.
	KindAbortRun
)

// Outcome is the result of Step.Perform when no error occurred.
type Outcome struct {
	Kind   OutcomeKind
	Status Status
	Reason string
}

// Completed reports normal completion. The step status becomes success.
func Completed() Outcome {
	return Outcome{Kind: KindCompleted, Status: StatusSuccess}
}

// EndStep ends the current step early with the given status and moves on
// to the next step. A pending status is reported as success.
func EndStep(status Status, reason string) Outcome {
	if status == StatusPending {
		status = StatusSuccess
	}
	return Outcome{Kind: KindEndStep, Status: status, Reason: reason}
}

// AbortRun stops the run after the current step. Remaining steps do not
// run. The step status is success unless changed with WithStatus.
func AbortRun(reason string) Outcome {
	return Outcome{Kind: KindAbortRun, Status: StatusSuccess, Reason: reason}
}

// WithStatus returns a copy of o carrying status.
func (o Outcome) WithStatus(status Status) Outcome {
	o.Status = status
	return o
}
