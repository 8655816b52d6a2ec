package pipeline

// Status is the terminal status of a step as reported in the run log.
type Status int

const (
	// StatusPending is the status of a step that has not finished.
	StatusPending Status = iota
	StatusSuccess
	StatusFailed
	StatusSkipped
)

// String returns a human-readable representation of the Status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Label is the wording used in "step ended as ..." records.
func (s Status) Label() string {
	switch s {
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "successful"
	}
}

// State represents the execution state of a step within one run.
type State int

const (
	// NotStarted indicates the step was never reached. If validation fails
	// or an earlier step stops the run, remaining steps stay NotStarted.
	NotStarted State = iota

	// Running indicates the step is currently executing
	Running

	// Finished indicates the step returned and the run moved on, either
	// because it completed or because it ended itself with a status.
	Finished

	// Aborted indicates the run stopped while this step was executing,
	// either on request of the step or because it failed.
	Aborted
)

// String returns a human-readable representation of the State
func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}
