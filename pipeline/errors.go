package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrInvalidName is returned by New for names outside [A-Za-z0-9_-]+.
	ErrInvalidName = errors.New("invalid pipeline name")

	// ErrUnknownStepKind is returned when a step definition names a kind
	// that was never registered.
	ErrUnknownStepKind = errors.New("unknown step kind")

	// ErrAlreadyPerformed is returned by a second call to Perform.
	ErrAlreadyPerformed = errors.New("pipeline already performed")
)

// ConfigurationError reports a pipeline that cannot run as configured:
// a bad name, duplicate step identities, unknown step kinds or a missing
// console writer.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration error: " + e.Msg
	}
	if e.Msg == "" {
		return "configuration error: " + e.Err.Error()
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Msg, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// DependencyReason distinguishes the two ways a dependency can be invalid.
type DependencyReason int

const (
	// DependencyMissing means the dependency is not part of the pipeline.
	DependencyMissing DependencyReason = iota
	// DependencyOrder means the dependency does not run before its dependent.
	DependencyOrder
)

// DependencyError identifies the offending step and dependency.
type DependencyError struct {
	Step       string
	Dependency string
	Reason     DependencyReason
}

func (e *DependencyError) Error() string {
	if e.Reason == DependencyMissing {
		return fmt.Sprintf("there is no %q step in the pipeline but %q depends on it", e.Dependency, e.Step)
	}
	return fmt.Sprintf("step %q depends on step %q and must run after it", e.Step, e.Dependency)
}

// Location is the source position an error was raised at.
type Location struct {
	Function string
	File     string
	Line     int
}

// String returns "file:line", or "" for an unknown location.
func (l Location) String() string {
	if l.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(l.File), l.Line)
}

// DomainError is an expected failure surfaced by a step, such as a remote
// feed being unavailable. It stops the run and is logged with its kind,
// message and the location it was created at.
//
// Steps wanting to skip instead of stop return EndStep.
type DomainError struct {
	// Kind names the failure, e.g. "FeedUnavailable".
	Kind string
	Err  error

	location Location
}

// NewDomainError creates a DomainError of the given kind, recording the
// caller's source location.
func NewDomainError(kind, format string, args ...any) *DomainError {
	return newDomainError(kind, fmt.Errorf(format, args...))
}

// WrapDomainError marks err as a DomainError of the given kind, recording
// the caller's source location.
func WrapDomainError(kind string, err error) *DomainError {
	return newDomainError(kind, err)
}

func newDomainError(kind string, err error) *DomainError {
	var loc Location
	// Skip newDomainError and the exported constructor.
	if pc, file, line, ok := runtime.Caller(2); ok {
		loc = Location{File: file, Line: line}
		if fn := runtime.FuncForPC(pc); fn != nil {
			loc.Function = fn.Name()
		}
	}
	return &DomainError{Kind: kind, Err: err, location: loc}
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Location returns where the error was created.
func (e *DomainError) Location() Location {
	return e.location
}

// PanicError wraps a value recovered from a panicking step.
type PanicError struct {
	Value    any
	location Location
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Location returns where the panic was raised, when it could be determined.
func (e *PanicError) Location() Location {
	return e.location
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// errorLocation finds where err was raised. Errors created with
// github.com/pkg/errors carry a stack; plain errors have no location.
func errorLocation(err error) Location {
	var located interface{ Location() Location }
	if errors.As(err, &located) {
		return located.Location()
	}
	var st stackTracer
	if errors.As(err, &st) {
		if frames := st.StackTrace(); len(frames) > 0 {
			return frameLocation(frames[0])
		}
	}
	return Location{}
}

// errorKind names the error type for the log record.
func errorKind(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) && domainErr.Kind != "" {
		return domainErr.Kind
	}
	return fmt.Sprintf("%T", err)
}

func frameLocation(f pkgerrors.Frame) Location {
	pc := uintptr(f) - 1
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return Location{}
	}
	file, line := fn.FileLine(pc)
	return Location{Function: fn.Name(), File: file, Line: line}
}

// panicLocation returns the first frame outside the runtime, which is where
// the panic was raised. It must be called from the deferred recover.
func panicLocation() Location {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			return Location{Function: frame.Function, File: frame.File, Line: frame.Line}
		}
		if !more {
			return Location{}
		}
	}
}
