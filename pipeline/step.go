package pipeline

import (
	"context"
	"reflect"
	"strings"
	"time"
)

// Step is one unit of pipeline work.
//
// Perform returns an Outcome to complete normally, end itself early with
// a status, or stop the whole run. A returned error always stops the run:
// a *DomainError is logged as an expected failure, anything else as an
// unhandled one. Panics are recovered and treated like unhandled errors.
type Step interface {
	Perform(ctx context.Context, rc *RunContext) (Outcome, error)
}

// Named is implemented by steps that choose their own identity. Without
// it a step is identified as "<package>.<Type>".
type Named interface {
	Name() string
}

// Dependent is implemented by steps that must run after other steps.
// Dependencies are step identities.
type Dependent interface {
	DependsOn() []string
}

// StartHooks is implemented by steps that run logic right before and
// after their "step started" record.
type StartHooks interface {
	OnBeforeLogStart(rc *RunContext)
	OnAfterLogStart(rc *RunContext)
}

// FinishHooks is implemented by steps that run logic right before and
// after their "step finished" record.
type FinishHooks interface {
	OnBeforeLogFinish(rc *RunContext)
	OnAfterLogFinish(rc *RunContext)
}

// StepFunc adapts a function to the Step interface. Its identity must be
// given with Func.
type StepFunc func(ctx context.Context, rc *RunContext) (Outcome, error)

// Perform calls f(ctx, rc).
func (f StepFunc) Perform(ctx context.Context, rc *RunContext) (Outcome, error) {
	return f(ctx, rc)
}

// Func creates a named step from a function.
func Func(name string, fn StepFunc, dependsOn ...string) Step {
	return &funcStep{Base: Base{StepName: name, Requires: dependsOn}, fn: fn}
}

type funcStep struct {
	Base
	fn StepFunc
}

func (s *funcStep) Perform(ctx context.Context, rc *RunContext) (Outcome, error) {
	return s.fn(ctx, rc)
}

// Base can be embedded by steps to get a configurable identity and
// dependency list. Steps built through a Registry receive the name and
// dependencies of their definition this way.
type Base struct {
	StepName string
	Requires []string
}

// Name implements Named. An empty StepName falls back to the type name.
func (b *Base) Name() string {
	return b.StepName
}

// DependsOn implements Dependent.
func (b *Base) DependsOn() []string {
	return b.Requires
}

func (b *Base) setIdentity(name string, dependsOn []string) {
	b.StepName = name
	b.Requires = append([]string(nil), dependsOn...)
}

// identifiable is satisfied by any step embedding Base.
type identifiable interface {
	setIdentity(name string, dependsOn []string)
}

// StepName returns the identity of a step: its Name when it implements
// Named and returns a non-empty name, otherwise "<package>.<Type>" where
// package is the last element of the import path.
//
// Example: a *PriceImport in github.com/acme/sync/steps is "steps.PriceImport".
func StepName(step Step) string {
	if named, ok := step.(Named); ok {
		if name := named.Name(); name != "" {
			return name
		}
	}
	t := reflect.TypeOf(step)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	pkg := t.PkgPath()
	if i := strings.LastIndex(pkg, "/"); i >= 0 {
		pkg = pkg[i+1:]
	}
	if pkg == "" {
		return t.String()
	}
	return pkg + "." + t.Name()
}

// dependencies returns the declared dependencies of a step.
func dependencies(step Step) []string {
	if dep, ok := step.(Dependent); ok {
		return dep.DependsOn()
	}
	return nil
}

// StepResult records what happened to one step during a run.
type StepResult struct {
	Name   string
	State  State
	Status Status
	// Reason is the reason given with EndStep or AbortRun, or the error
	// message of a failed step.
	Reason string
	// Err is the error returned by the step, if any.
	Err      error
	Started  time.Time
	Duration time.Duration
}
