package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// StepSpec describes one step of a pipeline definition.
type StepSpec struct {
	// Kind selects the registered factory, e.g. "sql".
	Kind string
	// Name overrides the step identity. Optional.
	Name string
	// DependsOn lists identities of steps that must run first.
	DependsOn []string
	// Decode unmarshals the kind-specific parameters into v. Nil when the
	// definition has no parameters.
	Decode func(v any) error
}

// Factory builds a step from its definition.
type Factory func(spec StepSpec) (Step, error)

// Registry maps step kinds to factories. Kinds are resolved once, when a
// pipeline definition is built, never while it runs.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for kind. Registering a kind twice is an error.
func (r *Registry) Register(kind string, factory Factory) error {
	if kind == "" || factory == nil {
		return fmt.Errorf("register step kind %q: kind and factory are required", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[kind]; ok {
		return fmt.Errorf("step kind %q already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// MustRegister is like Register but panics on error. Intended for
// package initialization.
func (r *Registry) MustRegister(kind string, factory Factory) {
	if err := r.Register(kind, factory); err != nil {
		panic(err)
	}
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Build creates the step described by spec. An unregistered kind yields a
// *ConfigurationError wrapping ErrUnknownStepKind.
func (r *Registry) Build(spec StepSpec) (Step, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("step %q", spec.Kind), Err: ErrUnknownStepKind}
	}

	if spec.Decode == nil {
		spec.Decode = func(any) error { return nil }
	}
	step, err := factory(spec)
	if err != nil {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("building %s step %q", spec.Kind, spec.Name), Err: err}
	}
	if step == nil {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("factory for %q returned no step", spec.Kind)}
	}

	if spec.Name != "" || len(spec.DependsOn) > 0 {
		id, ok := step.(identifiable)
		if !ok {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("step kind %q does not accept a name or dependencies", spec.Kind)}
		}
		id.setIdentity(spec.Name, spec.DependsOn)
	}
	return step, nil
}

// BuildAll builds every spec in order.
func (r *Registry) BuildAll(specs []StepSpec) ([]Step, error) {
	steps := make([]Step, 0, len(specs))
	for i, spec := range specs {
		step, err := r.Build(spec)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}
