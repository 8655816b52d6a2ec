package pipeline

import "fmt"

// Validate checks that step identities are unique and that every declared
// dependency is part of steps and comes strictly before its dependent.
// The declared order is authoritative: nothing is reordered.
//
// A missing or misplaced dependency is reported as a *DependencyError, a
// nil or duplicate step as a *ConfigurationError. A step depending on
// itself is an ordering error.
func Validate(steps []Step) error {
	index := make(map[string]int, len(steps))
	names := make([]string, len(steps))
	for i, step := range steps {
		if step == nil {
			return &ConfigurationError{Msg: fmt.Sprintf("step %d is nil", i)}
		}
		name := StepName(step)
		if prev, ok := index[name]; ok {
			return &ConfigurationError{Msg: fmt.Sprintf("duplicate step %q at positions %d and %d", name, prev, i)}
		}
		index[name] = i
		names[i] = name
	}

	for i, step := range steps {
		for _, dep := range dependencies(step) {
			pos, ok := index[dep]
			if !ok {
				return &DependencyError{Step: names[i], Dependency: dep, Reason: DependencyMissing}
			}
			if pos >= i {
				return &DependencyError{Step: names[i], Dependency: dep, Reason: DependencyOrder}
			}
		}
	}
	return nil
}
