package pipeline

import (
	"log/slog"
	"sort"
)

// SharedContext is the mutable data passed from step to step within one
// run. Steps run sequentially, so it is not safe for concurrent use and
// needs no locking.
type SharedContext struct {
	data map[string]any
}

// NewSharedContext creates a context holding a copy of initial.
func NewSharedContext(initial map[string]any) *SharedContext {
	data := make(map[string]any, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	return &SharedContext{data: data}
}

// Get returns the value stored under key.
func (c *SharedContext) Get(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (c *SharedContext) Set(key string, value any) {
	c.data[key] = value
}

// Delete removes key.
func (c *SharedContext) Delete(key string) {
	delete(c.data, key)
}

// Keys returns the stored keys in sorted order.
func (c *SharedContext) Keys() []string {
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored keys.
func (c *SharedContext) Len() int {
	return len(c.data)
}

// Lookup returns the value stored under key if it has type T.
//
//	rows, ok := pipeline.Lookup[int](rc.Shared, "rows_loaded")
func Lookup[T any](c *SharedContext, key string) (T, bool) {
	var zero T
	v, ok := c.data[key]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// RunContext is handed to every step. The logger and shared context are
// owned by the pipeline and valid for the duration of the run only.
type RunContext struct {
	// Pipeline is the pipeline name.
	Pipeline string
	// RunID identifies this run in every log record.
	RunID string
	// Env is the environment label of the run.
	Env string
	// Step is the identity of the step being executed.
	Step string
	// Logger writes to the pipeline's log sinks and carries the step name.
	Logger *slog.Logger
	// Shared is the data passed between steps.
	Shared *SharedContext
}
