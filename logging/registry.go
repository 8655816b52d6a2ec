package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Registry fans pipeline log records out to a set of sinks, each with its
// own minimum severity. It implements slog.Handler, so steps and the
// orchestrator log through an ordinary *slog.Logger obtained from Logger.
//
// Sink failures never propagate to the caller: they are reported to the
// fallback logger and the record is still offered to the remaining sinks.
type Registry struct {
	channel string
	state   *registryState
	attrs   []slog.Attr
	groups  []string
}

// registryState is shared between a Registry and every handler derived
// from it through WithAttrs/WithGroup, so sinks attached later are seen by
// loggers created earlier.
type registryState struct {
	mu       sync.Mutex
	sinks    []attachedSink
	fallback *slog.Logger
}

type attachedSink struct {
	sink Sink
	min  Severity
}

// NewRegistry creates an empty registry for the named pipeline. fallback
// receives sink failures; when nil, slog.Default() is used.
func NewRegistry(channel string, fallback *slog.Logger) *Registry {
	if fallback == nil {
		fallback = slog.Default()
	}
	return &Registry{
		channel: channel,
		state: &registryState{
			fallback: fallback.With("component", "log_registry", "pipeline", channel),
		},
	}
}

// Attach adds a sink that receives every record whose severity is at least min.
func (r *Registry) Attach(sink Sink, min Severity) {
	if sink == nil {
		return
	}
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	r.state.sinks = append(r.state.sinks, attachedSink{sink: sink, min: min})
}

// Len returns the number of attached sinks.
func (r *Registry) Len() int {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	return len(r.state.sinks)
}

// Log emits a record with the given severity, message and context fields.
func (r *Registry) Log(ctx context.Context, severity Severity, msg string, fields map[string]any) {
	r.Logger().Log(ctx, severity.Level(), msg, fieldsToAttrs(fields)...)
}

// Logger returns a slog logger writing through this registry.
func (r *Registry) Logger() *slog.Logger {
	return slog.New(r)
}

// Close closes every attached sink that implements io.Closer.
func (r *Registry) Close() error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	var errs []error
	for _, s := range r.state.sinks {
		if closer, ok := s.sink.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Enabled reports whether at least one sink accepts records at level.
func (r *Registry) Enabled(_ context.Context, level slog.Level) bool {
	severity := SeverityOf(level)

	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	for _, s := range r.state.sinks {
		if s.min <= severity {
			return true
		}
	}
	return false
}

// Handle converts the slog record and dispatches it. It always returns nil.
func (r *Registry) Handle(ctx context.Context, sr slog.Record) error {
	rec := recordFromSlog(r.channel, sr, r.attrs, r.groups)
	r.dispatch(ctx, rec)
	return nil
}

// WithAttrs returns a handler whose records carry attrs in their context.
func (r *Registry) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return r
	}
	child := r.clone()
	if len(r.groups) > 0 {
		// Nest under the current group path so the context shape matches
		// what a JSON handler would produce.
		nested := slog.Attr{Key: r.groups[len(r.groups)-1], Value: slog.GroupValue(attrs...)}
		for i := len(r.groups) - 2; i >= 0; i-- {
			nested = slog.Attr{Key: r.groups[i], Value: slog.GroupValue(nested)}
		}
		child.attrs = append(child.attrs, nested)
		return child
	}
	child.attrs = append(child.attrs, attrs...)
	return child
}

// WithGroup returns a handler that nests subsequent attributes under name.
func (r *Registry) WithGroup(name string) slog.Handler {
	if name == "" {
		return r
	}
	child := r.clone()
	child.groups = append(child.groups, name)
	return child
}

func (r *Registry) clone() *Registry {
	return &Registry{
		channel: r.channel,
		state:   r.state,
		attrs:   append([]slog.Attr(nil), r.attrs...),
		groups:  append([]string(nil), r.groups...),
	}
}

// dispatch delivers rec to every eligible sink. Writes are serialized so
// sinks do not need their own locking; the signal handler and the main
// loop may log concurrently.
func (r *Registry) dispatch(ctx context.Context, rec Record) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	for _, s := range r.state.sinks {
		if s.min > rec.Severity {
			continue
		}
		if err := safeWrite(ctx, s.sink, rec); err != nil {
			r.state.fallback.Warn("log sink failed",
				"sink", fmt.Sprintf("%T", s.sink),
				"severity", rec.Severity.String(),
				"error", err,
			)
		}
	}
}

func safeWrite(ctx context.Context, sink Sink, rec Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sink panicked: %v", p)
		}
	}()
	return sink.Write(ctx, rec)
}
