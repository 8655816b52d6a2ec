package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// DateTimeFormat is the timestamp layout used by the line formatters.
const DateTimeFormat = "2006-01-02 15:04:05"

// Record is one pipeline log entry as delivered to sinks.
type Record struct {
	Time     time.Time
	Severity Severity
	Message  string
	// Context holds the structured fields of the record. Nil when empty.
	Context map[string]any
	// Channel is the name of the pipeline that emitted the record.
	Channel string
}

// Sink is a log destination. Write must not retain the record's Context map.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, rec Record) error

// Write calls f(ctx, rec).
func (f SinkFunc) Write(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// Formatter renders a record to text.
type Formatter interface {
	Format(rec Record) string
}

// LineFormatter renders records as
//
//	[2024-03-01 02:00:00] INFO: message {"key":"value"}
//
// An empty context renders as [].
type LineFormatter struct{}

// Format implements Formatter.
func (LineFormatter) Format(rec Record) string {
	return fmt.Sprintf("[%s] %s: %s %s\n",
		rec.Time.Format(DateTimeFormat),
		rec.Severity.Label(),
		rec.Message,
		encodeContext(rec.Context),
	)
}

func encodeContext(fields map[string]any) string {
	if len(fields) == 0 {
		return "[]"
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprintf("%v", fields)
	}
	return string(data)
}

// recordFromSlog converts an slog record plus the attributes accumulated via
// WithAttrs into a Record. Groups become nested maps.
func recordFromSlog(channel string, r slog.Record, attrs []slog.Attr, groups []string) Record {
	rec := Record{
		Time:     r.Time,
		Severity: SeverityOf(r.Level),
		Message:  r.Message,
		Channel:  channel,
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	if len(attrs) == 0 && r.NumAttrs() == 0 {
		return rec
	}

	root := make(map[string]any, len(attrs)+r.NumAttrs())
	for _, attr := range attrs {
		addAttr(root, attr)
	}

	target := root
	for _, group := range groups {
		child, ok := target[group].(map[string]any)
		if !ok {
			child = make(map[string]any)
			target[group] = child
		}
		target = child
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(target, a)
		return true
	})
	rec.Context = root
	return rec
}

func addAttr(into map[string]any, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	value := resolveValue(a.Value)
	group, isGroup := value.(map[string]any)
	isGroup = isGroup && a.Value.Resolve().Kind() == slog.KindGroup
	// Inline groups with an empty key merge into the parent.
	if a.Key == "" {
		if isGroup {
			mergeGroup(into, group)
		}
		return
	}
	if existing, ok := into[a.Key].(map[string]any); ok && isGroup {
		mergeGroup(existing, group)
		return
	}
	into[a.Key] = value
}

// mergeGroup copies src into dst, descending into groups present in both.
func mergeGroup(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				mergeGroup(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
}

// resolveValue converts a slog.Value to a JSON-serializable value.
// Errors are rendered through Error() so they survive encoding.
func resolveValue(v slog.Value) any {
	v = v.Resolve()

	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return v.Bool()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		val := v.Any()
		if err, ok := val.(error); ok {
			return err.Error()
		}
		if s, ok := val.(fmt.Stringer); ok {
			return s.String()
		}
		return val
	case slog.KindGroup:
		attrs := v.Group()
		group := make(map[string]any, len(attrs))
		for _, attr := range attrs {
			addAttr(group, attr)
		}
		return group
	default:
		return v.Any()
	}
}

// fieldsToAttrs converts a context map into slog attributes.
func fieldsToAttrs(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields))
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	return args
}
