package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// Severity is the importance of a pipeline log record. Sinks are attached
// with a minimum Severity and only receive records at or above it.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityError
	SeverityAlert
)

// LevelAlert is the slog level used for alert records. It sits above
// slog.LevelError so standard handlers still treat alerts as errors.
const LevelAlert = slog.Level(12)

// String returns the lower-case name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityError:
		return "error"
	case SeverityAlert:
		return "alert"
	default:
		return "unknown"
	}
}

// Label returns the upper-case name used in formatted log lines.
func (s Severity) Label() string {
	return strings.ToUpper(s.String())
}

// Level converts the severity to the slog level it is emitted at.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityError:
		return slog.LevelError
	default:
		return LevelAlert
	}
}

// SeverityOf folds an arbitrary slog level into the four pipeline severities.
// Warn has no counterpart and is treated as info.
func SeverityOf(level slog.Level) Severity {
	switch {
	case level < slog.LevelInfo:
		return SeverityDebug
	case level < slog.LevelError:
		return SeverityInfo
	case level < LevelAlert:
		return SeverityError
	default:
		return SeverityAlert
	}
}

// ParseSeverity parses a severity name as written in configuration files.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return SeverityDebug, nil
	case "info":
		return SeverityInfo, nil
	case "error":
		return SeverityError, nil
	case "alert":
		return SeverityAlert, nil
	default:
		return SeverityDebug, fmt.Errorf("unknown severity: %q", name)
	}
}

// replaceLevel renders LevelAlert as "ALERT" instead of slog's "ERROR+4".
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if level, ok := a.Value.Any().(slog.Level); ok && level >= LevelAlert {
		return slog.String(slog.LevelKey, SeverityAlert.Label())
	}
	return a
}
