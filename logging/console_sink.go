package logging

import (
	"context"
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// Verbosity is the caller's own output level, as chosen with -q / -v flags.
type Verbosity int

const (
	VerbosityQuiet Verbosity = iota
	VerbosityNormal
	VerbosityVerbose
	VerbosityVeryVerbose
	VerbosityDebug
)

// DefaultVerbosityMap maps caller verbosity to the minimum severity shown
// on the console.
var DefaultVerbosityMap = map[Verbosity]Severity{
	VerbosityQuiet:       SeverityError,
	VerbosityNormal:      SeverityInfo,
	VerbosityVerbose:     SeverityInfo,
	VerbosityVeryVerbose: SeverityInfo,
	VerbosityDebug:       SeverityDebug,
}

// VerbosityFromCount converts a repeated -v flag count into a Verbosity.
func VerbosityFromCount(quiet bool, count int) Verbosity {
	if quiet {
		return VerbosityQuiet
	}
	v := VerbosityNormal + Verbosity(count)
	if v > VerbosityDebug {
		v = VerbosityDebug
	}
	return v
}

// ConsoleSink mirrors records to a terminal in real time with colored
// level tags:
//
//	2024-03-01 02:00:00 INFO sync started
type ConsoleSink struct {
	out       *termenv.Output
	threshold Severity
}

// NewConsoleSink creates a console sink. levelMap translates the caller's
// verbosity to a threshold; a nil map means DefaultVerbosityMap. Verbosity
// values missing from the map fall back to info.
func NewConsoleSink(w io.Writer, verbosity Verbosity, levelMap map[Verbosity]Severity, opts ...termenv.OutputOption) *ConsoleSink {
	if levelMap == nil {
		levelMap = DefaultVerbosityMap
	}
	threshold, ok := levelMap[verbosity]
	if !ok {
		threshold = SeverityInfo
	}
	return &ConsoleSink{
		out:       termenv.NewOutput(w, opts...),
		threshold: threshold,
	}
}

// Threshold returns the minimum severity this sink should be attached with.
func (s *ConsoleSink) Threshold() Severity {
	return s.threshold
}

// Write implements Sink.
func (s *ConsoleSink) Write(_ context.Context, rec Record) error {
	_, err := fmt.Fprintf(s.out, "%s %s %s%s\n",
		rec.Time.Format(DateTimeFormat),
		s.levelTag(rec.Severity),
		rec.Message,
		consoleContext(rec.Context),
	)
	return err
}

func (s *ConsoleSink) levelTag(severity Severity) string {
	style := s.out.String(severity.Label())
	switch severity {
	case SeverityDebug:
		style = style.Foreground(s.out.Color("8"))
	case SeverityInfo:
		style = style.Foreground(s.out.Color("2"))
	case SeverityError:
		style = style.Foreground(s.out.Color("1"))
	case SeverityAlert:
		style = style.Foreground(s.out.Color("15")).Background(s.out.Color("1")).Bold()
	}
	return style.String()
}

func consoleContext(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	return " " + encodeContext(fields)
}
