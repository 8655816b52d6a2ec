package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// WriterSink writes formatted records to an io.Writer (stdout for the echo
// sink, a buffer in tests).
type WriterSink struct {
	w         io.Writer
	formatter Formatter
}

// NewWriterSink creates a sink writing to w. A nil formatter means LineFormatter.
func NewWriterSink(w io.Writer, formatter Formatter) *WriterSink {
	if formatter == nil {
		formatter = LineFormatter{}
	}
	return &WriterSink{w: w, formatter: formatter}
}

// Write implements Sink.
func (s *WriterSink) Write(_ context.Context, rec Record) error {
	_, err := io.WriteString(s.w, s.formatter.Format(rec))
	return err
}

// FileSink appends formatted records to a file. The file and its parent
// directories are created on the first write, so constructing a pipeline
// that never logs leaves nothing behind.
type FileSink struct {
	path      string
	formatter Formatter

	mu   sync.Mutex
	file *os.File
}

// NewFileSink creates a sink appending to path. A nil formatter means LineFormatter.
func NewFileSink(path string, formatter Formatter) *FileSink {
	if formatter == nil {
		formatter = LineFormatter{}
	}
	return &FileSink{path: path, formatter: formatter}
}

// Path returns the file the sink writes to.
func (s *FileSink) Path() string {
	return s.path
}

// Write implements Sink.
func (s *FileSink) Write(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening log file %q: %w", s.path, err)
		}
		s.file = f
	}

	_, err := s.file.WriteString(s.formatter.Format(rec))
	return err
}

// Close closes the underlying file if it was opened.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
