package logging

import (
	"context"
	"sync"
)

// MemorySink keeps every record it receives. Used to inspect what a run
// logged without parsing the log file.
type MemorySink struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write implements Sink.
func (s *MemorySink) Write(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Context != nil {
		fields := make(map[string]any, len(rec.Context))
		for k, v := range rec.Context {
			fields[k] = v
		}
		rec.Context = fields
	}
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of all captured records in emission order.
func (s *MemorySink) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Record, len(s.records))
	copy(result, s.records)
	return result
}

// Messages returns the messages of all captured records.
func (s *MemorySink) Messages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := make([]string, len(s.records))
	for i, rec := range s.records {
		messages[i] = rec.Message
	}
	return messages
}

// Count returns how many records were captured at exactly severity.
func (s *MemorySink) Count(severity Severity) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, rec := range s.records {
		if rec.Severity == severity {
			n++
		}
	}
	return n
}

// Clear removes all captured records.
func (s *MemorySink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}
