// Package audit records the append-only event trail of saves, failures and
// manual interventions.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"frontpipe/pkg/errors"
)

// Event kinds.
const (
	EventSaved     = "saved"
	EventError     = "error"
	EventManual    = "manual"
	EventFound     = "found"
	EventWrongDate = "wrong_date"
)

// Event is one audit trail entry.
type Event struct {
	Timestamp    string `json:"ts"`
	Counterparty string `json:"counterparty"`
	Stream       string `json:"stream"`
	Event        string `json:"event"`
	Detail       string `json:"detail,omitempty"`
}

// Sink appends events for one target date. Appends must be durable before
// returning.
type Sink interface {
	Append(targetDate string, event Event) error
	Close() error
}

// JSONLSink appends events to one JSON-lines file per target date under an
// events directory. Lines are flushed per append; the files are only ever
// opened in append mode so concurrent runs interleave instead of clobbering.
type JSONLSink struct {
	dir string
	mu  sync.Mutex
}

// NewJSONLSink creates the events directory if needed.
func NewJSONLSink(dir string) (*JSONLSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.StateError(errors.CodeStateSaveFailed, dir, err)
	}
	return &JSONLSink{dir: dir}, nil
}

// Append writes one event line, stamping the event time if unset.
func (s *JSONLSink) Append(targetDate string, event Event) error {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	line, err := json.Marshal(event)
	if err != nil {
		return errors.StateError(errors.CodeStateSaveFailed, targetDate, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, fmt.Sprintf("events_%s.jsonl", targetDate))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.StateError(errors.CodeStateSaveFailed, targetDate, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.StateError(errors.CodeStateSaveFailed, targetDate, err)
	}
	return f.Sync()
}

// Close is a no-op; files are closed per append.
func (s *JSONLSink) Close() error { return nil }

// MemorySink collects events in memory for tests.
type MemorySink struct {
	mu     sync.Mutex
	Events map[string][]Event
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{Events: make(map[string][]Event)}
}

// Append records the event, stamping the event time if unset.
func (s *MemorySink) Append(targetDate string, event Event) error {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events[targetDate] = append(s.Events[targetDate], event)
	return nil
}

// Close is a no-op.
func (s *MemorySink) Close() error { return nil }
