// Package audit keeps a bounded, in-memory trail of crypto job outcomes.
// Events carry identifiers and error kinds only; key material, payloads and
// tags never enter the trail.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeJob represents a processed crypto job.
	EventTypeJob EventType = "job"
	// EventTypeSelfTest represents a power-on self-test run.
	EventTypeSelfTest EventType = "self_test"
	// EventTypeProvision represents a key provisioned into the store.
	EventTypeProvision EventType = "provision"
)

// Event is a single audit log entry.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	EventType EventType     `json:"event_type"`
	Worker    string        `json:"worker,omitempty"`
	Operation string        `json:"operation,omitempty"`
	ClientID  uint32        `json:"client_id"`
	RequestID uint32        `json:"request_id"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(event *Event) error

	// LogJob records one processed crypto job.
	LogJob(worker, operation string, clientID, requestID uint32, success bool, err error, duration time.Duration)

	// Events returns a copy of the retained events, oldest first.
	Events() []*Event
}

// auditLogger implements the Logger interface.
type auditLogger struct {
	mu        sync.Mutex
	events    []*Event
	maxEvents int
	writer    EventWriter
}

// EventWriter is an interface for writing audit events to an external sink.
type EventWriter interface {
	WriteEvent(event *Event) error
}

// NewLogger creates a new audit logger retaining at most maxEvents entries.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	if writer == nil {
		writer = &defaultWriter{}
	}

	return &auditLogger{
		events:    make([]*Event, 0, maxEvents),
		maxEvents: maxEvents,
		writer:    writer,
	}
}

// Log records an audit event.
func (l *auditLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		// A failing external sink must not fail the job being audited;
		// the in-memory trail is the authoritative record.
		_ = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}

	return nil
}

// LogJob records one processed crypto job.
func (l *auditLogger) LogJob(worker, operation string, clientID, requestID uint32, success bool, err error, duration time.Duration) {
	event := &Event{
		Timestamp: time.Now(),
		EventType: EventTypeJob,
		Worker:    worker,
		Operation: operation,
		ClientID:  clientID,
		RequestID: requestID,
		Success:   success,
		Duration:  duration,
	}

	if err != nil {
		event.Error = err.Error()
	}

	l.Log(event)
}

// Events returns a copy of the retained events, oldest first.
func (l *auditLogger) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*Event, len(l.events))
	copy(events, l.events)
	return events
}

// defaultWriter writes events to stdout as JSON lines.
type defaultWriter struct{}

func (w *defaultWriter) WriteEvent(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	fmt.Printf("%s\n", string(data))
	return nil
}
