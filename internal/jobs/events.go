package jobs

import (
	"sync"
	"time"
)

// EventKind tags the variant carried by an Event.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventStatus    EventKind = "status"
	EventFileError EventKind = "fileError"
)

// Event is a progress, status or file error notification. Pair is set when
// the event concerns a single job.
type Event struct {
	Seq         int64     `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        EventKind `json:"kind"`
	RunID       string    `json:"runId,omitempty"`
	JobID       string    `json:"jobId,omitempty"`
	Pair        *Pair     `json:"pair,omitempty"`
	Percentage  float64   `json:"percentage,omitempty"`
	Completed   int       `json:"completed,omitempty"`
	Total       int       `json:"total,omitempty"`
	Message     string    `json:"message,omitempty"`
	Recoverable bool      `json:"recoverable,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink func(Event)

// Discard is a Sink that drops every event.
func Discard(Event) {}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Sink adapts the bus to the Sink signature.
func (b *EventBus) Sink() Sink {
	return func(e Event) { b.Publish(e) }
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq returns the sequence of the newest event.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}
