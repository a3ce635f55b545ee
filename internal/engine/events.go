package engine

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType classifies an engine lifecycle event.
type EventType string

const (
	EventRecomputeScheduled EventType = "recompute_scheduled"
	EventStageCompleted     EventType = "stage_completed"
	EventStageFailed        EventType = "stage_failed"
	EventSnapshotPublished  EventType = "snapshot_published"
	EventTaskTimeout        EventType = "task_timeout"
	EventQueueFull          EventType = "queue_full"
)

// Event is one entry in the engine's bounded activity log.
type Event struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// EventLog is a fixed-capacity ring of engine events. Once full, each
// append drops the oldest entry.
type EventLog struct {
	mu     sync.Mutex
	events []Event
	next   int
	filled bool
}

// NewEventLog returns a log holding at most capacity events.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = 100
	}
	return &EventLog{events: make([]Event, capacity)}
}

// Append records an event, evicting the oldest when full.
func (l *EventLog) Append(evtType EventType, message string) Event {
	evt := Event{
		ID:      ulid.Make().String(),
		Type:    evtType,
		Message: message,
		At:      time.Now(),
	}

	l.mu.Lock()
	l.events[l.next] = evt
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.filled = true
	}
	l.mu.Unlock()

	return evt
}

// Events returns the retained events, oldest first.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.filled {
		out := make([]Event, l.next)
		copy(out, l.events[:l.next])
		return out
	}
	out := make([]Event, 0, len(l.events))
	out = append(out, l.events[l.next:]...)
	out = append(out, l.events[:l.next]...)
	return out
}

// Len reports how many events are retained.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.filled {
		return len(l.events)
	}
	return l.next
}
