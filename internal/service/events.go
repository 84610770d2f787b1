package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"conversion-job-service/internal/entity"
)

type EventType string

const (
	EventTypeState    EventType = "state"
	EventTypeStage    EventType = "stage"
	EventTypeProgress EventType = "progress"
)

// Event is a sequenced job notification. Seq is global to the controller
// and strictly increasing.
type Event struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	JobID     uuid.UUID       `json:"job_id"`
	Type      EventType       `json:"type"`
	State     entity.JobState `json:"state,omitempty"`
	Stage     string          `json:"stage,omitempty"`
	Progress  float64         `json:"progress"`
	Message   string          `json:"message,omitempty"`
}

// EventBus keeps a bounded history of events for incremental reads.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

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

// Since returns the events of jobID with sequence strictly greater than seq.
// A nil jobID matches every job.
func (b *EventBus) Since(jobID uuid.UUID, seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0)
	for _, ev := range b.events {
		if ev.Seq <= seq {
			continue
		}
		if jobID != uuid.Nil && ev.JobID != jobID {
			continue
		}
		out = append(out, ev)
	}
	return out
}
