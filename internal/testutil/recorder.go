package testutil

import (
	"errors"
	"sync"
)

// RecordedEvent is one Send call captured by EventRecorder.
type RecordedEvent struct {
	Event string
	Data  any
}

// EventRecorder is an in-memory relay.EventWriter. Set FailAfter to
// make Send fail once that many events were accepted, simulating a
// client disconnect.
type EventRecorder struct {
	FailAfter int

	mu     sync.Mutex
	events []RecordedEvent
}

// NewEventRecorder creates a recorder that never fails.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{FailAfter: -1}
}

func (r *EventRecorder) Send(event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailAfter >= 0 && len(r.events) >= r.FailAfter {
		return errors.New("client disconnected")
	}
	r.events = append(r.events, RecordedEvent{Event: event, Data: data})
	return nil
}

// Events returns a snapshot of the captured events.
func (r *EventRecorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedEvent(nil), r.events...)
}

// Named returns the captured events with the given name.
func (r *EventRecorder) Named(event string) []RecordedEvent {
	var out []RecordedEvent
	for _, e := range r.Events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
