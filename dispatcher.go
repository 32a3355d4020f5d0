package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/authforge/identity/es"
)

// EventDispatcher delivers drained domain events to registered
// subscribers, in order, after the aggregate mutation has been persisted.
//
// Delivery is exactly-once per dispatch round: an event is marked
// published only after every subscriber accepted it, and marked events
// are skipped if the same slice is ever dispatched again. A subscriber
// error aborts the round mid-slice; the remaining unmarked events stay
// eligible for redelivery by the caller.
type EventDispatcher struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewEventDispatcher creates a dispatcher with an initial subscriber set.
func NewEventDispatcher(subscribers ...Subscriber) *EventDispatcher {
	d := &EventDispatcher{}
	for _, s := range subscribers {
		d.Subscribe(s)
	}
	return d
}

// Subscribe registers a subscriber for all future dispatch rounds.
func (d *EventDispatcher) Subscribe(s Subscriber) {
	if s == nil {
		return
	}
	d.mu.Lock()
	d.subscribers = append(d.subscribers, s)
	d.mu.Unlock()
}

// Dispatch delivers each unpublished event to every subscriber. The first
// subscriber error stops the round and is returned wrapped with the event
// name; events already delivered in full stay marked.
func (d *EventDispatcher) Dispatch(ctx context.Context, events []es.Event) error {
	if d == nil || len(events) == 0 {
		return nil
	}

	d.mu.RLock()
	subscribers := make([]Subscriber, len(d.subscribers))
	copy(subscribers, d.subscribers)
	d.mu.RUnlock()

	for _, event := range events {
		if event.Published() {
			continue
		}
		for _, s := range subscribers {
			if err := s.Handle(ctx, event); err != nil {
				return fmt.Errorf("dispatch %s: %w", event.EventName(), err)
			}
		}
		event.MarkPublished()
	}
	return nil
}
