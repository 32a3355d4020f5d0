package es

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable fact raised by an aggregate. Concrete event types
// embed [Base] and add their own payload fields.
type Event interface {
	EventID() string
	EventName() string
	OccurredAt() time.Time
	Published() bool
	MarkPublished()
}

// Base carries the bookkeeping shared by all domain events: a unique id,
// the occurrence timestamp, and the published flag. The flag is monotonic:
// once set it is never cleared.
type Base struct {
	ID        string
	At        time.Time
	published bool
}

// NewBase creates event bookkeeping with a fresh id and the given timestamp.
func NewBase(at time.Time) Base {
	return Base{
		ID: uuid.NewString(),
		At: at,
	}
}

// EventID returns the unique id assigned at raise time.
func (b *Base) EventID() string { return b.ID }

// OccurredAt returns the timestamp assigned at raise time.
func (b *Base) OccurredAt() time.Time { return b.At }

// Published reports whether the event has been delivered to subscribers.
func (b *Base) Published() bool { return b.published }

// MarkPublished flips the published flag. It is set by the dispatch
// pipeline after every subscriber has accepted the event.
func (b *Base) MarkPublished() { b.published = true }
