package es

import (
	"fmt"

	"github.com/authforge/identity/rule"
)

// Aggregate is implemented by every aggregate root built on [Root]. Apply
// mutates aggregate state for one event; it must be an exhaustive switch
// over the aggregate's closed event set and must not raise further events.
type Aggregate interface {
	Apply(event Event) error
}

// Root is the embeddable base for event-sourced aggregates. It owns the
// pending event buffer and the monotonic version counter used as the
// optimistic-concurrency token.
//
// Root is not safe for concurrent use. Each command loads one aggregate
// instance, mutates it in isolation, and hands it to persistence; the
// store's version check provides ordering across concurrent commands.
type Root struct {
	version int
	pending []Event
}

// RestoreRoot returns a Root positioned at a stored version with an empty
// pending buffer. Stores use it when rehydrating snapshots.
func RestoreRoot(version int) Root {
	return Root{version: version}
}

// Version returns the number of accepted mutations since creation.
func (r *Root) Version() int { return r.version }

// PendingEvents returns the buffered events without clearing them.
func (r *Root) PendingEvents() []Event {
	out := make([]Event, len(r.pending))
	copy(out, r.pending)
	return out
}

// Raise applies the event to the aggregate, buffers it, and advances the
// version. Rule checks must happen before Raise; once an event is applied
// the mutation is accepted.
func (r *Root) Raise(agg Aggregate, event Event) error {
	if err := agg.Apply(event); err != nil {
		return err
	}
	r.pending = append(r.pending, event)
	r.version++
	return nil
}

// LoadFromHistory replays past events through the same Apply dispatch
// without buffering them, reconstituting state from a stored log. The
// pending buffer is left empty.
func (r *Root) LoadFromHistory(agg Aggregate, events []Event) error {
	for _, event := range events {
		if err := agg.Apply(event); err != nil {
			return fmt.Errorf("es: replay %s: %w", event.EventName(), err)
		}
		r.version++
	}
	return nil
}

// DrainEvents returns the pending buffer and clears it. Each buffered
// event is handed out at most once across dispatch rounds.
func (r *Root) DrainEvents() []Event {
	out := r.pending
	r.pending = nil
	return out
}

// CheckRules evaluates rules in order and fails fast on the first broken
// one, before any state mutation. Rules are never silently skipped.
func (r *Root) CheckRules(rules ...rule.Rule) error {
	return rule.Check(rules...)
}
