package identity

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/authforge/identity/internal/audit"
	"github.com/authforge/identity/internal/metrics"
	"github.com/authforge/identity/otp"
	"github.com/authforge/identity/password"
	"github.com/authforge/identity/token"
	"github.com/authforge/identity/user"
)

// Engine is the identity and credential lifecycle service: registration,
// verification, login with lockout and optional two-factor, token
// issuance and rotation, password management, and account administration.
//
// Every command follows the same shape: load the aggregate, mutate it
// through its own operations, persist at the pre-mutation version, then
// dispatch the drained domain events. Engines are safe for concurrent
// use; obtain one through [Builder.Build].
type Engine struct {
	config     Config
	clock      Clock
	identities IdentityStore
	codes      *otp.Service
	access     *token.AccessManager
	refresh    *token.RefreshService
	hasher     *password.Hasher
	dummyHash  string
	events     *EventDispatcher
	audit      *audit.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	closed     atomic.Bool
}

// Close flushes and stops the audit pipeline. Commands issued after Close
// fail with [ErrEngineClosed].
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.audit.Close()
	return nil
}

// Subscribe registers a domain event subscriber. Safe to call on a
// running engine.
func (e *Engine) Subscribe(s Subscriber) {
	e.events.Subscribe(s)
}

// MetricsSnapshot returns a point-in-time copy of all engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports how many audit events were discarded under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

func (e *Engine) checkOpen() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

func (e *Engine) now() time.Time {
	return e.clock()
}

// loadByIdentifier resolves a login identifier: anything containing an
// '@' is treated as an email, everything else as a username.
func (e *Engine) loadByIdentifier(ctx context.Context, identifier string) (*user.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrIdentityNotFound
	}
	if strings.Contains(identifier, "@") {
		return e.identities.LoadByEmail(ctx, identifier)
	}
	return e.identities.LoadByUsername(ctx, identifier)
}

// commit persists the aggregate and dispatches its drained events. The
// store call happens first; events are only visible to subscribers after
// the mutation is durable.
func (e *Engine) commit(ctx context.Context, u *user.User, isNew bool) error {
	if len(u.PendingEvents()) == 0 {
		return nil
	}

	var err error
	if isNew {
		err = e.identities.Add(ctx, u)
	} else {
		err = e.identities.Update(ctx, u)
	}
	if err != nil {
		return err
	}

	drained := u.DrainEvents()
	if err := e.events.Dispatch(ctx, drained); err != nil {
		e.metrics.Inc(metrics.MetricEventDispatchFailure)
		e.logger.ErrorContext(ctx, "event dispatch aborted",
			slog.String("identity_id", u.ID),
			slog.Any("error", err),
		)
		return err
	}
	for range drained {
		e.metrics.Inc(metrics.MetricEventsDispatched)
	}
	return nil
}

func (e *Engine) emitAudit(ctx context.Context, action, identityID, ip string, success bool, failure error) {
	event := AuditEvent{
		Timestamp:  e.now(),
		Action:     action,
		IdentityID: identityID,
		IP:         ip,
		Success:    success,
	}
	if failure != nil {
		event.Error = failure.Error()
	}
	e.audit.Emit(ctx, event)
}
