package identity

import (
	"context"
	"io"
	"time"

	"github.com/authforge/identity/es"
	"github.com/authforge/identity/internal/audit"
	"github.com/authforge/identity/internal/metrics"
	"github.com/authforge/identity/user"
)

// IdentityStore is the persistence contract for the identity aggregate.
// Implementations must enforce the aggregate version as an optimistic
// concurrency token: a stale update fails with [ErrVersionConflict], never
// a silent overwrite. Stores return detached copies; aggregate instances
// are never shared across operations.
type IdentityStore interface {
	// Load returns the identity by id, or [ErrIdentityNotFound].
	Load(ctx context.Context, id string) (*user.User, error)
	// LoadByEmail returns the identity owning the email (case-insensitive),
	// or [ErrIdentityNotFound].
	LoadByEmail(ctx context.Context, email string) (*user.User, error)
	// LoadByUsername returns the identity owning the username
	// (case-insensitive), or [ErrIdentityNotFound].
	LoadByUsername(ctx context.Context, username string) (*user.User, error)
	// Add persists a new identity; a duplicate id, email, or username is
	// [ErrConflict].
	Add(ctx context.Context, u *user.User) error
	// Update persists an existing identity at its pre-mutation version.
	// A version mismatch is [ErrVersionConflict]; a duplicate email or
	// username taken concurrently is [ErrConflict].
	Update(ctx context.Context, u *user.User) error
}

// Clock is the single injectable time source used for every expiry and
// lockout comparison. Swap it for a fixed function in tests.
type Clock func() time.Time

// Subscriber receives domain events drained from a persisted aggregate.
// Handle errors propagate out of the dispatch round; they are not
// swallowed.
type Subscriber interface {
	Handle(ctx context.Context, event es.Event) error
}

// SubscriberFunc adapts a function to [Subscriber].
type SubscriberFunc func(ctx context.Context, event es.Event) error

// Handle calls f.
func (f SubscriberFunc) Handle(ctx context.Context, event es.Event) error {
	return f(ctx, event)
}

// RegisterRequest is the input for [Engine.Register]. At least one of
// Email and PhoneNumber is required.
type RegisterRequest struct {
	Email       string
	PhoneNumber string
	Username    string
	FirstName   string
	LastName    string
	Password    string
}

// RegisterResult is returned by [Engine.Register].
type RegisterResult struct {
	IdentityID string
	Status     user.Status
}

// LoginRequest is the input for [Engine.Login]. IP and UserAgent are
// optional and recorded on issued refresh tokens.
type LoginRequest struct {
	Identifier string
	Password   string
	IP         string
	UserAgent  string
}

// LoginResult is returned by [Engine.Login] and
// [Engine.ConfirmLoginTwoFactor]. When TwoFactorRequired is set, the
// tokens are empty and TwoFactorCode must be delivered to the user over an
// out-of-band channel chosen by the caller; the engine never sends it.
type LoginResult struct {
	IdentityID   string
	AccessToken  string
	RefreshToken string

	TwoFactorRequired bool
	TwoFactorCode     string
}

// TokenPair is returned by [Engine.Refresh].
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AuthResult is the outcome of [Engine.ValidateAccess].
type AuthResult struct {
	IdentityID  string
	TokenID     string
	Permissions []string
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = audit.Event

// AuditSink receives [AuditEvent] values from the engine's audit
// dispatcher.
type AuditSink = audit.Sink

// NoOpAuditSink is an [AuditSink] that silently discards all events.
type NoOpAuditSink = audit.NoOpSink

// NewChannelAuditSink creates a buffered channel-based [AuditSink].
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterAuditSink creates an [AuditSink] that writes one JSON
// object per line to w.
func NewJSONWriterAuditSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// MetricID identifies a specific counter in the in-process metrics.
type MetricID = metrics.MetricID

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot = metrics.Snapshot
