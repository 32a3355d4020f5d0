package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/authforge/identity/internal"
)

// ErrRefreshInvalid is the uniform refresh token failure: malformed,
// unknown, expired, and revoked tokens are indistinguishable through it.
var ErrRefreshInvalid = errors.New("token: invalid refresh token")

// ErrRefreshReused wraps [ErrRefreshInvalid] for a token that was already
// revoked, the replay signature of a stolen refresh token. Callers report
// it uniformly but may count it separately.
var ErrRefreshReused = fmt.Errorf("token: refresh token reuse detected: %w", ErrRefreshInvalid)

// RefreshRecord is the persisted shape of a refresh token. The raw secret
// never appears here; the record is keyed by its hash. Once revoked a
// record is immutable.
type RefreshRecord struct {
	ID         string
	IdentityID string
	SecretHash [32]byte
	IssuedIP   string
	UserAgent  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  time.Time
}

// RefreshStore persists refresh token records keyed by secret hash.
type RefreshStore interface {
	// Save inserts a new record.
	Save(ctx context.Context, rec RefreshRecord, ttl time.Duration) error
	// Revoke atomically marks the live record with the given hash revoked
	// and returns its prior state. Missing and expired records return
	// [ErrRefreshInvalid]; already-revoked records return
	// [ErrRefreshReused].
	Revoke(ctx context.Context, hash [32]byte, now time.Time) (RefreshRecord, error)
}

// RefreshService issues, validates, rotates, and revokes refresh tokens.
type RefreshService struct {
	store RefreshStore
	ttl   time.Duration
	now   func() time.Time
}

// NewRefreshService creates a refresh token service with the given
// lifetime and injected clock.
func NewRefreshService(store RefreshStore, ttl time.Duration, now func() time.Time) (*RefreshService, error) {
	if store == nil {
		return nil, errors.New("token: refresh store required")
	}
	if ttl <= 0 {
		return nil, errors.New("token: refresh TTL must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &RefreshService{store: store, ttl: ttl, now: now}, nil
}

// Issue generates a fresh refresh token for the identity and persists only
// its hash. The returned raw token is unrecoverable afterwards.
func (s *RefreshService) Issue(ctx context.Context, identityID, ip, userAgent string) (string, error) {
	if identityID == "" {
		return "", errors.New("token: identity id required")
	}

	id := uuid.New()
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return "", err
	}

	now := s.now()
	rec := RefreshRecord{
		ID:         id.String(),
		IdentityID: identityID,
		SecretHash: internal.HashSecret(secret[:]),
		IssuedIP:   ip,
		UserAgent:  userAgent,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	if err := s.store.Save(ctx, rec, s.ttl); err != nil {
		return "", err
	}
	return internal.EncodeRefreshToken(id, secret), nil
}

// Rotate revokes the presented token and issues a replacement for the same
// identity. Presenting the same token twice fails the second time — the
// primary replay detection for stolen refresh tokens.
func (s *RefreshService) Rotate(ctx context.Context, raw, ip, userAgent string) (RefreshRecord, string, error) {
	rec, err := s.revokeRaw(ctx, raw)
	if err != nil {
		return RefreshRecord{}, "", err
	}
	next, err := s.Issue(ctx, rec.IdentityID, ip, userAgent)
	if err != nil {
		return RefreshRecord{}, "", err
	}
	return rec, next, nil
}

// Revoke invalidates the presented token. Revoking an already invalid
// token is not an error.
func (s *RefreshService) Revoke(ctx context.Context, raw string) error {
	_, err := s.revokeRaw(ctx, raw)
	if errors.Is(err, ErrRefreshInvalid) {
		return nil
	}
	return err
}

func (s *RefreshService) revokeRaw(ctx context.Context, raw string) (RefreshRecord, error) {
	_, secret, err := internal.DecodeRefreshToken(raw)
	if err != nil {
		return RefreshRecord{}, ErrRefreshInvalid
	}
	return s.store.Revoke(ctx, internal.HashSecret(secret[:]), s.now())
}
