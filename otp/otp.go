// Package otp issues and validates short-lived, single-use numeric codes:
// email and phone verification, two-factor login challenges, and password
// resets. Only a SHA-256 hash of each code is ever stored; the raw code is
// returned exactly once at issue time.
package otp

import (
	"context"
	"errors"
	"time"

	"github.com/authforge/identity/internal"
)

// Purpose scopes a code to the flow it proves. An identity holds at most
// one live code per purpose; reissuing replaces the previous one.
type Purpose string

const (
	// PurposeEmailVerification proves control of an email address.
	PurposeEmailVerification Purpose = "email_verify"
	// PurposePhoneVerification proves control of a phone number.
	PurposePhoneVerification Purpose = "phone_verify"
	// PurposeTwoFactorLogin completes a two-factor login challenge.
	PurposeTwoFactorLogin Purpose = "two_factor"
	// PurposePasswordReset authorizes a password reset.
	PurposePasswordReset Purpose = "password_reset"
)

// ErrNoMatch is the uniform store-level miss: absent, expired, consumed,
// and hash-mismatch records are indistinguishable through it by design.
var ErrNoMatch = errors.New("otp: no matching code")

// Record is the persisted shape of an issued code.
type Record struct {
	IdentityID string
	Purpose    Purpose
	SecretHash [32]byte
	ExpiresAt  time.Time
	ConsumedAt time.Time
}

// Store persists hashed codes keyed by (identity id, purpose).
type Store interface {
	// Save inserts or replaces the record for its (identity, purpose) key.
	Save(ctx context.Context, rec Record, ttl time.Duration) error
	// Consume marks the live record matching the given hash consumed and
	// returns nil, as one atomic conditional update. Every miss — absent,
	// expired, already consumed, or hash mismatch — is [ErrNoMatch].
	Consume(ctx context.Context, identityID string, purpose Purpose, hash [32]byte, now time.Time) error
	// Delete removes the record for the key, if any.
	Delete(ctx context.Context, identityID string, purpose Purpose) error
}

// Service issues and single-use-validates one-time codes.
type Service struct {
	store  Store
	digits int
	now    func() time.Time
}

// NewService creates a code service. digits is the code length (4..10);
// now is the injected clock used for every expiry comparison.
func NewService(store Store, digits int, now func() time.Time) (*Service, error) {
	if store == nil {
		return nil, errors.New("otp: store required")
	}
	if digits < 4 || digits > 10 {
		return nil, errors.New("otp: digits must be between 4 and 10")
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, digits: digits, now: now}, nil
}

// Issue generates a numeric code from a cryptographically secure source,
// stores only its hash with the expiry, and returns the raw code. The raw
// value is never retrievable again.
func (s *Service) Issue(ctx context.Context, identityID string, purpose Purpose, ttl time.Duration) (string, error) {
	if identityID == "" {
		return "", errors.New("otp: identity id required")
	}
	if ttl <= 0 {
		return "", errors.New("otp: ttl must be positive")
	}

	code, err := internal.NewNumericCode(s.digits)
	if err != nil {
		return "", err
	}

	rec := Record{
		IdentityID: identityID,
		Purpose:    purpose,
		SecretHash: internal.HashSecret([]byte(code)),
		ExpiresAt:  s.now().Add(ttl),
	}
	if err := s.store.Save(ctx, rec, ttl); err != nil {
		return "", err
	}
	return code, nil
}

// Validate hashes the supplied code and consumes the matching record. The
// record is marked consumed before success is reported, so concurrent
// validations cannot both succeed. No-match, expired, already-consumed,
// and mismatch all return false with no distinguishing signal; a non-nil
// error only reports store unavailability.
func (s *Service) Validate(ctx context.Context, identityID string, purpose Purpose, code string) (bool, error) {
	if identityID == "" || code == "" {
		return false, nil
	}

	err := s.store.Consume(ctx, identityID, purpose, internal.HashSecret([]byte(code)), s.now())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNoMatch) {
		return false, nil
	}
	return false, err
}

// Invalidate consumes a specific code early without reporting whether it
// existed. Only the code whose hash matches the live record is affected,
// so a caller holding a stale code cannot kill a newer one. Idempotent.
func (s *Service) Invalidate(ctx context.Context, identityID string, purpose Purpose, code string) error {
	if identityID == "" || code == "" {
		return nil
	}
	err := s.store.Consume(ctx, identityID, purpose, internal.HashSecret([]byte(code)), s.now())
	if errors.Is(err, ErrNoMatch) {
		return nil
	}
	return err
}
