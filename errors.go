package identity

import "errors"

var (
	// ErrInvalidCredentials is the single generic login failure. No such
	// identity, wrong password, locked, and suspended accounts are
	// deliberately indistinguishable through it.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCodeInvalid is the single generic one-time-code failure, covering
	// unknown, expired, consumed, and mismatched codes uniformly.
	ErrCodeInvalid = errors.New("invalid or expired code")
	// ErrRefreshInvalid is the single generic refresh token failure.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrIdentityNotFound reports a missing identity on a non-sensitive
	// lookup. Login paths never surface it.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrConflict reports a unique email or username taken at commit time.
	ErrConflict = errors.New("identifier already in use")
	// ErrVersionConflict reports a stale aggregate version at persistence:
	// the identity was modified concurrently and must be reloaded.
	ErrVersionConflict = errors.New("identity version conflict")
	// ErrPasswordPolicy reports a new password rejected by policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrStoreUnavailable reports a transient storage failure. It is never
	// retried inside the engine; callers decide retry policy.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineClosed reports use of an engine after Close.
	ErrEngineClosed = errors.New("engine closed")
)
