// Package identity is an embeddable identity and credential lifecycle
// engine: event-sourced identity aggregates, registration and
// verification flows, login with automatic lockout and optional
// two-factor challenges, argon2id password storage, stateless signed
// access tokens, and rotating hashed refresh tokens.
//
// # Design
//
// The identity aggregate owns every state transition and records each
// accepted mutation as a domain event. The engine orchestrates: it loads
// an aggregate, invokes its operations, persists at the pre-mutation
// version, and only then dispatches the drained events to subscribers.
// Credential material is never stored raw — passwords as argon2id PHC
// strings, one-time codes and refresh secrets as SHA-256 hashes.
//
// Security-sensitive rejections are uniform. Login failures of every
// cause return ErrInvalidCredentials, code misses ErrCodeInvalid, and
// refresh rejections ErrRefreshInvalid, so callers cannot be tricked
// into leaking which part failed.
//
// # Architecture boundaries
//
// Subpackages es, rule, user, otp, token, and password are free of
// transport and storage concerns; Redis and Postgres bindings live here
// and in store/postgres. Exporters under metrics/export read engine
// snapshots and never reach into internals.
//
// # What this package must NOT do
//
// The engine does not deliver codes (email, SMS), does not serve HTTP,
// and does not interpret permissions — it stamps role names into access
// token claims and leaves enforcement to the caller.
package identity
