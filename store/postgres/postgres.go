// Package postgres provides the durable identity store backed by a
// single identities table. The aggregate is persisted as its current
// snapshot plus a version column used as the optimistic concurrency
// token; the domain event log itself is not stored here.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/authforge/identity"
	"github.com/authforge/identity/es"
	"github.com/authforge/identity/user"
)

const uniqueViolation = "23505"

// Store implements identity.IdentityStore on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store on the given pool. The schema in schema.sql must be
// applied beforehand.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const selectColumns = `
	id, email, email_verified, phone_number, phone_verified,
	username, first_name, last_name,
	password_hash, two_factor_secret, two_factor_enabled,
	status, access_failed_count, lockout_end, last_login_at,
	roles, social_logins, version`

// Load returns the identity by id, or identity.ErrIdentityNotFound.
func (s *Store) Load(ctx context.Context, id string) (*user.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+selectColumns+` FROM identities WHERE id = $1`, id)
	return scanIdentity(row)
}

// LoadByEmail returns the identity owning the email, case-insensitively.
func (s *Store) LoadByEmail(ctx context.Context, email string) (*user.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+selectColumns+` FROM identities WHERE lower(email) = lower($1)`, email)
	return scanIdentity(row)
}

// LoadByUsername returns the identity owning the username,
// case-insensitively.
func (s *Store) LoadByUsername(ctx context.Context, username string) (*user.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+selectColumns+` FROM identities WHERE lower(username) = lower($1)`, username)
	return scanIdentity(row)
}

// Add inserts a new identity at its current version. A duplicate id,
// email, or username maps to identity.ErrConflict.
func (s *Store) Add(ctx context.Context, u *user.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identities (
			id, email, email_verified, phone_number, phone_verified,
			username, first_name, last_name,
			password_hash, two_factor_secret, two_factor_enabled,
			status, access_failed_count, lockout_end, last_login_at,
			roles, social_logins, version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		insertArgs(u)...)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// Update writes the identity snapshot guarded by its pre-mutation
// version. A missed guard is identity.ErrVersionConflict unless the row
// is gone entirely.
func (s *Store) Update(ctx context.Context, u *user.User) error {
	expected := u.Version() - len(u.PendingEvents())

	args := insertArgs(u)
	args = append(args, expected)
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities SET
			email = $2, email_verified = $3, phone_number = $4, phone_verified = $5,
			username = $6, first_name = $7, last_name = $8,
			password_hash = $9, two_factor_secret = $10, two_factor_enabled = $11,
			status = $12, access_failed_count = $13, lockout_end = $14, last_login_at = $15,
			roles = $16, social_logins = $17, version = $18
		WHERE id = $1 AND version = $19`,
		args...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, u.ID,
		).Scan(&exists); err != nil {
			return mapError(err)
		}
		if !exists {
			return identity.ErrIdentityNotFound
		}
		return identity.ErrVersionConflict
	}
	return nil
}

func insertArgs(u *user.User) []any {
	return []any{
		u.ID, u.Email, u.EmailVerified, u.PhoneNumber, u.PhoneVerified,
		u.Username, u.FirstName, u.LastName,
		u.PasswordHash, u.TwoFactorSecret, u.TwoFactorEnabled,
		int16(u.Status), u.AccessFailedCount, nullTime(u.LockoutEnd), nullTime(u.LastLoginAt),
		u.Roles, u.SocialLogins, u.Version(),
	}
}

func scanIdentity(row pgx.Row) (*user.User, error) {
	var (
		u         user.User
		status    int16
		lockout   *time.Time
		lastLogin *time.Time
		version   int
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.EmailVerified, &u.PhoneNumber, &u.PhoneVerified,
		&u.Username, &u.FirstName, &u.LastName,
		&u.PasswordHash, &u.TwoFactorSecret, &u.TwoFactorEnabled,
		&status, &u.AccessFailedCount, &lockout, &lastLogin,
		&u.Roles, &u.SocialLogins, &version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrIdentityNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}

	u.Status = user.Status(status)
	if lockout != nil {
		u.LockoutEnd = *lockout
	}
	if lastLogin != nil {
		u.LastLoginAt = *lastLogin
	}
	if u.Roles == nil {
		u.Roles = make(map[string]string)
	}
	if u.SocialLogins == nil {
		u.SocialLogins = make(map[string]string)
	}
	u.Root = es.RestoreRoot(version)
	return &u, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return identity.ErrConflict
	}
	return fmt.Errorf("%w: %v", identity.ErrStoreUnavailable, err)
}
