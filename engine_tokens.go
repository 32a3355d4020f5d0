package identity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/authforge/identity/internal/metrics"
	"github.com/authforge/identity/token"
	"github.com/authforge/identity/user"
)

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued. Presenting the same token twice fails the second
// time — the replay signature of a stolen token — and every rejection is
// the uniform [ErrRefreshInvalid].
func (e *Engine) Refresh(ctx context.Context, rawRefresh, ip, userAgent string) (TokenPair, error) {
	if err := e.checkOpen(); err != nil {
		return TokenPair{}, err
	}

	rec, next, err := e.refresh.Rotate(ctx, rawRefresh, ip, userAgent)
	if err != nil {
		if errors.Is(err, token.ErrRefreshReused) {
			e.metrics.Inc(metrics.MetricRefreshReuseDetected)
			e.logger.WarnContext(ctx, "refresh token reuse detected",
				slog.String("ip", ip),
			)
		}
		if errors.Is(err, token.ErrRefreshInvalid) {
			e.metrics.Inc(metrics.MetricRefreshFailure)
			e.emitAudit(ctx, "identity.refresh", "", ip, false, ErrRefreshInvalid)
			return TokenPair{}, ErrRefreshInvalid
		}
		return TokenPair{}, err
	}

	u, err := e.identities.Load(ctx, rec.IdentityID)
	if err != nil {
		e.revokeIssued(ctx, next)
		if errors.Is(err, ErrIdentityNotFound) {
			e.metrics.Inc(metrics.MetricRefreshFailure)
			return TokenPair{}, ErrRefreshInvalid
		}
		return TokenPair{}, err
	}
	if u.IsLockedOut(e.now()) || u.Status != user.StatusActive {
		e.revokeIssued(ctx, next)
		e.metrics.Inc(metrics.MetricRefreshFailure)
		e.emitAudit(ctx, "identity.refresh", u.ID, ip, false, ErrRefreshInvalid)
		return TokenPair{}, ErrRefreshInvalid
	}

	access, err := e.access.Create(u.ID, u.RoleNames())
	if err != nil {
		e.revokeIssued(ctx, next)
		return TokenPair{}, err
	}

	e.metrics.Inc(metrics.MetricRefreshSuccess)
	e.emitAudit(ctx, "identity.refresh", u.ID, ip, true, nil)
	return TokenPair{AccessToken: access, RefreshToken: next}, nil
}

// revokeIssued best-effort revokes a replacement token issued inside a
// rotation that subsequently failed.
func (e *Engine) revokeIssued(ctx context.Context, raw string) {
	if err := e.refresh.Revoke(ctx, raw); err != nil {
		e.logger.ErrorContext(ctx, "orphaned refresh token not revoked", slog.Any("error", err))
	}
}

// Logout revokes the presented refresh token. Access tokens are stateless
// and simply expire; logging out with an already-invalid refresh token is
// not an error.
func (e *Engine) Logout(ctx context.Context, rawRefresh string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := e.refresh.Revoke(ctx, rawRefresh); err != nil {
		return err
	}
	e.metrics.Inc(metrics.MetricLogout)
	e.emitAudit(ctx, "identity.logout", "", "", true, nil)
	return nil
}
