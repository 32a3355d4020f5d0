package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/authforge/identity/internal/metrics"
	"github.com/authforge/identity/otp"
	"github.com/authforge/identity/user"
)

// Login authenticates an identifier/password pair. Every rejection —
// unknown identifier, wrong password, locked or non-active account — is
// [ErrInvalidCredentials] with no distinguishing signal, and every
// rejection pays one full password verification so an unknown identifier
// cannot be told apart from a wrong password by timing. Wrong passwords
// advance the failure tally and may cascade into an automatic lockout.
//
// When the identity has a second factor enabled, the result carries a
// one-time challenge code instead of tokens; complete the login with
// [Engine.ConfirmLoginTwoFactor].
func (e *Engine) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	if err := e.checkOpen(); err != nil {
		return LoginResult{}, err
	}

	u, err := e.loadByIdentifier(ctx, req.Identifier)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.equalizeVerifyCost(req.Password)
			e.metrics.Inc(metrics.MetricLoginFailure)
			e.emitAudit(ctx, "identity.login", "", req.IP, false, ErrInvalidCredentials)
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	ok, err := e.hasher.Verify(req.Password, u.PasswordHash)
	if err != nil {
		e.logger.ErrorContext(ctx, "stored password hash unreadable",
			slog.String("identity_id", u.ID),
			slog.Any("error", err),
		)
		e.equalizeVerifyCost(req.Password)
		e.metrics.Inc(metrics.MetricLoginFailure)
		return LoginResult{}, ErrInvalidCredentials
	}
	if !ok {
		if err := e.recordLoginFailure(ctx, u, "password_mismatch", req.IP); err != nil {
			return LoginResult{}, err
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	now := e.now()
	if u.IsLockedOut(now) || u.Status != user.StatusActive {
		e.metrics.Inc(metrics.MetricLoginFailure)
		e.emitAudit(ctx, "identity.login", u.ID, req.IP, false, ErrInvalidCredentials)
		return LoginResult{}, ErrInvalidCredentials
	}

	if u.TwoFactorEnabled {
		code, err := e.codes.Issue(ctx, u.ID, otp.PurposeTwoFactorLogin, e.config.Codes.TwoFactorTTL)
		if err != nil {
			return LoginResult{}, err
		}
		e.metrics.Inc(metrics.MetricCodeIssued)
		e.metrics.Inc(metrics.MetricTwoFactorRequired)
		e.emitAudit(ctx, "identity.login_challenge", u.ID, req.IP, true, nil)
		return LoginResult{
			IdentityID:        u.ID,
			TwoFactorRequired: true,
			TwoFactorCode:     code,
		}, nil
	}

	return e.finishLogin(ctx, u, req.IP, req.UserAgent)
}

// equalizeVerifyCost verifies the supplied password against a throwaway
// hash generated at build time. Rejection paths that never reach a stored
// hash call it so they cost one verification like every other rejection.
func (e *Engine) equalizeVerifyCost(password string) {
	_, _ = e.hasher.Verify(password, e.dummyHash)
}

// ConfirmLoginTwoFactor completes a challenged login by consuming the
// one-time code. The code is single-use: a second confirmation with the
// same code fails. A failed challenge advances the failure tally like a
// wrong password. Every rejection is [ErrCodeInvalid]: a correct code on
// an account that can no longer authenticate is reported the same as a
// miss, so the caller never learns that a guessed code was right.
func (e *Engine) ConfirmLoginTwoFactor(ctx context.Context, identityID, code, ip, userAgent string) (LoginResult, error) {
	if err := e.checkOpen(); err != nil {
		return LoginResult{}, err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.metrics.Inc(metrics.MetricTwoFactorFailure)
			return LoginResult{}, ErrCodeInvalid
		}
		return LoginResult{}, err
	}

	ok, err := e.codes.Validate(ctx, u.ID, otp.PurposeTwoFactorLogin, code)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		e.metrics.Inc(metrics.MetricCodeRejected)
		e.metrics.Inc(metrics.MetricTwoFactorFailure)
		if err := e.recordLoginFailure(ctx, u, "two_factor_mismatch", ip); err != nil {
			return LoginResult{}, err
		}
		return LoginResult{}, ErrCodeInvalid
	}
	e.metrics.Inc(metrics.MetricCodeValidated)

	now := e.now()
	if u.IsLockedOut(now) || u.Status != user.StatusActive {
		e.metrics.Inc(metrics.MetricTwoFactorFailure)
		e.emitAudit(ctx, "identity.login", u.ID, ip, false, ErrCodeInvalid)
		return LoginResult{}, ErrCodeInvalid
	}

	result, err := e.finishLogin(ctx, u, ip, userAgent)
	if err != nil {
		return LoginResult{}, err
	}
	e.metrics.Inc(metrics.MetricTwoFactorSuccess)
	return result, nil
}

// finishLogin records the accepted authentication and issues the token
// pair. The aggregate mutation commits before any token exists, so a
// persistence failure never leaves live credentials behind.
func (e *Engine) finishLogin(ctx context.Context, u *user.User, ip, userAgent string) (LoginResult, error) {
	if err := u.RecordLoginSuccess(ip, userAgent, e.now()); err != nil {
		e.metrics.Inc(metrics.MetricLoginFailure)
		e.emitAudit(ctx, "identity.login", u.ID, ip, false, ErrInvalidCredentials)
		return LoginResult{}, ErrInvalidCredentials
	}
	if err := e.commit(ctx, u, false); err != nil {
		return LoginResult{}, err
	}

	access, err := e.access.Create(u.ID, u.RoleNames())
	if err != nil {
		return LoginResult{}, err
	}
	refresh, err := e.refresh.Issue(ctx, u.ID, ip, userAgent)
	if err != nil {
		return LoginResult{}, err
	}

	e.metrics.Inc(metrics.MetricLoginSuccess)
	e.emitAudit(ctx, "identity.login", u.ID, ip, true, nil)
	e.logger.InfoContext(ctx, "login accepted", slog.String("identity_id", u.ID))
	return LoginResult{
		IdentityID:   u.ID,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// recordLoginFailure advances the failure tally, persists the events, and
// counts a cascaded lockout when one was triggered.
func (e *Engine) recordLoginFailure(ctx context.Context, u *user.User, reason, ip string) error {
	now := e.now()
	wasLocked := u.IsLockedOut(now)

	if err := u.RecordLoginFailure(reason, now); err != nil {
		return err
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.metrics.Inc(metrics.MetricLoginFailure)
	if !wasLocked && u.IsLockedOut(now) {
		e.metrics.Inc(metrics.MetricLockoutTriggered)
		e.logger.WarnContext(ctx, "automatic lockout triggered",
			slog.String("identity_id", u.ID),
			slog.Time("until", u.LockoutEnd),
		)
	}
	e.emitAudit(ctx, "identity.login", u.ID, ip, false, ErrInvalidCredentials)
	return nil
}

// ValidateAccess verifies an access token's signature and time window and
// returns its identity, token id, and permission claims. Validation is
// stateless: no store is consulted and revocation does not apply.
func (e *Engine) ValidateAccess(tokenStr string) (AuthResult, error) {
	if err := e.checkOpen(); err != nil {
		return AuthResult{}, err
	}

	start := time.Now()
	claims, err := e.access.Parse(tokenStr)
	e.metrics.ObserveValidateLatency(time.Since(start))
	if err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}
	return AuthResult{
		IdentityID:  claims.Subject,
		TokenID:     claims.ID,
		Permissions: claims.Permissions,
	}, nil
}
