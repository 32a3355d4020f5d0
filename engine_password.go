package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/authforge/identity/internal/metrics"
	"github.com/authforge/identity/otp"
)

// ChangePassword replaces the password after verifying the current one.
// A wrong current password is [ErrInvalidCredentials]; a new password
// rejected by policy is [ErrPasswordPolicy]. The failure tally resets
// with the change.
func (e *Engine) ChangePassword(ctx context.Context, identityID, currentPassword, newPassword string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(currentPassword, u.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, "identity.password_changed", u.ID, "", false, ErrInvalidCredentials)
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	if err := u.ChangePassword(hash, e.now()); err != nil {
		return err
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.metrics.Inc(metrics.MetricPasswordChanged)
	e.emitAudit(ctx, "identity.password_changed", u.ID, "", true, nil)
	return nil
}

// RequestPasswordReset issues a reset code for the identity owning the
// email. An unknown email reports success with an empty code so the
// operation cannot be used to probe which addresses exist; delivery of
// the raw code is the caller's concern.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}

	u, err := e.identities.LoadByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.metrics.Inc(metrics.MetricPasswordResetRequest)
			return "", nil
		}
		return "", err
	}

	code, err := e.codes.Issue(ctx, u.ID, otp.PurposePasswordReset, e.config.Codes.ResetTTL)
	if err != nil {
		return "", err
	}
	e.metrics.Inc(metrics.MetricCodeIssued)
	e.metrics.Inc(metrics.MetricPasswordResetRequest)
	e.emitAudit(ctx, "identity.password_reset_requested", u.ID, "", true, nil)
	return code, nil
}

// ConfirmPasswordReset consumes the reset code and replaces the password.
// The code is single-use; any miss is [ErrCodeInvalid]. A successful
// reset also clears any lockout so the owner regains access immediately.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, identityID, code, newPassword string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.metrics.Inc(metrics.MetricPasswordResetFailure)
			return ErrCodeInvalid
		}
		return err
	}

	ok, err := e.codes.Validate(ctx, u.ID, otp.PurposePasswordReset, code)
	if err != nil {
		return err
	}
	if !ok {
		e.metrics.Inc(metrics.MetricCodeRejected)
		e.metrics.Inc(metrics.MetricPasswordResetFailure)
		e.emitAudit(ctx, "identity.password_reset", u.ID, "", false, ErrCodeInvalid)
		return ErrCodeInvalid
	}
	e.metrics.Inc(metrics.MetricCodeValidated)

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	now := e.now()
	if err := u.ChangePassword(hash, now); err != nil {
		return err
	}
	if err := u.Unlock(now); err != nil {
		return err
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.metrics.Inc(metrics.MetricPasswordResetSuccess)
	e.emitAudit(ctx, "identity.password_reset", u.ID, "", true, nil)
	e.logger.InfoContext(ctx, "password reset completed", slog.String("identity_id", u.ID))
	return nil
}
