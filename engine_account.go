package identity

import (
	"context"
	"time"

	"github.com/authforge/identity/internal"
	"github.com/authforge/identity/internal/metrics"
)

// EnableTwoFactor activates the second factor and returns the generated
// shared secret. The secret is stored on the aggregate; enabling while
// already enabled is a rule violation.
func (e *Engine) EnableTwoFactor(ctx context.Context, identityID string) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return "", err
	}

	secret, err := internal.NewTwoFactorSecret()
	if err != nil {
		return "", err
	}
	if err := u.EnableTwoFactor(secret, e.now()); err != nil {
		return "", err
	}
	if err := e.commit(ctx, u, false); err != nil {
		return "", err
	}

	e.emitAudit(ctx, "identity.two_factor_enabled", u.ID, "", true, nil)
	return secret, nil
}

// DisableTwoFactor deactivates the second factor. Disabling while
// inactive is a no-op.
func (e *Engine) DisableTwoFactor(ctx context.Context, identityID string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return err
	}
	if err := u.DisableTwoFactor(e.now()); err != nil {
		return err
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.emitAudit(ctx, "identity.two_factor_disabled", u.ID, "", true, nil)
	return nil
}

// Lock applies an administrative lockout window. A non-positive duration
// uses the automatic lockout length.
func (e *Engine) Lock(ctx context.Context, identityID string, d time.Duration) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return err
	}
	if err := u.Lock(d, e.now()); err != nil {
		return err
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.metrics.Inc(metrics.MetricAccountLocked)
	e.emitAudit(ctx, "identity.locked", u.ID, "", true, nil)
	return nil
}

// Unlock clears the lockout window and the failure tally. Unlocking an
// identity that is neither locked nor carrying failures is a no-op.
func (e *Engine) Unlock(ctx context.Context, identityID string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return err
	}
	if err := u.Unlock(e.now()); err != nil {
		return err
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.metrics.Inc(metrics.MetricAccountUnlocked)
	e.emitAudit(ctx, "identity.unlocked", u.ID, "", true, nil)
	return nil
}

// Suspend administratively disables the identity. Suspended identities
// fail every authentication path until reactivated.
func (e *Engine) Suspend(ctx context.Context, identityID, reason string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return err
	}
	if err := u.Suspend(reason, e.now()); err != nil {
		return err
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.metrics.Inc(metrics.MetricAccountSuspended)
	e.emitAudit(ctx, "identity.suspended", u.ID, "", true, nil)
	return nil
}

// Activate transitions the identity to Active, reversing a suspension or
// completing onboarding without code verification.
func (e *Engine) Activate(ctx context.Context, identityID string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return err
	}
	if err := u.Activate(e.now()); err != nil {
		return err
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.emitAudit(ctx, "identity.activated", u.ID, "", true, nil)
	return nil
}

// ChangeEmail replaces the email address and resets its verified flag; a
// fresh verification flow must follow.
func (e *Engine) ChangeEmail(ctx context.Context, identityID, newEmail string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return err
	}
	if err := u.ChangeEmail(newEmail, e.now()); err != nil {
		return err
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.emitAudit(ctx, "identity.email_changed", u.ID, "", true, nil)
	return nil
}

// ChangePhoneNumber replaces the phone number and resets its verified
// flag.
func (e *Engine) ChangePhoneNumber(ctx context.Context, identityID, newPhone string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return err
	}
	if err := u.ChangePhoneNumber(newPhone, e.now()); err != nil {
		return err
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.emitAudit(ctx, "identity.phone_changed", u.ID, "", true, nil)
	return nil
}
