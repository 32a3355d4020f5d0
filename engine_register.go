package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/authforge/identity/internal/metrics"
	"github.com/authforge/identity/otp"
	"github.com/authforge/identity/rule"
	"github.com/authforge/identity/user"
)

// uniqueIdentifierRule suspends on the identity store to check email and
// username availability before a registration is attempted. The store's
// unique constraint remains the authority under concurrency; this rule
// exists to fail the common case before hashing and event emission.
type uniqueIdentifierRule struct {
	store    IdentityStore
	email    string
	username string
}

func (r uniqueIdentifierRule) Code() string    { return "identifier_taken" }
func (r uniqueIdentifierRule) Message() string { return "email or username already in use" }

func (r uniqueIdentifierRule) IsBrokenContext(ctx context.Context) (bool, error) {
	if r.email != "" {
		_, err := r.store.LoadByEmail(ctx, r.email)
		switch {
		case err == nil:
			return true, nil
		case !errors.Is(err, ErrIdentityNotFound):
			return false, err
		}
	}
	if r.username != "" {
		_, err := r.store.LoadByUsername(ctx, r.username)
		switch {
		case err == nil:
			return true, nil
		case !errors.Is(err, ErrIdentityNotFound):
			return false, err
		}
	}
	return false, nil
}

// Register creates a new identity in the Pending status and persists it.
// Duplicate email or username is [ErrConflict]; a password rejected by
// policy is [ErrPasswordPolicy].
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (RegisterResult, error) {
	if err := e.checkOpen(); err != nil {
		return RegisterResult{}, err
	}

	check := uniqueIdentifierRule{
		store:    e.identities,
		email:    strings.TrimSpace(req.Email),
		username: strings.TrimSpace(req.Username),
	}
	if err := rule.CheckContext(ctx, check); err != nil {
		if rule.IsViolation(err) {
			e.metrics.Inc(metrics.MetricRegisterConflict)
			return RegisterResult{}, ErrConflict
		}
		return RegisterResult{}, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		e.metrics.Inc(metrics.MetricRegisterInvalid)
		return RegisterResult{}, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	u, err := user.Register(user.Registration{
		Email:        req.Email,
		PhoneNumber:  req.PhoneNumber,
		Username:     req.Username,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
	}, e.now())
	if err != nil {
		e.metrics.Inc(metrics.MetricRegisterInvalid)
		return RegisterResult{}, err
	}

	if err := e.commit(ctx, u, true); err != nil {
		if errors.Is(err, ErrConflict) {
			e.metrics.Inc(metrics.MetricRegisterConflict)
		}
		return RegisterResult{}, err
	}

	e.metrics.Inc(metrics.MetricRegisterSuccess)
	e.emitAudit(ctx, "identity.register", u.ID, "", true, nil)
	e.logger.InfoContext(ctx, "identity registered",
		slog.String("identity_id", u.ID),
		slog.String("status", u.Status.String()),
	)
	return RegisterResult{IdentityID: u.ID, Status: u.Status}, nil
}

// RequestEmailVerification issues a fresh email verification code for the
// identity, replacing any previous one. The raw code is returned exactly
// once; delivery is the caller's concern.
func (e *Engine) RequestEmailVerification(ctx context.Context, identityID string) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return "", err
	}
	if u.Email == "" {
		return "", user.ErrInvalidEmail
	}

	code, err := e.codes.Issue(ctx, u.ID, otp.PurposeEmailVerification, e.config.Codes.EmailTTL)
	if err != nil {
		return "", err
	}
	e.metrics.Inc(metrics.MetricCodeIssued)
	e.emitAudit(ctx, "identity.email_verification_requested", u.ID, "", true, nil)
	return code, nil
}

// ConfirmEmailVerification consumes the verification code, marks the
// email verified, and activates a Pending identity. Any code miss is
// [ErrCodeInvalid].
func (e *Engine) ConfirmEmailVerification(ctx context.Context, identityID, code string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return err
	}

	ok, err := e.codes.Validate(ctx, u.ID, otp.PurposeEmailVerification, code)
	if err != nil {
		return err
	}
	if !ok {
		e.metrics.Inc(metrics.MetricCodeRejected)
		e.emitAudit(ctx, "identity.email_verified", u.ID, "", false, ErrCodeInvalid)
		return ErrCodeInvalid
	}
	e.metrics.Inc(metrics.MetricCodeValidated)

	now := e.now()
	if err := u.VerifyEmail(now); err != nil {
		return err
	}
	if u.Status == user.StatusPending {
		if err := u.Activate(now); err != nil {
			return err
		}
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.metrics.Inc(metrics.MetricEmailVerified)
	e.emitAudit(ctx, "identity.email_verified", u.ID, "", true, nil)
	return nil
}

// RequestPhoneVerification issues a fresh phone verification code,
// replacing any previous one.
func (e *Engine) RequestPhoneVerification(ctx context.Context, identityID string) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return "", err
	}
	if u.PhoneNumber == "" {
		return "", user.ErrInvalidPhone
	}

	code, err := e.codes.Issue(ctx, u.ID, otp.PurposePhoneVerification, e.config.Codes.PhoneTTL)
	if err != nil {
		return "", err
	}
	e.metrics.Inc(metrics.MetricCodeIssued)
	e.emitAudit(ctx, "identity.phone_verification_requested", u.ID, "", true, nil)
	return code, nil
}

// ConfirmPhoneVerification consumes the verification code and marks the
// phone number verified. It also activates a Pending identity whose only
// identifier is the phone number.
func (e *Engine) ConfirmPhoneVerification(ctx context.Context, identityID, code string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return err
	}

	ok, err := e.codes.Validate(ctx, u.ID, otp.PurposePhoneVerification, code)
	if err != nil {
		return err
	}
	if !ok {
		e.metrics.Inc(metrics.MetricCodeRejected)
		e.emitAudit(ctx, "identity.phone_verified", u.ID, "", false, ErrCodeInvalid)
		return ErrCodeInvalid
	}
	e.metrics.Inc(metrics.MetricCodeValidated)

	now := e.now()
	if err := u.VerifyPhone(now); err != nil {
		return err
	}
	if u.Status == user.StatusPending && u.Email == "" {
		if err := u.Activate(now); err != nil {
			return err
		}
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.metrics.Inc(metrics.MetricPhoneVerified)
	e.emitAudit(ctx, "identity.phone_verified", u.ID, "", true, nil)
	return nil
}
