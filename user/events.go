package user

import (
	"time"

	"github.com/authforge/identity/es"
)

// Event names, stable identifiers carried to subscribers.
const (
	EventRegistered        = "identity.registered"
	EventEmailChanged      = "identity.email_changed"
	EventEmailVerified     = "identity.email_verified"
	EventPhoneChanged      = "identity.phone_changed"
	EventPhoneVerified     = "identity.phone_verified"
	EventPasswordChanged   = "identity.password_changed"
	EventLoginSucceeded    = "identity.login_succeeded"
	EventLoginFailed       = "identity.login_failed"
	EventLockedOut         = "identity.locked_out"
	EventUnlocked          = "identity.unlocked"
	EventTwoFactorEnabled  = "identity.two_factor_enabled"
	EventTwoFactorDisabled = "identity.two_factor_disabled"
	EventRoleAdded         = "identity.role_added"
	EventRoleRemoved       = "identity.role_removed"
	EventRolesChanged      = "identity.roles_changed"
	EventSocialLoginAdded  = "identity.social_login_added"
	EventSuspended         = "identity.suspended"
	EventActivated         = "identity.activated"
)

// Registered records the creation of an identity. It carries the full
// initial credential state so that replaying history reproduces the
// aggregate exactly; the password hash is opaque, never plaintext.
type Registered struct {
	es.Base
	IdentityID   string
	Email        string
	PhoneNumber  string
	Username     string
	FirstName    string
	LastName     string
	PasswordHash string
}

func (*Registered) EventName() string { return EventRegistered }

// EmailChanged records an email replacement, carrying the previous address
// and its verified flag at the time of the change.
type EmailChanged struct {
	es.Base
	PreviousEmail    string
	PreviousVerified bool
	NewEmail         string
}

func (*EmailChanged) EventName() string { return EventEmailChanged }

// EmailVerified records a successful email verification.
type EmailVerified struct {
	es.Base
	Email string
}

func (*EmailVerified) EventName() string { return EventEmailVerified }

// PhoneChanged records a phone number replacement.
type PhoneChanged struct {
	es.Base
	PreviousPhone    string
	PreviousVerified bool
	NewPhone         string
}

func (*PhoneChanged) EventName() string { return EventPhoneChanged }

// PhoneVerified records a successful phone verification.
type PhoneVerified struct {
	es.Base
	PhoneNumber string
}

func (*PhoneVerified) EventName() string { return EventPhoneVerified }

// PasswordChanged records a credential replacement. Applying it also
// resets the failed-attempt counter.
type PasswordChanged struct {
	es.Base
	NewHash string
}

func (*PasswordChanged) EventName() string { return EventPasswordChanged }

// LoginSucceeded records an accepted authentication.
type LoginSucceeded struct {
	es.Base
	IP        string
	UserAgent string
}

func (*LoginSucceeded) EventName() string { return EventLoginSucceeded }

// LoginFailed records a rejected authentication attempt and the failure
// tally after this attempt.
type LoginFailed struct {
	es.Base
	Reason      string
	FailedCount int
}

func (*LoginFailed) EventName() string { return EventLoginFailed }

// LockedOut records the start of a lockout window, either cascaded from
// repeated failures or applied by an operator.
type LockedOut struct {
	es.Base
	Until time.Time
}

func (*LockedOut) EventName() string { return EventLockedOut }

// Unlocked records an explicit unlock; applying it also clears the
// failed-attempt counter.
type Unlocked struct {
	es.Base
}

func (*Unlocked) EventName() string { return EventUnlocked }

// TwoFactorEnabled records activation of the second factor. The secret is
// opaque and carried for replay fidelity.
type TwoFactorEnabled struct {
	es.Base
	Secret string
}

func (*TwoFactorEnabled) EventName() string { return EventTwoFactorEnabled }

// TwoFactorDisabled records deactivation of the second factor.
type TwoFactorDisabled struct {
	es.Base
}

func (*TwoFactorDisabled) EventName() string { return EventTwoFactorDisabled }

// RoleAdded records a role membership grant.
type RoleAdded struct {
	es.Base
	RoleID   string
	RoleName string
}

func (*RoleAdded) EventName() string { return EventRoleAdded }

// RoleRemoved records a role membership revocation.
type RoleRemoved struct {
	es.Base
	RoleID   string
	RoleName string
}

func (*RoleRemoved) EventName() string { return EventRoleRemoved }

// RolesChanged is the aggregate-level audit event raised alongside every
// role mutation, carrying the sorted name sets before and after.
type RolesChanged struct {
	es.Base
	Before []string
	After  []string
}

func (*RolesChanged) EventName() string { return EventRolesChanged }

// SocialLoginAdded records an external login link. Provider is the
// lower-cased provider key.
type SocialLoginAdded struct {
	es.Base
	Provider       string
	ProviderUserID string
}

func (*SocialLoginAdded) EventName() string { return EventSocialLoginAdded }

// Suspended records an administrative suspension.
type Suspended struct {
	es.Base
	Reason string
}

func (*Suspended) EventName() string { return EventSuspended }

// Activated records a transition to the Active status.
type Activated struct {
	es.Base
}

func (*Activated) EventName() string { return EventActivated }
