package user

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/authforge/identity/es"
)

// Status is the administrative lifecycle state of an identity. The lockout
// overlay is orthogonal: a future LockoutEnd blocks authentication
// regardless of Status.
type Status uint8

const (
	// StatusPending marks a freshly registered, unverified identity.
	StatusPending Status = iota
	// StatusActive marks a verified identity allowed to authenticate.
	StatusActive
	// StatusSuspended marks an administratively disabled identity.
	StatusSuspended
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusSuspended:
		return "suspended"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

const (
	// MaxAccessFailures is the consecutive-failure tally that cascades
	// into an automatic lockout.
	MaxAccessFailures = 5
	// AutoLockoutDuration is the length of the cascaded lockout window.
	AutoLockoutDuration = 15 * time.Minute
)

// Validation failures, rejected before any rule evaluation.
var (
	ErrMissingIdentifier    = errors.New("user: email or phone number required")
	ErrMissingName          = errors.New("user: first name required")
	ErrMissingPasswordHash  = errors.New("user: password hash required")
	ErrInvalidEmail         = errors.New("user: invalid email address")
	ErrInvalidPhone         = errors.New("user: invalid phone number")
	ErrEmptyRole            = errors.New("user: role id and name required")
	ErrEmptySocialLogin     = errors.New("user: social login provider and id required")
	ErrEmptyTwoFactorSecret = errors.New("user: two-factor secret required")
)

// User is the identity aggregate root. State is mutated only through its
// own operations; every accepted mutation is an applied, buffered event.
type User struct {
	es.Root

	ID            string
	Email         string
	EmailVerified bool
	PhoneNumber   string
	PhoneVerified bool
	Username      string
	FirstName     string
	LastName      string

	PasswordHash     string
	TwoFactorSecret  string
	TwoFactorEnabled bool

	Status            Status
	AccessFailedCount int
	LockoutEnd        time.Time
	LastLoginAt       time.Time

	// Roles maps role id to role name.
	Roles map[string]string
	// SocialLogins maps lower-cased provider to the provider's user id.
	SocialLogins map[string]string
}

// Registration is the input for [Register].
type Registration struct {
	Email        string
	PhoneNumber  string
	Username     string
	FirstName    string
	LastName     string
	PasswordHash string
}

// Register creates a new identity in the Pending status. At least one of
// email and phone number is required, along with a first name and an
// opaque password hash.
func Register(reg Registration, now time.Time) (*User, error) {
	reg.Email = strings.TrimSpace(reg.Email)
	reg.PhoneNumber = strings.TrimSpace(reg.PhoneNumber)
	reg.Username = strings.TrimSpace(reg.Username)
	reg.FirstName = strings.TrimSpace(reg.FirstName)
	reg.LastName = strings.TrimSpace(reg.LastName)

	if reg.Email == "" && reg.PhoneNumber == "" {
		return nil, ErrMissingIdentifier
	}
	if reg.Email != "" && !strings.Contains(reg.Email, "@") {
		return nil, ErrInvalidEmail
	}
	if reg.FirstName == "" {
		return nil, ErrMissingName
	}
	if reg.PasswordHash == "" {
		return nil, ErrMissingPasswordHash
	}

	u := &User{}
	err := u.raise(&Registered{
		Base:         es.NewBase(now),
		IdentityID:   uuid.NewString(),
		Email:        reg.Email,
		PhoneNumber:  reg.PhoneNumber,
		Username:     reg.Username,
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		PasswordHash: reg.PasswordHash,
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// FromHistory reconstitutes an identity by replaying its full event log.
// The pending buffer is empty afterwards.
func FromHistory(events []es.Event) (*User, error) {
	u := &User{}
	if err := u.Root.LoadFromHistory(u, events); err != nil {
		return nil, err
	}
	return u, nil
}

// Clone returns a deep copy of the snapshot state at the current version,
// with an empty pending buffer. Stores use it to avoid sharing aggregate
// instances across operations.
func (u *User) Clone() *User {
	cp := *u
	cp.Root = es.RestoreRoot(u.Version())
	cp.Roles = make(map[string]string, len(u.Roles))
	for k, v := range u.Roles {
		cp.Roles[k] = v
	}
	cp.SocialLogins = make(map[string]string, len(u.SocialLogins))
	for k, v := range u.SocialLogins {
		cp.SocialLogins[k] = v
	}
	return &cp
}

// IsLockedOut reports whether the lockout overlay blocks authentication at
// the given instant.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEnd.After(now)
}

func (u *User) raise(event es.Event) error {
	return u.Root.Raise(u, event)
}

// ChangeEmail replaces the email address and resets its verified flag.
func (u *User) ChangeEmail(newEmail string, now time.Time) error {
	newEmail = strings.TrimSpace(newEmail)
	if newEmail == "" || !strings.Contains(newEmail, "@") {
		return ErrInvalidEmail
	}
	if newEmail == u.Email {
		return nil
	}
	return u.raise(&EmailChanged{
		Base:             es.NewBase(now),
		PreviousEmail:    u.Email,
		PreviousVerified: u.EmailVerified,
		NewEmail:         newEmail,
	})
}

// VerifyEmail marks the current email verified. It fails when no email is
// present and is a no-op when already verified.
func (u *User) VerifyEmail(now time.Time) error {
	if err := u.CheckRules(emailPresentRule{u}); err != nil {
		return err
	}
	if u.EmailVerified {
		return nil
	}
	return u.raise(&EmailVerified{
		Base:  es.NewBase(now),
		Email: u.Email,
	})
}

// ChangePhoneNumber replaces the phone number and resets its verified flag.
func (u *User) ChangePhoneNumber(newPhone string, now time.Time) error {
	newPhone = strings.TrimSpace(newPhone)
	if newPhone == "" {
		return ErrInvalidPhone
	}
	if newPhone == u.PhoneNumber {
		return nil
	}
	return u.raise(&PhoneChanged{
		Base:             es.NewBase(now),
		PreviousPhone:    u.PhoneNumber,
		PreviousVerified: u.PhoneVerified,
		NewPhone:         newPhone,
	})
}

// VerifyPhone marks the current phone number verified. It fails when no
// phone is present and is a no-op when already verified.
func (u *User) VerifyPhone(now time.Time) error {
	if err := u.CheckRules(phonePresentRule{u}); err != nil {
		return err
	}
	if u.PhoneVerified {
		return nil
	}
	return u.raise(&PhoneVerified{
		Base:        es.NewBase(now),
		PhoneNumber: u.PhoneNumber,
	})
}

// ChangePassword replaces the password hash. Applying the event also
// resets the failed-attempt counter.
func (u *User) ChangePassword(newHash string, now time.Time) error {
	if strings.TrimSpace(newHash) == "" {
		return ErrMissingPasswordHash
	}
	return u.raise(&PasswordChanged{
		Base:    es.NewBase(now),
		NewHash: newHash,
	})
}

// RecordLoginSuccess accepts an authentication. It requires the identity
// to be Active and outside any lockout window; on success the failure
// tally and lockout are cleared and the login timestamp set.
func (u *User) RecordLoginSuccess(ip, userAgent string, now time.Time) error {
	if err := u.CheckRules(notLockedOutRule{u, now}, activeStatusRule{u}); err != nil {
		return err
	}
	return u.raise(&LoginSucceeded{
		Base:      es.NewBase(now),
		IP:        ip,
		UserAgent: userAgent,
	})
}

// RecordLoginFailure records a rejected authentication attempt. Failure is
// expected traffic: the operation itself always succeeds. When the tally
// reaches [MaxAccessFailures] the failure event cascades into a lockout
// event for [AutoLockoutDuration] from now.
func (u *User) RecordLoginFailure(reason string, now time.Time) error {
	failed := &LoginFailed{
		Base:        es.NewBase(now),
		Reason:      reason,
		FailedCount: u.AccessFailedCount + 1,
	}
	if err := u.raise(failed); err != nil {
		return err
	}
	if until, locked := lockoutAfterFailure(failed.FailedCount, now); locked {
		return u.raise(&LockedOut{
			Base:  es.NewBase(now),
			Until: until,
		})
	}
	return nil
}

// lockoutAfterFailure decides whether the given failure tally triggers an
// automatic lockout. Pure over (count, now) so the cascade is testable in
// isolation.
func lockoutAfterFailure(count int, now time.Time) (time.Time, bool) {
	if count != MaxAccessFailures {
		return time.Time{}, false
	}
	return now.Add(AutoLockoutDuration), true
}

// Lock applies an explicit lockout window. A non-positive duration uses
// [AutoLockoutDuration].
func (u *User) Lock(d time.Duration, now time.Time) error {
	if d <= 0 {
		d = AutoLockoutDuration
	}
	return u.raise(&LockedOut{
		Base:  es.NewBase(now),
		Until: now.Add(d),
	})
}

// Unlock clears the lockout window and the failure tally. Calling it on an
// identity that is neither locked nor carrying failures is a no-op.
func (u *User) Unlock(now time.Time) error {
	if !u.IsLockedOut(now) && u.AccessFailedCount == 0 {
		return nil
	}
	return u.raise(&Unlocked{Base: es.NewBase(now)})
}

// EnableTwoFactor activates the second factor with an opaque secret.
// Enabling while already active is a rule violation.
func (u *User) EnableTwoFactor(secret string, now time.Time) error {
	if strings.TrimSpace(secret) == "" {
		return ErrEmptyTwoFactorSecret
	}
	if err := u.CheckRules(twoFactorInactiveRule{u}); err != nil {
		return err
	}
	return u.raise(&TwoFactorEnabled{
		Base:   es.NewBase(now),
		Secret: secret,
	})
}

// DisableTwoFactor deactivates the second factor. Disabling while inactive
// is a no-op.
func (u *User) DisableTwoFactor(now time.Time) error {
	if !u.TwoFactorEnabled {
		return nil
	}
	return u.raise(&TwoFactorDisabled{Base: es.NewBase(now)})
}

// AddRole grants a role membership. A duplicate role id is a rule
// violation, not silently ignored. A RolesChanged event with the before
// and after name sets is raised alongside.
func (u *User) AddRole(roleID, roleName string, now time.Time) error {
	roleID = strings.TrimSpace(roleID)
	roleName = strings.TrimSpace(roleName)
	if roleID == "" || roleName == "" {
		return ErrEmptyRole
	}
	if err := u.CheckRules(roleAbsentRule{u, roleID}); err != nil {
		return err
	}
	before := u.roleNames()
	err := u.raise(&RoleAdded{
		Base:     es.NewBase(now),
		RoleID:   roleID,
		RoleName: roleName,
	})
	if err != nil {
		return err
	}
	return u.raise(&RolesChanged{
		Base:   es.NewBase(now),
		Before: before,
		After:  u.roleNames(),
	})
}

// RemoveRole revokes a role membership. An unknown role id is a rule
// violation. A RolesChanged event is raised alongside.
func (u *User) RemoveRole(roleID string, now time.Time) error {
	roleID = strings.TrimSpace(roleID)
	if err := u.CheckRules(rolePresentRule{u, roleID}); err != nil {
		return err
	}
	before := u.roleNames()
	err := u.raise(&RoleRemoved{
		Base:     es.NewBase(now),
		RoleID:   roleID,
		RoleName: u.Roles[roleID],
	})
	if err != nil {
		return err
	}
	return u.raise(&RolesChanged{
		Base:   es.NewBase(now),
		Before: before,
		After:  u.roleNames(),
	})
}

// AddSocialLogin links an external login. The provider key is
// case-insensitive and unique per provider.
func (u *User) AddSocialLogin(provider, providerUserID string, now time.Time) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	providerUserID = strings.TrimSpace(providerUserID)
	if provider == "" || providerUserID == "" {
		return ErrEmptySocialLogin
	}
	if err := u.CheckRules(socialLoginAbsentRule{u, provider}); err != nil {
		return err
	}
	return u.raise(&SocialLoginAdded{
		Base:           es.NewBase(now),
		Provider:       provider,
		ProviderUserID: providerUserID,
	})
}

// Suspend administratively disables the identity. Suspending an already
// suspended identity is a no-op.
func (u *User) Suspend(reason string, now time.Time) error {
	if u.Status == StatusSuspended {
		return nil
	}
	return u.raise(&Suspended{
		Base:   es.NewBase(now),
		Reason: reason,
	})
}

// Activate transitions the identity to Active. Activating an already
// active identity is a no-op.
func (u *User) Activate(now time.Time) error {
	if u.Status == StatusActive {
		return nil
	}
	return u.raise(&Activated{Base: es.NewBase(now)})
}

// RoleNames returns the sorted role name set.
func (u *User) RoleNames() []string {
	return u.roleNames()
}

func (u *User) roleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, name := range u.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply mutates aggregate state for one event. It is the closed dispatch
// table for the identity aggregate: every event variant must have a case.
func (u *User) Apply(event es.Event) error {
	switch ev := event.(type) {
	case *Registered:
		u.ID = ev.IdentityID
		u.Email = ev.Email
		u.PhoneNumber = ev.PhoneNumber
		u.Username = ev.Username
		u.FirstName = ev.FirstName
		u.LastName = ev.LastName
		u.PasswordHash = ev.PasswordHash
		u.Status = StatusPending
		u.AccessFailedCount = 0
		u.Roles = make(map[string]string)
		u.SocialLogins = make(map[string]string)
	case *EmailChanged:
		u.Email = ev.NewEmail
		u.EmailVerified = false
	case *EmailVerified:
		u.EmailVerified = true
	case *PhoneChanged:
		u.PhoneNumber = ev.NewPhone
		u.PhoneVerified = false
	case *PhoneVerified:
		u.PhoneVerified = true
	case *PasswordChanged:
		u.PasswordHash = ev.NewHash
		u.AccessFailedCount = 0
	case *LoginSucceeded:
		u.LastLoginAt = ev.OccurredAt()
		u.AccessFailedCount = 0
		u.LockoutEnd = time.Time{}
	case *LoginFailed:
		u.AccessFailedCount = ev.FailedCount
	case *LockedOut:
		u.LockoutEnd = ev.Until
	case *Unlocked:
		u.LockoutEnd = time.Time{}
		u.AccessFailedCount = 0
	case *TwoFactorEnabled:
		u.TwoFactorSecret = ev.Secret
		u.TwoFactorEnabled = true
	case *TwoFactorDisabled:
		u.TwoFactorSecret = ""
		u.TwoFactorEnabled = false
	case *RoleAdded:
		u.Roles[ev.RoleID] = ev.RoleName
	case *RoleRemoved:
		delete(u.Roles, ev.RoleID)
	case *RolesChanged:
		// Audit-only projection of a role mutation; state is carried by
		// the paired RoleAdded/RoleRemoved event.
	case *SocialLoginAdded:
		u.SocialLogins[ev.Provider] = ev.ProviderUserID
	case *Suspended:
		u.Status = StatusSuspended
	case *Activated:
		u.Status = StatusActive
	default:
		return fmt.Errorf("user: no applier for event %T", event)
	}
	return nil
}
