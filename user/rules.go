package user

import "time"

// Rule codes, stable identifiers safe to report to callers.
const (
	CodeAccountLocked     = "account_locked"
	CodeAccountNotActive  = "account_not_active"
	CodeEmailMissing      = "email_missing"
	CodePhoneMissing      = "phone_missing"
	CodeTwoFactorActive   = "two_factor_already_enabled"
	CodeRoleDuplicate     = "role_duplicate"
	CodeRoleUnknown       = "role_unknown"
	CodeSocialLoginExists = "social_login_exists"
)

type notLockedOutRule struct {
	u   *User
	now time.Time
}

func (notLockedOutRule) Code() string    { return CodeAccountLocked }
func (notLockedOutRule) Message() string { return "account is temporarily locked" }
func (r notLockedOutRule) IsBroken() bool {
	return r.u.IsLockedOut(r.now)
}

type activeStatusRule struct {
	u *User
}

func (activeStatusRule) Code() string    { return CodeAccountNotActive }
func (activeStatusRule) Message() string { return "account is not active" }
func (r activeStatusRule) IsBroken() bool {
	return r.u.Status != StatusActive
}

type emailPresentRule struct {
	u *User
}

func (emailPresentRule) Code() string    { return CodeEmailMissing }
func (emailPresentRule) Message() string { return "no email address on record" }
func (r emailPresentRule) IsBroken() bool {
	return r.u.Email == ""
}

type phonePresentRule struct {
	u *User
}

func (phonePresentRule) Code() string    { return CodePhoneMissing }
func (phonePresentRule) Message() string { return "no phone number on record" }
func (r phonePresentRule) IsBroken() bool {
	return r.u.PhoneNumber == ""
}

type twoFactorInactiveRule struct {
	u *User
}

func (twoFactorInactiveRule) Code() string    { return CodeTwoFactorActive }
func (twoFactorInactiveRule) Message() string { return "two-factor authentication is already enabled" }
func (r twoFactorInactiveRule) IsBroken() bool {
	return r.u.TwoFactorEnabled
}

type roleAbsentRule struct {
	u      *User
	roleID string
}

func (roleAbsentRule) Code() string    { return CodeRoleDuplicate }
func (roleAbsentRule) Message() string { return "role is already assigned" }
func (r roleAbsentRule) IsBroken() bool {
	_, ok := r.u.Roles[r.roleID]
	return ok
}

type rolePresentRule struct {
	u      *User
	roleID string
}

func (rolePresentRule) Code() string    { return CodeRoleUnknown }
func (rolePresentRule) Message() string { return "role is not assigned" }
func (r rolePresentRule) IsBroken() bool {
	_, ok := r.u.Roles[r.roleID]
	return !ok
}

type socialLoginAbsentRule struct {
	u        *User
	provider string
}

func (socialLoginAbsentRule) Code() string    { return CodeSocialLoginExists }
func (socialLoginAbsentRule) Message() string { return "a login for this provider is already linked" }
func (r socialLoginAbsentRule) IsBroken() bool {
	_, ok := r.u.SocialLogins[r.provider]
	return ok
}
