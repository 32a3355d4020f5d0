package identity

import (
	"context"
)

// AssignRole grants a role membership to the identity. Role names appear
// as permission claims on subsequently issued access tokens; a duplicate
// role id is a rule violation.
func (e *Engine) AssignRole(ctx context.Context, identityID, roleID, roleName string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return err
	}
	if err := u.AddRole(roleID, roleName, e.now()); err != nil {
		return err
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.emitAudit(ctx, "identity.role_assigned", u.ID, "", true, nil)
	return nil
}

// RemoveRole revokes a role membership. An unknown role id is a rule
// violation. Already-issued access tokens keep their permission claims
// until expiry.
func (e *Engine) RemoveRole(ctx context.Context, identityID, roleID string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return err
	}
	if err := u.RemoveRole(roleID, e.now()); err != nil {
		return err
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.emitAudit(ctx, "identity.role_removed", u.ID, "", true, nil)
	return nil
}

// AddSocialLogin links an external provider login to the identity. One
// link per provider; a duplicate provider is a rule violation.
func (e *Engine) AddSocialLogin(ctx context.Context, identityID, provider, providerUserID string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	u, err := e.identities.Load(ctx, identityID)
	if err != nil {
		return err
	}
	if err := u.AddSocialLogin(provider, providerUserID, e.now()); err != nil {
		return err
	}
	if err := e.commit(ctx, u, false); err != nil {
		return err
	}

	e.emitAudit(ctx, "identity.social_login_added", u.ID, "", true, nil)
	return nil
}
