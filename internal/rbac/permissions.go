package rbac

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"authhub/internal/apperr"
)

const (
	PermRBACManage      = "rbac:manage"
	PermEndpointManage  = "endpoint:manage"
	PermTenantOnboard   = "tenant:onboard"
	PermAuthzDecide     = "authz:decide"
	PermPermissionsRead = "permissions:read"
)

var BuiltinPermissions = []Permission{
	{Key: PermRBACManage, Description: "Assign roles and grant permissions", IsSystem: true},
	{Key: PermEndpointManage, Description: "Register and update endpoint permissions", IsSystem: true},
	{Key: PermTenantOnboard, Description: "Onboard new tenants", IsSystem: true},
	{Key: PermAuthzDecide, Description: "Request authorization decisions", IsSystem: true},
	{Key: PermPermissionsRead, Description: "Read resolved permissions of any user", IsSystem: true},
}

// EnsureBuiltins creates the system permissions and the global admin role
// named adminRole holding all of them. Existing rows are reused.
func (g *Graph) EnsureBuiltins(ctx context.Context, adminRole string) (Role, error) {
	role, err := g.store.FindGlobalRoleByName(ctx, adminRole)
	if errors.Is(err, apperr.ErrNotFound) {
		role, err = g.CreateRole(ctx, Role{
			Name:        adminRole,
			Description: "Tenant administrator",
			Scope:       ScopeGlobal,
			Type:        RoleTypeSystem,
		})
	}
	if err != nil {
		return Role{}, fmt.Errorf("ensure role %s: %w", adminRole, err)
	}

	for _, builtin := range BuiltinPermissions {
		perm, err := g.store.FindPermissionByKey(ctx, builtin.Key)
		if errors.Is(err, apperr.ErrNotFound) {
			perm, err = g.CreatePermission(ctx, builtin)
		}
		if err != nil {
			return Role{}, fmt.Errorf("ensure permission %s: %w", builtin.Key, err)
		}
		if err := g.GrantPermission(ctx, role.ID, perm.ID); err != nil {
			return Role{}, err
		}
	}
	g.logger.Info("builtins ensured", zap.String("event", "rbac.builtins.ensure"), zap.String("role_id", role.ID))
	return role, nil
}
