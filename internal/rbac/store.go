package rbac

import "context"

// Store describes persistence operations required by the role graph.
//
// Implementations report missing rows as apperr.NotFound and enforce the
// (role, permission) and (user, role) uniqueness themselves.
type Store interface {
	CreateRole(ctx context.Context, role Role) error
	FindRole(ctx context.Context, id string) (Role, error)
	// FindGlobalRoleByName looks up a GLOBAL-scope role by its name.
	FindGlobalRoleByName(ctx context.Context, name string) (Role, error)
	DeleteRole(ctx context.Context, id string) error

	CreatePermission(ctx context.Context, perm Permission) error
	FindPermission(ctx context.Context, id string) (Permission, error)
	FindPermissionByKey(ctx context.Context, key string) (Permission, error)
	DeletePermission(ctx context.Context, id string) error

	// InsertRolePermission fails with apperr.DuplicateAssignment when the pair exists.
	InsertRolePermission(ctx context.Context, rp RolePermission) error
	// DeleteRolePermission reports whether a row was removed.
	DeleteRolePermission(ctx context.Context, roleID, permissionID string) (bool, error)

	UserRoleIDs(ctx context.Context, userID string) ([]string, error)
	// InsertUserRoles inserts all rows in one statement, silently skipping pairs
	// that already exist.
	InsertUserRoles(ctx context.Context, rows []UserRole) error
	DeleteUserRoles(ctx context.Context, userID string, roleIDs []string) error

	// ResolveGrants returns role names and permission keys reachable from the user.
	ResolveGrants(ctx context.Context, userID string) (roles []string, permissions []string, err error)

	CountRoleReferences(ctx context.Context, roleID string) (int, error)
	CountPermissionReferences(ctx context.Context, permissionID string) (int, error)
}
