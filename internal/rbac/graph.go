package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"authhub/internal/apperr"
	"authhub/internal/ids"
)

// Graph maintains the role/permission relationship graph and its usage invariants.
type Graph struct {
	store  Store
	ids    ids.Generator
	now    func() time.Time
	logger *zap.Logger
}

// Option configures Graph behavior.
type Option func(*Graph) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(g *Graph) error {
		if fn != nil {
			g.now = fn
		}
		return nil
	}
}

// WithIDGenerator overrides the identifier generator.
func WithIDGenerator(gen ids.Generator) Option {
	return func(g *Graph) error {
		if gen != nil {
			g.ids = gen
		}
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Graph) error {
		if l != nil {
			g.logger = l
		}
		return nil
	}
}

// NewGraph constructs Graph with optional configuration.
func NewGraph(store Store, opts ...Option) (*Graph, error) {
	if store == nil {
		return nil, errors.New("rbac: store is required")
	}
	g := &Graph{
		store:  store,
		ids:    ids.Default(),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	g.logger = g.logger.With(zap.String("module", "rbac"))
	return g, nil
}

// CreateRole validates and stores a new role.
func (g *Graph) CreateRole(ctx context.Context, role Role) (Role, error) {
	role.Name = strings.TrimSpace(role.Name)
	role.TenantID = strings.TrimSpace(role.TenantID)
	if role.Type == "" {
		role.Type = RoleTypeCustom
	}
	if err := role.Validate(); err != nil {
		return Role{}, err
	}
	if role.ID == "" {
		role.ID = g.ids.NewID()
	}
	role.CreatedAt = g.now().UTC()
	if err := g.store.CreateRole(ctx, role); err != nil {
		return Role{}, err
	}
	return role, nil
}

// CreatePermission validates and stores a new permission.
func (g *Graph) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	perm.Key = strings.TrimSpace(perm.Key)
	if err := ValidatePermissionKey(perm.Key); err != nil {
		return Permission{}, err
	}
	if perm.ID == "" {
		perm.ID = g.ids.NewID()
	}
	perm.CreatedAt = g.now().UTC()
	if err := g.store.CreatePermission(ctx, perm); err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// GrantPermission links a permission to a role. Granting an existing link is a no-op.
func (g *Graph) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	roleID, permissionID = strings.TrimSpace(roleID), strings.TrimSpace(permissionID)
	if roleID == "" || permissionID == "" {
		return apperr.New(apperr.InvalidInput, "role_id and permission_id are required")
	}
	if _, err := g.store.FindRole(ctx, roleID); err != nil {
		return fmt.Errorf("find role %s: %w", roleID, err)
	}
	if _, err := g.store.FindPermission(ctx, permissionID); err != nil {
		return fmt.Errorf("find permission %s: %w", permissionID, err)
	}
	err := g.store.InsertRolePermission(ctx, RolePermission{
		RoleID:       roleID,
		PermissionID: permissionID,
		CreatedAt:    g.now().UTC(),
	})
	if errors.Is(err, apperr.ErrDuplicateAssignment) {
		g.logger.Debug("permission already granted",
			zap.String("event", "rbac.permission.grant.noop"),
			zap.String("role_id", roleID), zap.String("permission_id", permissionID))
		return nil
	}
	if err != nil {
		return err
	}
	g.logger.Info("permission granted",
		zap.String("event", "rbac.permission.grant"),
		zap.String("role_id", roleID), zap.String("permission_id", permissionID))
	return nil
}

// RevokePermission removes a role/permission link. A missing link is a no-op.
func (g *Graph) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	roleID, permissionID = strings.TrimSpace(roleID), strings.TrimSpace(permissionID)
	if roleID == "" || permissionID == "" {
		return apperr.New(apperr.InvalidInput, "role_id and permission_id are required")
	}
	removed, err := g.store.DeleteRolePermission(ctx, roleID, permissionID)
	if err != nil {
		return err
	}
	if removed {
		g.logger.Info("permission revoked",
			zap.String("event", "rbac.permission.revoke"),
			zap.String("role_id", roleID), zap.String("permission_id", permissionID))
	}
	return nil
}

// AssignRoles gives userID every role in roleIDs. Only relations that do not
// exist yet are written.
func (g *Graph) AssignRoles(ctx context.Context, userID string, roleIDs []string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperr.New(apperr.InvalidInput, "user_id is required")
	}
	wanted := dedupeStrings(roleIDs)
	if len(wanted) == 0 {
		return nil
	}
	for _, id := range wanted {
		if _, err := g.store.FindRole(ctx, id); err != nil {
			return fmt.Errorf("find role %s: %w", id, err)
		}
	}
	current, err := g.store.UserRoleIDs(ctx, userID)
	if err != nil {
		return err
	}
	added := difference(wanted, current)
	if len(added) == 0 {
		return nil
	}
	now := g.now().UTC()
	rows := make([]UserRole, 0, len(added))
	for _, id := range added {
		rows = append(rows, UserRole{UserID: userID, RoleID: id, CreatedAt: now})
	}
	if err := g.store.InsertUserRoles(ctx, rows); err != nil {
		return err
	}
	g.logger.Info("roles assigned",
		zap.String("event", "rbac.roles.assign"),
		zap.String("user_id", userID), zap.Strings("role_ids", added))
	return nil
}

// RevokeRoles removes roleIDs from userID. Roles the user does not hold are ignored.
func (g *Graph) RevokeRoles(ctx context.Context, userID string, roleIDs []string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperr.New(apperr.InvalidInput, "user_id is required")
	}
	requested := dedupeStrings(roleIDs)
	if len(requested) == 0 {
		return nil
	}
	current, err := g.store.UserRoleIDs(ctx, userID)
	if err != nil {
		return err
	}
	removed := intersection(requested, current)
	if len(removed) == 0 {
		return nil
	}
	if err := g.store.DeleteUserRoles(ctx, userID, removed); err != nil {
		return err
	}
	g.logger.Info("roles revoked",
		zap.String("event", "rbac.roles.revoke"),
		zap.String("user_id", userID), zap.Strings("role_ids", removed))
	return nil
}

// ResolvePermissionsForUser returns the union of roles and permissions reachable
// from userID. A user without roles gets empty grants, not an error.
func (g *Graph) ResolvePermissionsForUser(ctx context.Context, userID string) (Grants, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Grants{Roles: []string{}, Permissions: []string{}}, nil
	}
	roles, perms, err := g.store.ResolveGrants(ctx, userID)
	if err != nil {
		return Grants{}, fmt.Errorf("resolve grants: %w", err)
	}
	return Grants{Roles: sortedSet(roles), Permissions: sortedSet(perms)}, nil
}

// CanDeleteRole reports whether no user or permission link references roleID.
func (g *Graph) CanDeleteRole(ctx context.Context, roleID string) (bool, error) {
	n, err := g.store.CountRoleReferences(ctx, roleID)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// CanDeletePermission reports whether no role references permissionID.
func (g *Graph) CanDeletePermission(ctx context.Context, permissionID string) (bool, error) {
	n, err := g.store.CountPermissionReferences(ctx, permissionID)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// DeleteRole removes an unreferenced role.
func (g *Graph) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if _, err := g.store.FindRole(ctx, roleID); err != nil {
		return err
	}
	ok, err := g.CanDeleteRole(ctx, roleID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Errorf(apperr.InUse, "role %s is still assigned", roleID)
	}
	if err := g.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	g.logger.Info("role deleted", zap.String("event", "rbac.role.delete"), zap.String("role_id", roleID))
	return nil
}

// DeletePermission removes an unreferenced permission.
func (g *Graph) DeletePermission(ctx context.Context, permissionID string) error {
	permissionID = strings.TrimSpace(permissionID)
	if _, err := g.store.FindPermission(ctx, permissionID); err != nil {
		return err
	}
	ok, err := g.CanDeletePermission(ctx, permissionID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Errorf(apperr.InUse, "permission %s is still granted", permissionID)
	}
	if err := g.store.DeletePermission(ctx, permissionID); err != nil {
		return err
	}
	g.logger.Info("permission deleted", zap.String("event", "rbac.permission.delete"), zap.String("permission_id", permissionID))
	return nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

func difference(a, b []string) []string {
	skip := make(map[string]struct{}, len(b))
	for _, v := range b {
		skip[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, ok := skip[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

func intersection(a, b []string) []string {
	keep := make(map[string]struct{}, len(b))
	for _, v := range b {
		keep[v] = struct{}{}
	}
	var out []string
	for _, v := range a {
		if _, ok := keep[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

func sortedSet(values []string) []string {
	out := dedupeStrings(values)
	if out == nil {
		out = []string{}
	}
	sort.Strings(out)
	return out
}
