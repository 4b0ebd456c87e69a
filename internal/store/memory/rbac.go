package memory

import (
	"context"

	"authhub/internal/apperr"
	"authhub/internal/rbac"
)

// RBACStore implements rbac.Store.
type RBACStore struct{ s *Store }

var _ rbac.Store = (*RBACStore)(nil)

func (r *RBACStore) CreateRole(_ context.Context, role rbac.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[role.ID]; ok {
		return apperr.Errorf(apperr.Conflict, "role %s already exists", role.ID)
	}
	for _, existing := range r.s.roles {
		if existing.Name == role.Name && existing.Scope == role.Scope && existing.TenantID == role.TenantID {
			return apperr.Errorf(apperr.Conflict, "role %q already exists", role.Name)
		}
	}
	r.s.roles[role.ID] = role
	return nil
}

func (r *RBACStore) FindRole(_ context.Context, id string) (rbac.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	role, ok := r.s.roles[id]
	if !ok {
		return rbac.Role{}, apperr.Errorf(apperr.NotFound, "role %s not found", id)
	}
	return role, nil
}

func (r *RBACStore) FindGlobalRoleByName(_ context.Context, name string) (rbac.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, role := range r.s.roles {
		if role.Scope == rbac.ScopeGlobal && role.Name == name {
			return role, nil
		}
	}
	return rbac.Role{}, apperr.Errorf(apperr.NotFound, "global role %q not found", name)
}

func (r *RBACStore) DeleteRole(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[id]; !ok {
		return apperr.Errorf(apperr.NotFound, "role %s not found", id)
	}
	if r.roleRefs(id) > 0 {
		return apperr.Errorf(apperr.InUse, "role %s is still referenced", id)
	}
	delete(r.s.roles, id)
	return nil
}

func (r *RBACStore) CreatePermission(_ context.Context, perm rbac.Permission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.permissions[perm.ID]; ok {
		return apperr.Errorf(apperr.Conflict, "permission %s already exists", perm.ID)
	}
	for _, existing := range r.s.permissions {
		if existing.Key == perm.Key {
			return apperr.Errorf(apperr.Conflict, "permission %q already exists", perm.Key)
		}
	}
	r.s.permissions[perm.ID] = perm
	return nil
}

func (r *RBACStore) FindPermission(_ context.Context, id string) (rbac.Permission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	perm, ok := r.s.permissions[id]
	if !ok {
		return rbac.Permission{}, apperr.Errorf(apperr.NotFound, "permission %s not found", id)
	}
	return perm, nil
}

func (r *RBACStore) FindPermissionByKey(_ context.Context, key string) (rbac.Permission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, perm := range r.s.permissions {
		if perm.Key == key {
			return perm, nil
		}
	}
	return rbac.Permission{}, apperr.Errorf(apperr.NotFound, "permission %q not found", key)
}

func (r *RBACStore) DeletePermission(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.permissions[id]; !ok {
		return apperr.Errorf(apperr.NotFound, "permission %s not found", id)
	}
	if r.permissionRefs(id) > 0 {
		return apperr.Errorf(apperr.InUse, "permission %s is still referenced", id)
	}
	delete(r.s.permissions, id)
	return nil
}

func (r *RBACStore) InsertRolePermission(_ context.Context, rp rbac.RolePermission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.roles[rp.RoleID]; !ok {
		return apperr.Errorf(apperr.NotFound, "role %s not found", rp.RoleID)
	}
	if _, ok := r.s.permissions[rp.PermissionID]; !ok {
		return apperr.Errorf(apperr.NotFound, "permission %s not found", rp.PermissionID)
	}
	key := pairKey{rp.RoleID, rp.PermissionID}
	if _, ok := r.s.rolePerms[key]; ok {
		return apperr.Errorf(apperr.DuplicateAssignment, "permission %s already granted to role %s", rp.PermissionID, rp.RoleID)
	}
	r.s.rolePerms[key] = rp
	return nil
}

func (r *RBACStore) DeleteRolePermission(_ context.Context, roleID, permissionID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := pairKey{roleID, permissionID}
	if _, ok := r.s.rolePerms[key]; !ok {
		return false, nil
	}
	delete(r.s.rolePerms, key)
	return true, nil
}

func (r *RBACStore) UserRoleIDs(_ context.Context, userID string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []string
	for key := range r.s.userRoles {
		if key.a == userID {
			out = append(out, key.b)
		}
	}
	return out, nil
}

func (r *RBACStore) InsertUserRoles(_ context.Context, rows []rbac.UserRole) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, row := range rows {
		if _, ok := r.s.roles[row.RoleID]; !ok {
			return apperr.Errorf(apperr.NotFound, "role %s not found", row.RoleID)
		}
	}
	for _, row := range rows {
		key := pairKey{row.UserID, row.RoleID}
		if _, ok := r.s.userRoles[key]; ok {
			continue
		}
		r.s.userRoles[key] = row
	}
	return nil
}

func (r *RBACStore) DeleteUserRoles(_ context.Context, userID string, roleIDs []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range roleIDs {
		delete(r.s.userRoles, pairKey{userID, id})
	}
	return nil
}

func (r *RBACStore) ResolveGrants(_ context.Context, userID string) ([]string, []string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	roleIDs := make(map[string]struct{})
	var roles []string
	for key := range r.s.userRoles {
		if key.a != userID {
			continue
		}
		role, ok := r.s.roles[key.b]
		if !ok {
			continue
		}
		roleIDs[role.ID] = struct{}{}
		roles = append(roles, role.Name)
	}
	var perms []string
	for key := range r.s.rolePerms {
		if _, ok := roleIDs[key.a]; !ok {
			continue
		}
		if perm, ok := r.s.permissions[key.b]; ok {
			perms = append(perms, perm.Key)
		}
	}
	return roles, perms, nil
}

func (r *RBACStore) CountRoleReferences(_ context.Context, roleID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.roleRefs(roleID), nil
}

func (r *RBACStore) CountPermissionReferences(_ context.Context, permissionID string) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.permissionRefs(permissionID), nil
}

// roleRefs and permissionRefs mirror the restricting foreign keys of the SQL
// schema. Callers hold r.s.mu.
func (r *RBACStore) roleRefs(roleID string) int {
	n := 0
	for key := range r.s.userRoles {
		if key.b == roleID {
			n++
		}
	}
	for key := range r.s.rolePerms {
		if key.a == roleID {
			n++
		}
	}
	return n
}

func (r *RBACStore) permissionRefs(permissionID string) int {
	n := 0
	for key := range r.s.rolePerms {
		if key.b == permissionID {
			n++
		}
	}
	return n
}
