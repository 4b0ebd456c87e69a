package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"authhub/internal/apperr"
	"authhub/internal/rbac"
)

// RBACStore implements rbac.Store.
type RBACStore struct {
	db *sql.DB
}

var _ rbac.Store = (*RBACStore)(nil)

const roleColumns = `id, coalesce(tenant_id, ''), name, description, scope, type, created_at`

func scanRole(row rowScanner) (rbac.Role, error) {
	var r rbac.Role
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.Description, &r.Scope, &r.Type, &r.CreatedAt)
	return r, err
}

func (s *RBACStore) CreateRole(ctx context.Context, role rbac.Role) error {
	_, err := s.db.ExecContext(ctx, `
		insert into roles (id, tenant_id, name, description, scope, type, created_at)
		values ($1, nullif($2, ''), $3, $4, $5, $6, $7)
	`, role.ID, role.TenantID, role.Name, role.Description, string(role.Scope), string(role.Type), role.CreatedAt)
	switch {
	case isUniqueViolation(err):
		return apperr.Errorf(apperr.Conflict, "role %q already exists", role.Name)
	case isForeignKeyViolation(err):
		return apperr.Errorf(apperr.NotFound, "tenant %s not found", role.TenantID)
	}
	return err
}

func (s *RBACStore) FindRole(ctx context.Context, id string) (rbac.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
	if err != nil {
		return rbac.Role{}, noRows(err, fmt.Sprintf("role %s not found", id))
	}
	return r, nil
}

func (s *RBACStore) FindGlobalRoleByName(ctx context.Context, name string) (rbac.Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where scope = 'GLOBAL' and name = $1`, name))
	if err != nil {
		return rbac.Role{}, noRows(err, fmt.Sprintf("global role %q not found", name))
	}
	return r, nil
}

func (s *RBACStore) DeleteRole(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if isForeignKeyViolation(err) {
		return apperr.Errorf(apperr.InUse, "role %s is still referenced", id)
	}
	if err != nil {
		return err
	}
	return affected(res, fmt.Sprintf("role %s not found", id))
}

const permissionColumns = `id, key, description, is_system, created_at`

func scanPermission(row rowScanner) (rbac.Permission, error) {
	var p rbac.Permission
	err := row.Scan(&p.ID, &p.Key, &p.Description, &p.IsSystem, &p.CreatedAt)
	return p, err
}

func (s *RBACStore) CreatePermission(ctx context.Context, perm rbac.Permission) error {
	_, err := s.db.ExecContext(ctx, `
		insert into permissions (id, key, description, is_system, created_at)
		values ($1, $2, $3, $4, $5)
	`, perm.ID, perm.Key, perm.Description, perm.IsSystem, perm.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Errorf(apperr.Conflict, "permission %q already exists", perm.Key)
	}
	return err
}

func (s *RBACStore) FindPermission(ctx context.Context, id string) (rbac.Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where id = $1`, id))
	if err != nil {
		return rbac.Permission{}, noRows(err, fmt.Sprintf("permission %s not found", id))
	}
	return p, nil
}

func (s *RBACStore) FindPermissionByKey(ctx context.Context, key string) (rbac.Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where key = $1`, key))
	if err != nil {
		return rbac.Permission{}, noRows(err, fmt.Sprintf("permission %q not found", key))
	}
	return p, nil
}

func (s *RBACStore) DeletePermission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from permissions where id = $1`, id)
	if isForeignKeyViolation(err) {
		return apperr.Errorf(apperr.InUse, "permission %s is still referenced", id)
	}
	if err != nil {
		return err
	}
	return affected(res, fmt.Sprintf("permission %s not found", id))
}

func (s *RBACStore) InsertRolePermission(ctx context.Context, rp rbac.RolePermission) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id, created_at)
		values ($1, $2, $3)
	`, rp.RoleID, rp.PermissionID, rp.CreatedAt)
	switch {
	case isUniqueViolation(err):
		return apperr.Errorf(apperr.DuplicateAssignment, "permission %s already granted to role %s", rp.PermissionID, rp.RoleID)
	case isForeignKeyViolation(err):
		return apperr.New(apperr.NotFound, "role or permission not found")
	}
	return err
}

func (s *RBACStore) DeleteRolePermission(ctx context.Context, roleID, permissionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from role_permissions where role_id = $1 and permission_id = $2`, roleID, permissionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RBACStore) UserRoleIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select role_id from user_roles where user_id = $1 order by role_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// InsertUserRoles writes all rows in one statement; existing pairs are skipped.
func (s *RBACStore) InsertUserRoles(ctx context.Context, rows []rbac.UserRole) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*3)
	for i, r := range rows {
		values = append(values, fmt.Sprintf("($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3))
		args = append(args, r.UserID, r.RoleID, r.CreatedAt)
	}
	query := `insert into user_roles (user_id, role_id, created_at) values ` +
		strings.Join(values, ", ") + ` on conflict (user_id, role_id) do nothing`
	_, err := s.db.ExecContext(ctx, query, args...)
	if isForeignKeyViolation(err) {
		return apperr.New(apperr.NotFound, "user or role not found")
	}
	return err
}

func (s *RBACStore) DeleteUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	if len(roleIDs) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(roleIDs))
	args := make([]any, 0, len(roleIDs)+1)
	args = append(args, userID)
	for i, id := range roleIDs {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`delete from user_roles where user_id = $1 and role_id in (`+strings.Join(placeholders, ", ")+`)`, args...)
	return err
}

func (s *RBACStore) ResolveGrants(ctx context.Context, userID string) ([]string, []string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.name, p.key
		from user_roles ur
		join roles r on r.id = ur.role_id
		left join role_permissions rp on rp.role_id = r.id
		left join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
	`, userID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var roles, perms []string
	for rows.Next() {
		var (
			role string
			key  sql.NullString
		)
		if err := rows.Scan(&role, &key); err != nil {
			return nil, nil, err
		}
		roles = append(roles, role)
		if key.Valid {
			perms = append(perms, key.String)
		}
	}
	return roles, perms, rows.Err()
}

func (s *RBACStore) CountRoleReferences(ctx context.Context, roleID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select (select count(*) from user_roles where role_id = $1)
		     + (select count(*) from role_permissions where role_id = $1)
	`, roleID).Scan(&n)
	return n, err
}

func (s *RBACStore) CountPermissionReferences(ctx context.Context, permissionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from role_permissions where permission_id = $1`, permissionID).Scan(&n)
	return n, err
}
