package pg

import (
	"context"
	"database/sql"
	"fmt"

	"authhub/internal/apperr"
	"authhub/internal/auth"
	"authhub/internal/rbac"
	"authhub/internal/tenancy"
)

// UserStore implements auth.IdentityStore. Tenant and organization names are
// joined in so claims need no further lookups.
type UserStore struct {
	db *sql.DB
}

var _ auth.IdentityStore = (*UserStore)(nil)

const userSelect = `
	select u.id, coalesce(u.tenant_id, ''), coalesce(t.name, ''),
		coalesce(u.organization_id, ''), coalesce(o.name, ''),
		u.email, u.password_hash, u.status, u.must_change_password, u.created_at
	from users u
	left join tenants t on t.id = u.tenant_id
	left join organizations o on o.id = u.organization_id
`

func scanUser(row rowScanner) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.TenantID, &u.TenantName, &u.OrganizationID, &u.OrganizationName,
		&u.Email, &u.PasswordHash, &u.Status, &u.MustChangePassword, &u.CreatedAt)
	return u, err
}

func (s *UserStore) FindByIdentifier(ctx context.Context, identifier string) (auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, userSelect+` where lower(u.email) = lower($1)`, identifier))
	if err != nil {
		return auth.User{}, noRows(err, "user not found")
	}
	return u, nil
}

func (s *UserStore) FindByID(ctx context.Context, userID string) (auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, userSelect+` where u.id = $1`, userID))
	if err != nil {
		return auth.User{}, noRows(err, fmt.Sprintf("user %s not found", userID))
	}
	return u, nil
}

// Create stores a user outside of onboarding, e.g. a bootstrap operator.
func (s *UserStore) Create(ctx context.Context, u auth.User) error {
	return insertUser(ctx, s.db, u)
}

// SetStatus changes a user's status.
func (s *UserStore) SetStatus(ctx context.Context, userID, status string) error {
	res, err := s.db.ExecContext(ctx, `update users set status = $2 where id = $1`, userID, status)
	if err != nil {
		return err
	}
	return affected(res, fmt.Sprintf("user %s not found", userID))
}

func insertTenant(ctx context.Context, q querier, t tenancy.Tenant) error {
	_, err := q.ExecContext(ctx, `
		insert into tenants (id, name, status, created_at)
		values ($1, $2, $3, $4)
	`, t.ID, t.Name, t.Status, t.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Errorf(apperr.DuplicateTenantName, "tenant name %q is already in use", t.Name)
	}
	return err
}

func insertOrganization(ctx context.Context, q querier, o tenancy.Organization) error {
	_, err := q.ExecContext(ctx, `
		insert into organizations (id, tenant_id, name, created_at)
		values ($1, $2, $3, $4)
	`, o.ID, o.TenantID, o.Name, o.CreatedAt)
	if isForeignKeyViolation(err) {
		return apperr.Errorf(apperr.NotFound, "tenant %s not found", o.TenantID)
	}
	return err
}

func insertUser(ctx context.Context, q querier, u auth.User) error {
	_, err := q.ExecContext(ctx, `
		insert into users (id, tenant_id, organization_id, email, password_hash, status, must_change_password, created_at)
		values ($1, nullif($2, ''), nullif($3, ''), $4, $5, $6, $7, $8)
	`, u.ID, u.TenantID, u.OrganizationID, u.Email, u.PasswordHash, u.Status, u.MustChangePassword, u.CreatedAt)
	switch {
	case isUniqueViolation(err):
		return apperr.Errorf(apperr.Conflict, "email %q is already registered", u.Email)
	case isForeignKeyViolation(err):
		return apperr.New(apperr.NotFound, "tenant or organization not found")
	}
	return err
}

func insertUserRole(ctx context.Context, q querier, ur rbac.UserRole) error {
	_, err := q.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, created_at)
		values ($1, $2, $3)
	`, ur.UserID, ur.RoleID, ur.CreatedAt)
	switch {
	case isUniqueViolation(err):
		return apperr.Errorf(apperr.DuplicateAssignment, "role %s already assigned to %s", ur.RoleID, ur.UserID)
	case isForeignKeyViolation(err):
		return apperr.New(apperr.NotFound, "user or role not found")
	}
	return err
}
