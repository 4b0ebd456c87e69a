package pg

import (
	"context"
	"database/sql"

	"authhub/internal/auth"
	"authhub/internal/onboarding"
	"authhub/internal/rbac"
	"authhub/internal/tenancy"
)

// OnboardingStore implements onboarding.Store and runs a whole onboarding
// run in one transaction through WithinTx.
type OnboardingStore struct {
	db *sql.DB
}

var (
	_ onboarding.Store      = (*OnboardingStore)(nil)
	_ onboarding.Transactor = (*OnboardingStore)(nil)
)

func (s *OnboardingStore) TenantNameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists (select 1 from tenants where lower(name) = lower($1))`, name).Scan(&exists)
	return exists, err
}

func (s *OnboardingStore) CreateTenant(ctx context.Context, t tenancy.Tenant) error {
	return insertTenant(ctx, s.db, t)
}

func (s *OnboardingStore) CreateOrganization(ctx context.Context, o tenancy.Organization) error {
	return insertOrganization(ctx, s.db, o)
}

func (s *OnboardingStore) CreateUser(ctx context.Context, u auth.User) error {
	return insertUser(ctx, s.db, u)
}

func (s *OnboardingStore) AssignRole(ctx context.Context, ur rbac.UserRole) error {
	return insertUserRole(ctx, s.db, ur)
}

func (s *OnboardingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, w onboarding.Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, txWriter{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type txWriter struct {
	tx *sql.Tx
}

func (w txWriter) CreateTenant(ctx context.Context, t tenancy.Tenant) error {
	return insertTenant(ctx, w.tx, t)
}

func (w txWriter) CreateOrganization(ctx context.Context, o tenancy.Organization) error {
	return insertOrganization(ctx, w.tx, o)
}

func (w txWriter) CreateUser(ctx context.Context, u auth.User) error {
	return insertUser(ctx, w.tx, u)
}

func (w txWriter) AssignRole(ctx context.Context, ur rbac.UserRole) error {
	return insertUserRole(ctx, w.tx, ur)
}
