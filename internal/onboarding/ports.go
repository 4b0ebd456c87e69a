package onboarding

import (
	"context"
	"time"

	"authhub/internal/auth"
	"authhub/internal/rbac"
	"authhub/internal/tenancy"
)

// Writer persists the aggregates created by an onboarding run.
type Writer interface {
	// CreateTenant fails with apperr.DuplicateTenantName when the name is taken.
	CreateTenant(ctx context.Context, t tenancy.Tenant) error
	CreateOrganization(ctx context.Context, o tenancy.Organization) error
	CreateUser(ctx context.Context, u auth.User) error
	AssignRole(ctx context.Context, ur rbac.UserRole) error
}

// Store is the persistence port of the saga.
type Store interface {
	Writer
	TenantNameExists(ctx context.Context, name string) (bool, error)
}

// Transactor is implemented by stores that can run all writes of one run in a
// single transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, w Writer) error) error
}

// Compensator undoes individual writes. Stores without transactions must
// implement it so a failed run can be rolled back step by step.
type Compensator interface {
	DeleteTenant(ctx context.Context, id string) error
	DeleteOrganization(ctx context.Context, id string) error
	DeleteUser(ctx context.Context, id string) error
	RevokeRole(ctx context.Context, userID, roleID string) error
}

// IdempotencyCache remembers results by idempotency key. A miss is apperr.NotFound.
type IdempotencyCache interface {
	Save(ctx context.Context, key string, res Result, ttl time.Duration) error
	FindByKey(ctx context.Context, key string) (Result, error)
}

// RoleLookup finds the global role granted to every tenant's first user.
type RoleLookup interface {
	FindGlobalRoleByName(ctx context.Context, name string) (rbac.Role, error)
}

// PasswordHasher hashes the generated temporary password.
type PasswordHasher interface {
	Hash(raw string) (string, error)
}
