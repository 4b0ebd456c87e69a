// Package memory keeps every aggregate in process memory. It backs local
// development runs without Postgres or Redis and the package tests.
package memory

import (
	"sync"

	"authhub/internal/auth"
	"authhub/internal/endpoints"
	"authhub/internal/rbac"
	"authhub/internal/tenancy"
)

type pairKey struct{ a, b string }

// Store holds all durable state behind one lock so multi-table operations
// observe a consistent snapshot.
type Store struct {
	mu sync.RWMutex

	roles       map[string]rbac.Role
	permissions map[string]rbac.Permission
	rolePerms   map[pairKey]rbac.RolePermission // (role, permission)
	userRoles   map[pairKey]rbac.UserRole       // (user, role)

	endpoints map[string]endpoints.Endpoint

	tenants map[string]tenancy.Tenant
	orgs    map[string]tenancy.Organization
	users   map[string]auth.User

	refresh map[string]auth.RefreshToken // by user id
}

// New returns an empty store.
func New() *Store {
	return &Store{
		roles:       make(map[string]rbac.Role),
		permissions: make(map[string]rbac.Permission),
		rolePerms:   make(map[pairKey]rbac.RolePermission),
		userRoles:   make(map[pairKey]rbac.UserRole),
		endpoints:   make(map[string]endpoints.Endpoint),
		tenants:     make(map[string]tenancy.Tenant),
		orgs:        make(map[string]tenancy.Organization),
		users:       make(map[string]auth.User),
		refresh:     make(map[string]auth.RefreshToken),
	}
}

// Roles exposes the role graph tables.
func (s *Store) Roles() *RBACStore { return &RBACStore{s: s} }

// Endpoints exposes the endpoint registry table.
func (s *Store) Endpoints() *EndpointStore { return &EndpointStore{s: s} }

// Users exposes user lookups.
func (s *Store) Users() *UserStore { return &UserStore{s: s} }

// RefreshTokens exposes the durable refresh token table.
func (s *Store) RefreshTokens() *RefreshTokenStore { return &RefreshTokenStore{s: s} }

// Onboarding exposes the tenant, organization and user writers.
func (s *Store) Onboarding() *OnboardingStore { return &OnboardingStore{s: s} }
