package memory

import (
	"context"
	"strings"

	"authhub/internal/apperr"
	"authhub/internal/auth"
	"authhub/internal/onboarding"
	"authhub/internal/rbac"
	"authhub/internal/tenancy"
)

// UserStore implements auth.IdentityStore.
type UserStore struct{ s *Store }

var _ auth.IdentityStore = (*UserStore)(nil)

// FindByIdentifier matches the identifier against user emails, case-insensitively.
func (u *UserStore) FindByIdentifier(_ context.Context, identifier string) (auth.User, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	for _, user := range u.s.users {
		if strings.ToLower(user.Email) == identifier {
			return u.s.withNames(user), nil
		}
	}
	return auth.User{}, apperr.New(apperr.NotFound, "user not found")
}

func (u *UserStore) FindByID(_ context.Context, userID string) (auth.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	user, ok := u.s.users[userID]
	if !ok {
		return auth.User{}, apperr.Errorf(apperr.NotFound, "user %s not found", userID)
	}
	return u.s.withNames(user), nil
}

// Create stores a user outside of onboarding, e.g. a bootstrap operator.
func (u *UserStore) Create(_ context.Context, user auth.User) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	return u.s.insertUser(user)
}

// SetStatus changes a user's status.
func (u *UserStore) SetStatus(_ context.Context, userID, status string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[userID]
	if !ok {
		return apperr.Errorf(apperr.NotFound, "user %s not found", userID)
	}
	user.Status = status
	u.s.users[userID] = user
	return nil
}

// OnboardingStore implements onboarding.Store and onboarding.Compensator.
type OnboardingStore struct{ s *Store }

var (
	_ onboarding.Store       = (*OnboardingStore)(nil)
	_ onboarding.Compensator = (*OnboardingStore)(nil)
)

func (o *OnboardingStore) TenantNameExists(_ context.Context, name string) (bool, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	return o.s.tenantNameTaken(name), nil
}

func (o *OnboardingStore) CreateTenant(_ context.Context, t tenancy.Tenant) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if o.s.tenantNameTaken(t.Name) {
		return apperr.Errorf(apperr.DuplicateTenantName, "tenant name %q is already in use", t.Name)
	}
	o.s.tenants[t.ID] = t
	return nil
}

func (o *OnboardingStore) CreateOrganization(_ context.Context, org tenancy.Organization) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if _, ok := o.s.tenants[org.TenantID]; !ok {
		return apperr.Errorf(apperr.NotFound, "tenant %s not found", org.TenantID)
	}
	o.s.orgs[org.ID] = org
	return nil
}

func (o *OnboardingStore) CreateUser(_ context.Context, user auth.User) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	return o.s.insertUser(user)
}

func (o *OnboardingStore) AssignRole(_ context.Context, ur rbac.UserRole) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if _, ok := o.s.users[ur.UserID]; !ok {
		return apperr.Errorf(apperr.NotFound, "user %s not found", ur.UserID)
	}
	if _, ok := o.s.roles[ur.RoleID]; !ok {
		return apperr.Errorf(apperr.NotFound, "role %s not found", ur.RoleID)
	}
	key := pairKey{ur.UserID, ur.RoleID}
	if _, ok := o.s.userRoles[key]; ok {
		return apperr.Errorf(apperr.DuplicateAssignment, "role %s already assigned to %s", ur.RoleID, ur.UserID)
	}
	o.s.userRoles[key] = ur
	return nil
}

func (o *OnboardingStore) DeleteTenant(_ context.Context, id string) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if _, ok := o.s.tenants[id]; !ok {
		return apperr.Errorf(apperr.NotFound, "tenant %s not found", id)
	}
	delete(o.s.tenants, id)
	return nil
}

func (o *OnboardingStore) DeleteOrganization(_ context.Context, id string) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if _, ok := o.s.orgs[id]; !ok {
		return apperr.Errorf(apperr.NotFound, "organization %s not found", id)
	}
	delete(o.s.orgs, id)
	return nil
}

func (o *OnboardingStore) DeleteUser(_ context.Context, id string) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if _, ok := o.s.users[id]; !ok {
		return apperr.Errorf(apperr.NotFound, "user %s not found", id)
	}
	delete(o.s.users, id)
	return nil
}

func (o *OnboardingStore) RevokeRole(_ context.Context, userID, roleID string) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	key := pairKey{userID, roleID}
	if _, ok := o.s.userRoles[key]; !ok {
		return apperr.Errorf(apperr.NotFound, "role %s not assigned to %s", roleID, userID)
	}
	delete(o.s.userRoles, key)
	return nil
}

// Counts reports how many tenants, organizations and users exist.
func (o *OnboardingStore) Counts() (tenants, orgs, users int) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	return len(o.s.tenants), len(o.s.orgs), len(o.s.users)
}

// callers hold s.mu.
func (s *Store) tenantNameTaken(name string) bool {
	for _, t := range s.tenants {
		if strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

func (s *Store) insertUser(user auth.User) error {
	if _, ok := s.users[user.ID]; ok {
		return apperr.Errorf(apperr.Conflict, "user %s already exists", user.ID)
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return apperr.Errorf(apperr.Conflict, "email %q is already registered", user.Email)
		}
	}
	user.TenantName, user.OrganizationName = "", ""
	s.users[user.ID] = user
	return nil
}

func (s *Store) withNames(user auth.User) auth.User {
	if t, ok := s.tenants[user.TenantID]; ok {
		user.TenantName = t.Name
	}
	if o, ok := s.orgs[user.OrganizationID]; ok {
		user.OrganizationName = o.Name
	}
	return user
}
