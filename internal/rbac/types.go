package rbac

import (
	"strings"
	"time"

	"authhub/internal/apperr"
)

// Scope says whether a role belongs to one tenant or to the whole platform.
type Scope string

const (
	ScopeGlobal Scope = "GLOBAL"
	ScopeTenant Scope = "TENANT"
)

// RoleType distinguishes platform-provided roles from tenant-defined ones.
type RoleType string

const (
	RoleTypeSystem RoleType = "SYSTEM"
	RoleTypeCustom RoleType = "CUSTOM"
)

// Permission is a fine-grained capability identified by a "resource:action" key.
type Permission struct {
	ID          string
	Key         string
	Description string
	IsSystem    bool
	CreatedAt   time.Time
}

// Role groups permissions. GLOBAL roles have no tenant, TENANT roles require one.
type Role struct {
	ID          string
	TenantID    string
	Name        string
	Description string
	Scope       Scope
	Type        RoleType
	CreatedAt   time.Time
}

// RolePermission links a role to a permission.
type RolePermission struct {
	RoleID       string
	PermissionID string
	CreatedAt    time.Time
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    string
	RoleID    string
	CreatedAt time.Time
}

// Grants is the resolved view of a user's roles and permissions. Both slices
// are sorted, free of duplicates, and never nil.
type Grants struct {
	Roles       []string
	Permissions []string
}

// HasPermission reports whether key is among the granted permissions.
func (g Grants) HasPermission(key string) bool {
	for _, p := range g.Permissions {
		if p == key {
			return true
		}
	}
	return false
}

// HasRole reports whether name is among the granted roles.
func (g Grants) HasRole(name string) bool {
	for _, r := range g.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// Validate checks the scope/tenant invariant and required fields.
func (r Role) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apperr.New(apperr.InvalidInput, "role name is required")
	}
	switch r.Scope {
	case ScopeGlobal:
		if r.TenantID != "" {
			return apperr.New(apperr.InvalidInput, "global roles cannot belong to a tenant")
		}
	case ScopeTenant:
		if r.TenantID == "" {
			return apperr.New(apperr.InvalidInput, "tenant roles require a tenant_id")
		}
	default:
		return apperr.Errorf(apperr.InvalidInput, "unsupported role scope %q", r.Scope)
	}
	switch r.Type {
	case RoleTypeSystem, RoleTypeCustom:
	default:
		return apperr.Errorf(apperr.InvalidInput, "unsupported role type %q", r.Type)
	}
	return nil
}

// ValidatePermissionKey checks the "resource:action" shape.
func ValidatePermissionKey(key string) error {
	resource, action, ok := strings.Cut(key, ":")
	if !ok || strings.TrimSpace(resource) == "" || strings.TrimSpace(action) == "" || strings.Contains(action, ":") {
		return apperr.Errorf(apperr.InvalidInput, "permission key %q must look like resource:action", key)
	}
	if strings.ContainsAny(key, " \t\n") {
		return apperr.Errorf(apperr.InvalidInput, "permission key %q must not contain whitespace", key)
	}
	return nil
}
