package tenancy

import "time"

const (
	TenantStatusActive    = "active"
	TenantStatusSuspended = "suspended"
)

// Tenant is an isolated customer account.
type Tenant struct {
	ID        string
	Name      string
	Status    string
	CreatedAt time.Time
}

// Organization belongs to exactly one tenant.
type Organization struct {
	ID        string
	TenantID  string
	Name      string
	CreatedAt time.Time
}
