package auth

import (
	"time"

	"authhub/internal/rbac"
)

const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
	UserStatusLocked   = "locked"
)

// User is an account that can log in. Identity stores fill TenantName and
// OrganizationName so claims can be assembled without extra lookups.
type User struct {
	ID                 string
	TenantID           string
	TenantName         string
	OrganizationID     string
	OrganizationName   string
	Email              string
	PasswordHash       string
	Status             string
	MustChangePassword bool
	CreatedAt          time.Time
}

// Active reports whether the user may hold a session.
func (u User) Active() bool { return u.Status == UserStatusActive }

// Claims are the facts embedded into an access token.
type Claims struct {
	UserID           string   `json:"userId"`
	TenantID         string   `json:"tenantId,omitempty"`
	TenantName       string   `json:"tenantName,omitempty"`
	OrganizationID   string   `json:"organizationId,omitempty"`
	OrganizationName string   `json:"organizationName,omitempty"`
	Email            string   `json:"email"`
	Roles            []string `json:"roles"`
	Permissions      []string `json:"permissions"`
}

// ClaimsFor assembles claims from a user and freshly resolved grants.
func ClaimsFor(u User, grants rbac.Grants) Claims {
	return Claims{
		UserID:           u.ID,
		TenantID:         u.TenantID,
		TenantName:       u.TenantName,
		OrganizationID:   u.OrganizationID,
		OrganizationName: u.OrganizationName,
		Email:            u.Email,
		Roles:            append([]string{}, grants.Roles...),
		Permissions:      append([]string{}, grants.Permissions...),
	}
}

// HasPermission reports whether key is among the claimed permissions.
func (c Claims) HasPermission(key string) bool {
	for _, p := range c.Permissions {
		if p == key {
			return true
		}
	}
	return false
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	TokenType        string    `json:"tokenType"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// RefreshToken is the persisted form of a user's single live refresh token.
// Stores only ever see the SHA-256 digest of the token value.
type RefreshToken struct {
	UserID    string
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// JWK is one public key in a JSON Web Key Set.
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}
