package auth

import (
	"context"
	"time"

	"authhub/internal/rbac"
)

// IdentityStore looks users up. Missing users are reported as apperr.NotFound.
type IdentityStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (User, error)
	FindByID(ctx context.Context, userID string) (User, error)
}

// CredentialVerifier hashes and checks passwords.
type CredentialVerifier interface {
	Hash(raw string) (string, error)
	Matches(raw, hash string) bool
}

// TokenSigner produces signed access tokens and opaque refresh tokens.
type TokenSigner interface {
	SignAccess(ctx context.Context, claims Claims, issuedAt time.Time) (token string, expiresAt time.Time, err error)
	SignRefresh(ctx context.Context, issuedAt time.Time) (token string, expiresAt time.Time, err error)
	PublicKeys() []JWK
}

// TokenVerifier validates access tokens issued by a TokenSigner.
type TokenVerifier interface {
	Verify(token string) (Claims, error)
}

// GrantResolver resolves a user's current roles and permissions.
type GrantResolver interface {
	ResolvePermissionsForUser(ctx context.Context, userID string) (rbac.Grants, error)
}

// DurableTokenStore is the system of record for refresh tokens, one per user.
// Lookups that find nothing return apperr.NotFound.
type DurableTokenStore interface {
	// Persist stores rec, replacing any token the user already had.
	Persist(ctx context.Context, rec RefreshToken) error
	// Rotate replaces the user's token only while its hash is still
	// previousHash; otherwise it fails with apperr.InvalidRefreshToken.
	Rotate(ctx context.Context, previousHash string, rec RefreshToken) error
	FindByUserID(ctx context.Context, userID string) (RefreshToken, error)
	FindUserIDByToken(ctx context.Context, tokenHash string) (string, error)
	DeleteByUserID(ctx context.Context, userID string) error
}

// CacheTokenStore mirrors DurableTokenStore with expiring entries.
// Lookups that find nothing return apperr.NotFound.
type CacheTokenStore interface {
	// Save stores rec for ttl, replacing any token the user already had.
	Save(ctx context.Context, rec RefreshToken, ttl time.Duration) error
	FindByUserID(ctx context.Context, userID string) (RefreshToken, error)
	FindUserIDByToken(ctx context.Context, tokenHash string) (string, error)
	DeleteByUserID(ctx context.Context, userID string) error
	DeleteByToken(ctx context.Context, tokenHash string) error
}
