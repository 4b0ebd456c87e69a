package memory

import (
	"context"
	"sync"
	"time"

	"authhub/internal/apperr"
	"authhub/internal/auth"
	"authhub/internal/onboarding"
)

// RefreshTokenStore implements auth.DurableTokenStore.
type RefreshTokenStore struct{ s *Store }

var _ auth.DurableTokenStore = (*RefreshTokenStore)(nil)

func (r *RefreshTokenStore) Persist(_ context.Context, rec auth.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.refresh[rec.UserID] = rec
	return nil
}

func (r *RefreshTokenStore) Rotate(_ context.Context, previousHash string, rec auth.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.refresh[rec.UserID]
	if !ok || current.TokenHash != previousHash {
		return apperr.New(apperr.InvalidRefreshToken, "refresh token was already rotated")
	}
	r.s.refresh[rec.UserID] = rec
	return nil
}

func (r *RefreshTokenStore) FindByUserID(_ context.Context, userID string) (auth.RefreshToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.refresh[userID]
	if !ok {
		return auth.RefreshToken{}, apperr.New(apperr.NotFound, "refresh token not found")
	}
	return rec, nil
}

func (r *RefreshTokenStore) FindUserIDByToken(_ context.Context, tokenHash string) (string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for userID, rec := range r.s.refresh {
		if rec.TokenHash == tokenHash {
			return userID, nil
		}
	}
	return "", apperr.New(apperr.NotFound, "refresh token not found")
}

func (r *RefreshTokenStore) DeleteByUserID(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.refresh[userID]; !ok {
		return apperr.New(apperr.NotFound, "refresh token not found")
	}
	delete(r.s.refresh, userID)
	return nil
}

type cachedToken struct {
	rec       auth.RefreshToken
	expiresAt time.Time
}

// TokenCache implements auth.CacheTokenStore with lazily expired entries.
type TokenCache struct {
	mu      sync.Mutex
	now     func() time.Time
	byUser  map[string]cachedToken
	byToken map[string]string
}

var _ auth.CacheTokenStore = (*TokenCache)(nil)

// NewTokenCache returns an empty cache. now may be nil.
func NewTokenCache(now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{
		now:     now,
		byUser:  make(map[string]cachedToken),
		byToken: make(map[string]string),
	}
}

func (c *TokenCache) Save(_ context.Context, rec auth.RefreshToken, ttl time.Duration) error {
	if ttl <= 0 {
		return apperr.New(apperr.InvalidInput, "ttl must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.byUser[rec.UserID]; ok {
		delete(c.byToken, prev.rec.TokenHash)
	}
	c.byUser[rec.UserID] = cachedToken{rec: rec, expiresAt: c.now().Add(ttl)}
	c.byToken[rec.TokenHash] = rec.UserID
	return nil
}

func (c *TokenCache) FindByUserID(_ context.Context, userID string) (auth.RefreshToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.live(userID)
	if !ok {
		return auth.RefreshToken{}, apperr.New(apperr.NotFound, "refresh token not cached")
	}
	return entry.rec, nil
}

func (c *TokenCache) FindUserIDByToken(_ context.Context, tokenHash string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	userID, ok := c.byToken[tokenHash]
	if !ok {
		return "", apperr.New(apperr.NotFound, "refresh token not cached")
	}
	if _, ok := c.live(userID); !ok {
		return "", apperr.New(apperr.NotFound, "refresh token not cached")
	}
	return userID, nil
}

func (c *TokenCache) DeleteByUserID(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.byUser[userID]
	if !ok {
		return apperr.New(apperr.NotFound, "refresh token not cached")
	}
	delete(c.byToken, entry.rec.TokenHash)
	delete(c.byUser, userID)
	return nil
}

func (c *TokenCache) DeleteByToken(_ context.Context, tokenHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	userID, ok := c.byToken[tokenHash]
	if !ok {
		return apperr.New(apperr.NotFound, "refresh token not cached")
	}
	delete(c.byToken, tokenHash)
	delete(c.byUser, userID)
	return nil
}

// live returns the user's entry, dropping it when expired. c.mu must be held.
func (c *TokenCache) live(userID string) (cachedToken, bool) {
	entry, ok := c.byUser[userID]
	if !ok {
		return cachedToken{}, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.byToken, entry.rec.TokenHash)
		delete(c.byUser, userID)
		return cachedToken{}, false
	}
	return entry, true
}

type cachedResult struct {
	res       onboarding.Result
	expiresAt time.Time
}

// IdempotencyCache implements onboarding.IdempotencyCache.
type IdempotencyCache struct {
	mu      sync.Mutex
	now     func() time.Time
	results map[string]cachedResult
}

var _ onboarding.IdempotencyCache = (*IdempotencyCache)(nil)

// NewIdempotencyCache returns an empty cache. now may be nil.
func NewIdempotencyCache(now func() time.Time) *IdempotencyCache {
	if now == nil {
		now = time.Now
	}
	return &IdempotencyCache{now: now, results: make(map[string]cachedResult)}
}

func (c *IdempotencyCache) Save(_ context.Context, key string, res onboarding.Result, ttl time.Duration) error {
	if ttl <= 0 {
		return apperr.New(apperr.InvalidInput, "ttl must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[key] = cachedResult{res: res, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *IdempotencyCache) FindByKey(_ context.Context, key string) (onboarding.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.results[key]
	if !ok {
		return onboarding.Result{}, apperr.New(apperr.NotFound, "idempotency key not found")
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.results, key)
		return onboarding.Result{}, apperr.New(apperr.NotFound, "idempotency key expired")
	}
	return entry.res, nil
}
