package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"authhub/internal/apperr"
	"authhub/internal/auth"
)

// TokenCache implements auth.CacheTokenStore. Each user has two keys:
//
//	{prefix}:refresh:user:{userID}   -> JSON record
//	{prefix}:refresh:token:{hash}    -> userID
//
// both written with the same TTL.
type TokenCache struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

var _ auth.CacheTokenStore = (*TokenCache)(nil)

// NewTokenCache returns a cache using keys under prefix. logger may be nil.
func NewTokenCache(client redis.UniversalClient, prefix string, logger *zap.Logger) *TokenCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCache{client: client, prefix: prefix, logger: logger}
}

type tokenRecord struct {
	UserID    string    `json:"userId"`
	TokenHash string    `json:"tokenHash"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (c *TokenCache) userKey(userID string) string {
	return keyJoin(c.prefix, "refresh", "user", userID)
}

func (c *TokenCache) tokenKey(hash string) string {
	return keyJoin(c.prefix, "refresh", "token", hash)
}

const maxSaveAttempts = 10

// Save overwrites the user's entry and drops the reverse key of the token it
// replaces. The user key is WATCHed, so a concurrent Save for the same user
// makes this one retry with the record that won.
func (c *TokenCache) Save(ctx context.Context, rec auth.RefreshToken, ttl time.Duration) error {
	if ttl <= 0 {
		return apperr.New(apperr.InvalidInput, "ttl must be positive")
	}
	payload, err := json.Marshal(tokenRecord(rec))
	if err != nil {
		return err
	}
	userKey := c.userKey(rec.UserID)
	swap := func(tx *redis.Tx) error {
		prev, err := c.lookupWith(ctx, tx, rec.UserID)
		if err != nil && !apperr.IsKind(err, apperr.NotFound) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prev.TokenHash != "" && prev.TokenHash != rec.TokenHash {
				pipe.Del(ctx, c.tokenKey(prev.TokenHash))
			}
			pipe.Set(ctx, userKey, payload, ttl)
			pipe.Set(ctx, c.tokenKey(rec.TokenHash), rec.UserID, ttl)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		err = c.client.Watch(ctx, swap, userKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("cache refresh token: %w", err)
	}
	return nil
}

func (c *TokenCache) FindByUserID(ctx context.Context, userID string) (auth.RefreshToken, error) {
	return c.lookup(ctx, userID)
}

func (c *TokenCache) FindUserIDByToken(ctx context.Context, tokenHash string) (string, error) {
	userID, err := c.client.Get(ctx, c.tokenKey(tokenHash)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", apperr.New(apperr.NotFound, "refresh token not cached")
		}
		return "", err
	}
	return userID, nil
}

func (c *TokenCache) DeleteByUserID(ctx context.Context, userID string) error {
	rec, err := c.lookup(ctx, userID)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, c.userKey(userID), c.tokenKey(rec.TokenHash)).Err()
}

// DeleteByToken removes the token's reverse key and, when it is still the
// user's current token, the user's entry.
func (c *TokenCache) DeleteByToken(ctx context.Context, tokenHash string) error {
	userID, err := c.FindUserIDByToken(ctx, tokenHash)
	if err != nil {
		return err
	}
	keys := []string{c.tokenKey(tokenHash)}
	rec, err := c.lookup(ctx, userID)
	switch {
	case err == nil && rec.TokenHash == tokenHash:
		keys = append(keys, c.userKey(userID))
	case err != nil && !apperr.IsKind(err, apperr.NotFound):
		return err
	}
	return c.client.Del(ctx, keys...).Err()
}

// keyReader is satisfied by the client and by a WATCH transaction.
type keyReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

func (c *TokenCache) lookup(ctx context.Context, userID string) (auth.RefreshToken, error) {
	return c.lookupWith(ctx, c.client, userID)
}

func (c *TokenCache) lookupWith(ctx context.Context, r keyReader, userID string) (auth.RefreshToken, error) {
	raw, err := r.Get(ctx, c.userKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return auth.RefreshToken{}, apperr.New(apperr.NotFound, "refresh token not cached")
		}
		return auth.RefreshToken{}, err
	}
	var rec tokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.logger.Warn("drop unreadable cached refresh token",
			zap.String("event", "auth.refresh_token.cache_corrupt"),
			zap.String("user_id", userID),
			zap.Error(err))
		if delErr := r.Del(ctx, c.userKey(userID)).Err(); delErr != nil {
			return auth.RefreshToken{}, errors.Join(err, delErr)
		}
		return auth.RefreshToken{}, apperr.New(apperr.NotFound, "refresh token not cached")
	}
	return auth.RefreshToken(rec), nil
}
