package rediscache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"authhub/internal/apperr"
	"authhub/internal/auth"
	"authhub/internal/onboarding"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func record(userID, hash string) auth.RefreshToken {
	issued := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	return auth.RefreshToken{UserID: userID, TokenHash: hash, IssuedAt: issued, ExpiresAt: issued.Add(7 * 24 * time.Hour)}
}

func TestTokenCache_SaveAndFind(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewTokenCache(client, "authhub", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, record("u1", "h1"), time.Hour))

	got, err := cache.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, record("u1", "h1"), got)

	userID, err := cache.FindUserIDByToken(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	assert.True(t, mr.Exists("authhub:refresh:user:u1"))
	assert.True(t, mr.Exists("authhub:refresh:token:h1"))
	assert.Equal(t, time.Hour, mr.TTL("authhub:refresh:token:h1"))
}

func TestTokenCache_SaveOverwritesPreviousToken(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewTokenCache(client, "authhub", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, record("u1", "old"), time.Hour))
	require.NoError(t, cache.Save(ctx, record("u1", "new"), time.Hour))

	_, err := cache.FindUserIDByToken(ctx, "old")
	assert.True(t, apperr.IsKind(err, apperr.NotFound), "old token should be gone, got %v", err)
	assert.False(t, mr.Exists("authhub:refresh:token:old"))

	got, err := cache.FindByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.TokenHash)
}

func TestTokenCache_ConcurrentSavesLeaveOneReverseKey(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewTokenCache(client, "authhub", zap.NewNop())
	ctx := context.Background()
	require.NoError(t, cache.Save(ctx, record("u1", "seed"), time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// A save that exhausts its retries writes nothing.
			_ = cache.Save(ctx, record("u1", fmt.Sprintf("h%d", i)), time.Hour)
		}(i)
	}
	wg.Wait()

	current, err := cache.FindByUserID(ctx, "u1")
	require.NoError(t, err)

	var tokenKeys []string
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "authhub:refresh:token:") {
			tokenKeys = append(tokenKeys, key)
		}
	}
	assert.Equal(t, []string{"authhub:refresh:token:" + current.TokenHash}, tokenKeys)
}

func TestTokenCache_Expiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewTokenCache(client, "authhub", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, record("u1", "h1"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := cache.FindByUserID(ctx, "u1")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	_, err = cache.FindUserIDByToken(ctx, "h1")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestTokenCache_DeleteByToken(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewTokenCache(client, "authhub", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, record("u1", "h1"), time.Hour))
	require.NoError(t, cache.DeleteByToken(ctx, "h1"))

	assert.False(t, mr.Exists("authhub:refresh:user:u1"))
	assert.False(t, mr.Exists("authhub:refresh:token:h1"))
	assert.True(t, apperr.IsKind(cache.DeleteByToken(ctx, "h1"), apperr.NotFound))
}

func TestTokenCache_DeleteByTokenKeepsNewerUserEntry(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewTokenCache(client, "authhub", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, record("u1", "h2"), time.Hour))
	// A stale reverse key left behind by another writer.
	require.NoError(t, mr.Set("authhub:refresh:token:h1", "u1"))

	require.NoError(t, cache.DeleteByToken(ctx, "h1"))
	assert.True(t, mr.Exists("authhub:refresh:user:u1"))
	assert.True(t, mr.Exists("authhub:refresh:token:h2"))
}

func TestTokenCache_DeleteByUserID(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewTokenCache(client, "", zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, record("u1", "h1"), time.Hour))
	require.NoError(t, cache.DeleteByUserID(ctx, "u1"))
	assert.False(t, mr.Exists("refresh:user:u1"))
	assert.False(t, mr.Exists("refresh:token:h1"))
	assert.True(t, apperr.IsKind(cache.DeleteByUserID(ctx, "u1"), apperr.NotFound))
}

func TestTokenCache_CorruptEntryIsAMiss(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewTokenCache(client, "authhub", nil)
	require.NoError(t, mr.Set("authhub:refresh:user:u1", "{not json"))

	_, err := cache.FindByUserID(context.Background(), "u1")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
	assert.False(t, mr.Exists("authhub:refresh:user:u1"))
}

func TestTokenCache_RejectsNonPositiveTTL(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewTokenCache(client, "authhub", nil)
	err := cache.Save(context.Background(), record("u1", "h1"), 0)
	assert.True(t, apperr.IsKind(err, apperr.InvalidInput))
}

func TestTokenCache_ConnectionErrorIsNotAMiss(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewTokenCache(client, "authhub", nil)
	mr.Close()

	_, err = cache.FindByUserID(context.Background(), "u1")
	require.Error(t, err)
	assert.False(t, apperr.IsKind(err, apperr.NotFound))
}

func TestIdempotencyCache_RoundTripAndExpiry(t *testing.T) {
	mr, client := setupTestRedis(t)
	cache := NewIdempotencyCache(client, "authhub")
	ctx := context.Background()

	res := onboarding.Result{TenantID: "t1", OrganizationID: "o1", UserID: "u1", TemporaryPassword: "pw"}
	require.NoError(t, cache.Save(ctx, "key-1", res, time.Hour))

	got, err := cache.FindByKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, res, got)
	assert.True(t, mr.Exists("authhub:onboarding:key-1"))

	mr.FastForward(2 * time.Hour)
	_, err = cache.FindByKey(ctx, "key-1")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}

func TestIdempotencyCache_Miss(t *testing.T) {
	_, client := setupTestRedis(t)
	cache := NewIdempotencyCache(client, "authhub")
	_, err := cache.FindByKey(context.Background(), "nope")
	assert.True(t, apperr.IsKind(err, apperr.NotFound))
}
