package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"authhub/internal/apperr"
	"authhub/internal/onboarding"
)

// IdempotencyCache implements onboarding.IdempotencyCache with JSON values
// under {prefix}:onboarding:{key}.
type IdempotencyCache struct {
	client redis.UniversalClient
	prefix string
}

var _ onboarding.IdempotencyCache = (*IdempotencyCache)(nil)

func NewIdempotencyCache(client redis.UniversalClient, prefix string) *IdempotencyCache {
	return &IdempotencyCache{client: client, prefix: prefix}
}

func (c *IdempotencyCache) key(k string) string {
	return keyJoin(c.prefix, "onboarding", k)
}

func (c *IdempotencyCache) Save(ctx context.Context, key string, res onboarding.Result, ttl time.Duration) error {
	if ttl <= 0 {
		return apperr.New(apperr.InvalidInput, "ttl must be positive")
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), payload, ttl).Err()
}

func (c *IdempotencyCache) FindByKey(ctx context.Context, key string) (onboarding.Result, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return onboarding.Result{}, apperr.New(apperr.NotFound, "idempotency key not found")
		}
		return onboarding.Result{}, err
	}
	var res onboarding.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return onboarding.Result{}, apperr.Wrap(apperr.Unavailable, err, "decode cached onboarding result")
	}
	return res, nil
}
