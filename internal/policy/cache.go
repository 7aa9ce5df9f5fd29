package policy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedSource fronts another Source with redis. Redis trouble is logged and
// the request falls through to the real source.
type CachedSource struct {
	real  Source
	redis *redis.Client
	ttl   time.Duration
	log   *slog.Logger
}

func NewCachedSource(real Source, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedSource{real: real, redis: rdb, ttl: ttl, log: log}
}

func cacheKey(shopID string) string { return "policy:return:" + shopID }

func (c *CachedSource) ReturnPolicy(ctx context.Context, shopID string) (ReturnPolicy, error) {
	key := cacheKey(shopID)

	data, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p ReturnPolicy
		if err := json.Unmarshal(data, &p); err == nil {
			return p, nil
		}
		c.log.Warn("policy_cache_decode_failed", "shop_id", shopID)
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("policy_cache_unavailable", "shop_id", shopID, "err", err)
	}

	p, err := c.real.ReturnPolicy(ctx, shopID)
	if err != nil {
		return ReturnPolicy{}, err
	}
	if raw, err := json.Marshal(p); err == nil {
		if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.log.Warn("policy_cache_store_failed", "shop_id", shopID, "err", err)
		}
	}
	return p, nil
}
