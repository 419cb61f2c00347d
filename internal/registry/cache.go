package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"courtside/internal/metrics"
	"courtside/internal/models"

	"github.com/redis/go-redis/v9"
)

// SlotCache holds the browsable slot list of a listing. Every entry is
// tagged with the listing's generation; Invalidate bumps the generation so
// a list read before the bump can never be served after it.
type SlotCache interface {
	// Get returns the cached list and the current generation. A negative
	// generation means the cache is unavailable and Set must be skipped.
	Get(ctx context.Context, listingID int64) (slots []models.Slot, gen int64, ok bool)
	Set(ctx context.Context, listingID, gen int64, slots []models.Slot)
	Invalidate(ctx context.Context, listingID int64)
}

// NoopCache disables caching.
type NoopCache struct{}

func (NoopCache) Get(context.Context, int64) ([]models.Slot, int64, bool) { return nil, -1, false }
func (NoopCache) Set(context.Context, int64, int64, []models.Slot)        {}
func (NoopCache) Invalidate(context.Context, int64)                       {}

// RedisSlotCache stores slot lists as JSON with a TTL.
type RedisSlotCache struct {
	redis redis.UniversalClient
	ttl   time.Duration
}

func NewRedisSlotCache(client redis.UniversalClient, ttl time.Duration) *RedisSlotCache {
	return &RedisSlotCache{redis: client, ttl: ttl}
}

func genKey(listingID int64) string {
	return fmt.Sprintf("slots:listing:%d:gen", listingID)
}

func cacheKey(listingID, gen int64) string {
	return fmt.Sprintf("slots:listing:%d:%d", listingID, gen)
}

func (c *RedisSlotCache) generation(ctx context.Context, listingID int64) int64 {
	if c.redis == nil || c.ttl <= 0 {
		return -1
	}
	gen, err := c.redis.Get(ctx, genKey(listingID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0
	}
	if err != nil {
		return -1
	}
	return gen
}

func (c *RedisSlotCache) Get(ctx context.Context, listingID int64) ([]models.Slot, int64, bool) {
	gen := c.generation(ctx, listingID)
	if gen < 0 {
		return nil, gen, false
	}
	var slots []models.Slot
	if c.readCache(ctx, cacheKey(listingID, gen), &slots) {
		metrics.IncSlotCache("hit")
		return slots, gen, true
	}
	metrics.IncSlotCache("miss")
	return nil, gen, false
}

// Set stores slots under gen. A list read before an invalidation lands
// under a stale generation and is never served.
func (c *RedisSlotCache) Set(ctx context.Context, listingID, gen int64, slots []models.Slot) {
	if gen < 0 {
		return
	}
	c.writeCache(ctx, cacheKey(listingID, gen), slots)
}

func (c *RedisSlotCache) Invalidate(ctx context.Context, listingID int64) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Incr(ctx, genKey(listingID)).Err()
}

func (c *RedisSlotCache) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.ttl <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *RedisSlotCache) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}
