package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a fetched rate table stays valid.
const DefaultTTL = 30 * time.Minute

// Cache stores rate tables keyed by endpoint URL. Implementations are shared
// process-wide without locking around the fetch itself: two concurrent misses
// for the same URL may both fetch and both write, last write wins.
type Cache interface {
	Get(ctx context.Context, url string) (*RateTable, bool)
	Set(ctx context.Context, url string, table *RateTable, ttl time.Duration)
}

// MemoryCache is the default in-process TTL cache.
type MemoryCache struct {
	store *gocache.Cache
}

// NewMemoryCache constructs an in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{store: gocache.New(DefaultTTL, 10*time.Minute)}
}

// Get returns a cached table.
func (c *MemoryCache) Get(_ context.Context, url string) (*RateTable, bool) {
	v, ok := c.store.Get(url)
	if !ok {
		return nil, false
	}
	table, ok := v.(*RateTable)
	return table, ok
}

// Set stores a table until ttl elapses.
func (c *MemoryCache) Set(_ context.Context, url string, table *RateTable, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.store.Set(url, table, ttl)
}

const redisKeyPrefix = "rates:"

// RedisCache shares rate tables across processes through Redis. Cache
// failures degrade to a miss; the fetcher is the source of truth.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisCache constructs a Redis-backed cache.
func NewRedisCache(client *redis.Client, logger *slog.Logger) *RedisCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, logger: logger}
}

// Get returns a cached table.
func (c *RedisCache) Get(ctx context.Context, url string) (*RateTable, bool) {
	data, err := c.client.Get(ctx, redisKeyPrefix+url).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("rates cache read", slog.Any("error", err))
		}
		return nil, false
	}
	var table RateTable
	if err := json.Unmarshal(data, &table); err != nil {
		c.logger.Warn("rates cache decode", slog.Any("error", err))
		return nil, false
	}
	return &table, true
}

// Set stores a table until ttl elapses.
func (c *RedisCache) Set(ctx context.Context, url string, table *RateTable, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(table)
	if err != nil {
		c.logger.Warn("rates cache encode", slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+url, data, ttl).Err(); err != nil {
		c.logger.Warn("rates cache write", slog.Any("error", err))
	}
}
