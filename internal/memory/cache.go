package memory

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"appkernel/internal/logging"
)

// Cache is the per-key read cache in front of the durable store. Writes are
// write-through; the store invalidates per-key on write.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
	Delete(ctx context.Context, key string)
}

const cacheTTL = 30 * time.Minute

// NewCache returns a Redis-backed cache when redisURL parses and the server
// answers a ping, otherwise an in-process map. Callers never see the
// difference.
func NewCache(redisURL string) Cache {
	if redisURL == "" {
		return newMemCache()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logging.L().Warn("invalid redis url, using in-process cache", zap.Error(err))
		return newMemCache()
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logging.L().Warn("redis unreachable, using in-process cache", zap.Error(err))
		return newMemCache()
	}

	logging.L().Info("memory cache backed by redis")
	return &redisCache{client: client}
}

type redisCache struct {
	client *redis.Client
}

func (c *redisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (c *redisCache) Set(ctx context.Context, key, value string) {
	if err := c.client.Set(ctx, key, value, cacheTTL).Err(); err != nil {
		logging.L().Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *redisCache) Delete(ctx context.Context, key string) {
	c.client.Del(ctx, key)
}

type memCache struct {
	mu    sync.RWMutex
	items map[string]string
}

func newMemCache() *memCache {
	return &memCache{items: make(map[string]string)}
}

func (c *memCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *memCache) Set(_ context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
}

func (c *memCache) Delete(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}
