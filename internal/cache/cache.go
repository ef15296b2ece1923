package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"

	"github.com/settlr/settlr/config"
	redis_db "github.com/settlr/settlr/internal/redis-db"
)

// Cache is the read-through cache in front of hot ledger lookups.
// Entries are invalidated explicitly on every ledger write, so readers
// can never observe a stale status through it.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, data interface{}) error
	Delete(ctx context.Context, key string) error
}

type RedisCache struct {
	cache *cache.Cache
}

// NewCache connects to the configured Redis and returns a cache backed
// by it plus a small local TinyLFU tier.
func NewCache() (Cache, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	return newRedisCache([]string{fmt.Sprintf("redis://%s", cfg.Redis.Dns)})
}

// NewCacheFromAddresses builds a cache from explicit Redis addresses.
// Used by tests running against miniredis.
func NewCacheFromAddresses(addresses []string) (Cache, error) {
	return newRedisCache(addresses)
}

func newRedisCache(addresses []string) (*RedisCache, error) {
	client, err := redis_db.NewRedisClient(addresses)
	if err != nil {
		return nil, err
	}

	c := cache.New(&cache.Options{
		Redis:      client.Client(),
		LocalCache: cache.NewTinyLFU(1000, time.Minute),
	})
	return &RedisCache{cache: c}, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: value,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	return r.cache.Get(ctx, key, data)
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
