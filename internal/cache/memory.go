package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache is a process-local cache suitable for single-node deployments.
type MemoryCache struct {
	store      *gocache.Cache
	defaultTTL time.Duration
}

// NewMemoryCache creates an in-process cache with the given default TTL.
func NewMemoryCache(defaultTTL time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &MemoryCache{
		store:      gocache.New(defaultTTL, 2*defaultTTL),
		defaultTTL: defaultTTL,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	raw, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	value, ok := raw.([]byte)
	return value, ok
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.store.Set(key, value, ttl)
}

func (c *MemoryCache) Delete(_ context.Context, key string) {
	c.store.Delete(key)
}

func (c *MemoryCache) Close() error {
	c.store.Flush()
	return nil
}
