// Package cache provides a small read-through cache for monitor status
// payloads, backed by an in-process store or Redis.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/zateckar/uptimo-sub000/internal/config"
)

// Cache stores serialized monitor status snapshots. Entries are invalidated
// whenever a check result lands for the monitor.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Close() error
}

// MonitorStatusKey is the cache key for one monitor's status snapshot.
func MonitorStatusKey(monitorID string) string {
	return "monitor:status:" + monitorID
}

// New builds the cache selected by configuration. A disabled cache returns
// the no-op implementation so callers never branch.
func New(cfg *config.CacheConfig) (Cache, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	switch cfg.Type {
	case "memory":
		return NewMemoryCache(cfg.TTL), nil
	case "redis":
		return NewRedisCache(cfg)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// Noop satisfies Cache without storing anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool)            { return nil, false }
func (Noop) Set(context.Context, string, []byte, time.Duration)    {}
func (Noop) Delete(context.Context, string)                        {}
func (Noop) Close() error                                          { return nil }
