package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	keyPrefix = "cargo:dl:"

	// DefaultTTL is how long a resolved URL is kept
	DefaultTTL = 24 * time.Hour
)

// LookupFunc resolves a download URL from the source of truth
type LookupFunc func(ctx context.Context) (string, error)

// DownloadCache caches download URLs by crate name and version. Cache
// failures are logged and fall through to the lookup.
type DownloadCache struct {
	store  Store
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewDownloadCache creates a cache on top of store. A zero ttl uses DefaultTTL.
func NewDownloadCache(store Store, ttl time.Duration) *DownloadCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DownloadCache{
		store:  store,
		ttl:    ttl,
		logger: slog.Default().With("component", "download-cache"),
	}
}

// Resolve returns the cached URL for name and version, calling lookup on a
// miss. Concurrent misses for the same version share one lookup. Lookup
// errors are returned as is and never cached.
func (c *DownloadCache) Resolve(ctx context.Context, name, version string, lookup LookupFunc) (string, error) {
	key := buildKey(name, version)
	if url, ok := c.get(ctx, key); ok {
		return url, nil
	}

	val, err, _ := c.group.Do(key, func() (any, error) {
		url, err := lookup(ctx)
		if err != nil {
			return "", err
		}
		if err := c.store.Set(ctx, key, url, c.ttl); err != nil {
			c.logger.Warn("Cache set failed", "key", key, "error", err)
		}
		return url, nil
	})
	if err != nil {
		return "", err
	}
	return val.(string), nil
}

func (c *DownloadCache) get(ctx context.Context, key string) (string, bool) {
	url, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Cache get failed", "key", key, "error", err)
		c.misses.Add(1)
		return "", false
	}
	if !ok {
		c.misses.Add(1)
		return "", false
	}
	c.hits.Add(1)
	return url, true
}

// Ping checks the backing store
func (c *DownloadCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Close closes the backing store
func (c *DownloadCache) Close() error {
	return c.store.Close()
}

// Stats returns the number of hits and misses so far
func (c *DownloadCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func buildKey(name, version string) string {
	return keyPrefix + name + "@" + version
}
