package cache

import (
	"context"
	"strings"
	"time"

	goCache "github.com/patrickmn/go-cache"

	"github.com/consejo-social/veeduria/internal/telemetry"
)

// DefaultExpiration is the default expiration time for cache entries
const DefaultExpiration = 5 * time.Minute

// DefaultCleanupInterval is how often expired items are removed from the cache
const DefaultCleanupInterval = 10 * time.Minute

// Memory implements Cache using github.com/patrickmn/go-cache
type Memory struct {
	cache *goCache.Cache
}

// NewMemory creates an in-process cache. Zero durations use the defaults.
func NewMemory(ttl, cleanup time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultExpiration
	}
	if cleanup <= 0 {
		cleanup = DefaultCleanupInterval
	}
	return &Memory{cache: goCache.New(ttl, cleanup)}
}

// Get retrieves a value from the cache
func (c *Memory) Get(_ context.Context, key string, dest any) bool {
	raw, ok := c.cache.Get(key)
	if !ok {
		telemetry.CacheRequestsTotal.WithLabelValues("memory", "miss").Inc()
		return false
	}
	telemetry.CacheRequestsTotal.WithLabelValues("memory", "hit").Inc()
	return decode(raw.([]byte), dest)
}

// Set adds a value to the cache
func (c *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) {
	b, ok := encode(value)
	if !ok {
		return
	}
	if ttl <= 0 {
		ttl = goCache.DefaultExpiration
	}
	c.cache.Set(key, b, ttl)
}

// Delete removes a key from the cache
func (c *Memory) Delete(_ context.Context, key string) {
	c.cache.Delete(key)
}

// DeleteByPrefix removes all keys with the given prefix
func (c *Memory) DeleteByPrefix(_ context.Context, prefix string) {
	for k := range c.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			c.cache.Delete(k)
		}
	}
}

// Flush removes all items from the cache
func (c *Memory) Flush(_ context.Context) {
	c.cache.Flush()
}
