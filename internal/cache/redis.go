package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/consejo-social/veeduria/internal/config"
	"github.com/consejo-social/veeduria/internal/telemetry"
)

// namespace isolates this service's keys in a shared redis.
const namespace = "veeduria:"

// scanBatch is the COUNT hint used while invalidating prefixes.
const scanBatch = 200

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// Redis implements Cache on a redis server. Failures are logged and treated
// as misses; the database stays the source of truth.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a redis-backed cache. It does not dial until first use.
func NewRedis(cfg config.RedisConfig, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultExpiration
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	return &Redis{client: client, ttl: ttl}
}

// Ping checks the connection for the readiness endpoint.
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Redis) Close() error {
	return c.client.Close()
}

// Get retrieves a value from the cache
func (c *Redis) Get(ctx context.Context, key string, dest any) bool {
	b, err := c.client.Get(ctx, namespace+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "cache: redis get failed", "key", key, "error", err)
		}
		telemetry.CacheRequestsTotal.WithLabelValues("redis", "miss").Inc()
		return false
	}
	telemetry.CacheRequestsTotal.WithLabelValues("redis", "hit").Inc()
	return decode(b, dest)
}

// Set adds a value to the cache
func (c *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	b, ok := encode(value)
	if !ok {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	if err := c.client.Set(ctx, namespace+key, b, ttl).Err(); err != nil {
		slog.WarnContext(ctx, "cache: redis set failed", "key", key, "error", err)
	}
}

// Delete removes a key from the cache
func (c *Redis) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, namespace+key).Err(); err != nil {
		slog.WarnContext(ctx, "cache: redis delete failed", "key", key, "error", err)
	}
}

// DeleteByPrefix walks matching keys with SCAN and deletes them in batches.
func (c *Redis) DeleteByPrefix(ctx context.Context, prefix string) {
	match := namespace + globEscaper.Replace(prefix) + "*"
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			slog.WarnContext(ctx, "cache: redis scan failed", "prefix", prefix, "error", err)
			return
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				slog.WarnContext(ctx, "cache: redis delete failed", "prefix", prefix, "error", err)
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// Flush removes every key of this service, leaving other tenants of the
// server alone.
func (c *Redis) Flush(ctx context.Context) {
	c.DeleteByPrefix(ctx, "")
}
