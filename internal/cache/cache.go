// Package cache holds derived, non-authoritative read results such as
// dashboard aggregates and configuration lookups. Values are stored JSON
// encoded so every backend round-trips them the same way, and writers drop
// whole prefixes after they commit.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/consejo-social/veeduria/internal/config"
)

// Cache defines the interface for caching operations
type Cache interface {
	// Get decodes the value stored under key into dest and reports whether
	// it was found
	Get(ctx context.Context, key string, dest any) bool

	// Set stores value under key. A zero ttl uses the backend default.
	Set(ctx context.Context, key string, value any, ttl time.Duration)

	// Delete removes a key from the cache
	Delete(ctx context.Context, key string)

	// DeleteByPrefix removes all keys starting with prefix
	DeleteByPrefix(ctx context.Context, prefix string)

	// Flush removes all items from the cache
	Flush(ctx context.Context)
}

// Key prefixes of cached aggregates.
const (
	PrefixConfig = "configuraciones"
)

// GenerateKey joins a prefix and parameters with colons.
func GenerateKey(prefix string, params ...any) string {
	parts := make([]string, len(params)+1)
	parts[0] = prefix

	for i, param := range params {
		parts[i+1] = fmt.Sprintf("%v", param)
	}

	return strings.Join(parts, ":")
}

// Fingerprint condenses a query string into a short stable token. Parameter
// order does not matter.
func Fingerprint(values url.Values) string {
	sum := sha256.Sum256([]byte(values.Encode()))
	return hex.EncodeToString(sum[:8])
}

// New builds the backend selected in cfg.
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.DefaultTTL, cfg.CleanupInterval), nil
	case "redis":
		return NewRedis(cfg.Redis, cfg.DefaultTTL), nil
	case "none":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

func encode(value any) ([]byte, bool) {
	b, err := json.Marshal(value)
	if err != nil {
		slog.Warn("cache: value not encodable", "error", err)
		return nil, false
	}
	return b, true
}

func decode(b []byte, dest any) bool {
	if err := json.Unmarshal(b, dest); err != nil {
		slog.Warn("cache: stored value not decodable", "error", err)
		return false
	}
	return true
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string, any) bool           { return false }
func (Noop) Set(context.Context, string, any, time.Duration) {}
func (Noop) Delete(context.Context, string)                  {}
func (Noop) DeleteByPrefix(context.Context, string)          {}
func (Noop) Flush(context.Context)                           {}
