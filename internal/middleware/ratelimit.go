// ratelimit.go holds the token-bucket limiters in front of login, uploads and
// general API traffic. Rejected requests get 429 with a Retry-After derived
// from the bucket's refill time.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/consejo-social/veeduria/internal/api/response"
	"github.com/consejo-social/veeduria/internal/telemetry"
)

// idleEntryTTL is how long an unused client bucket is kept.
const idleEntryTTL = 10 * time.Minute

// KeyFunc derives the bucket key of a request.
type KeyFunc func(c *gin.Context) string

// RateLimitConfig holds configuration for one limiter
type RateLimitConfig struct {
	// Name labels the limiter in rate_limited_total
	Name string
	// RequestsPerMinute is the sustained refill rate
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often idle buckets are dropped
	CleanupInterval time.Duration
	// Key selects the bucket; nil means KeyByAccount
	Key KeyFunc
}

// DefaultRateLimitConfig returns the limits for general API traffic, one
// bucket per account.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Name:              "general",
		RequestsPerMinute: 200,
		BurstSize:         50,
		CleanupInterval:   5 * time.Minute,
		Key:               KeyByAccount,
	}
}

// AuthRateLimitConfig returns the login limits. Login has no account yet, so
// buckets are per client IP.
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Name:              "login",
		RequestsPerMinute: 10,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
		Key:               KeyByIP,
	}
}

// UploadRateLimitConfig returns limits for file uploads
func UploadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Name:              "upload",
		RequestsPerMinute: 30,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
		Key:               KeyByAccount,
	}
}

// KeyByIP buckets requests by client IP.
func KeyByIP(c *gin.Context) string {
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

// KeyByAccount buckets requests by authenticated account, falling back to
// the client IP for anonymous requests.
func KeyByAccount(c *gin.Context) string {
	if id := c.GetString("user_id"); id != "" {
		return "user:" + id
	}
	return KeyByIP(c)
}

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	config   RateLimitConfig
	limit    rate.Limit
	entries  map[string]*rateLimitEntry
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
// Call Stop on shutdown.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if config.Name == "" {
		config.Name = def.Name
	}
	if config.RequestsPerMinute < 1 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.BurstSize < 1 {
		config.BurstSize = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.Key == nil {
		config.Key = KeyByAccount
	}
	rl := &RateLimiter{
		config:  config,
		limit:   rate.Limit(float64(config.RequestsPerMinute) / 60),
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	go rl.cleanup()

	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep(rl.now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, entry := range rl.entries {
		if now.Sub(entry.lastSeen) > idleEntryTTL {
			delete(rl.entries, key)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) entry(key string, now time.Time) *rateLimitEntry {
	e, ok := rl.entries[key]
	if !ok {
		e = &rateLimitEntry{limiter: rate.NewLimiter(rl.limit, rl.config.BurstSize)}
		rl.entries[key] = e
	}
	e.lastSeen = now
	return e
}

// Allow consumes a token from key's bucket. When none is left it reports
// false and how long until one is.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	lim := rl.entry(key, now).limiter
	if lim.AllowN(now, 1) {
		return true, 0
	}
	r := lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// RemainingTokens returns how many whole tokens key has left.
func (rl *RateLimiter) RemainingTokens(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[key]
	if !ok {
		return rl.config.BurstSize
	}
	if n := int(e.limiter.TokensAt(rl.now())); n > 0 {
		return n
	}
	return 0
}

// RateLimitMiddleware rejects requests over the limit with 429.
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := limiter.config.Key(c)

		ok, wait := limiter.Allow(key)
		if !ok {
			telemetry.RateLimitedTotal.WithLabelValues(limiter.config.Name).Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, response.Envelope{
				Success: false,
				Message: "Demasiadas solicitudes, intente de nuevo más tarde",
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.RemainingTokens(key)))

		c.Next()
	}
}

// retryAfterSeconds rounds up to whole seconds, never below one.
func retryAfterSeconds(wait time.Duration) int {
	s := int(math.Ceil(wait.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
