package middleware

import (
	"net/http"
	"sync"
	"time"

	"cabm-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiterOptions configures the rate limiter.
type RateLimiterOptions struct {
	// Limit defines requests per second.
	Limit rate.Limit
	// Burst defines maximum burst size allowed.
	Burst int
	// ExpiryDuration defines how long to keep idle client state.
	ExpiryDuration time.Duration
	// KeyFunc extracts the limiting key from a request.
	KeyFunc func(*gin.Context) string
}

// DefaultRateLimiterOptions returns sensible defaults.
func DefaultRateLimiterOptions() RateLimiterOptions {
	return RateLimiterOptions{
		Limit:          5,
		Burst:          10,
		ExpiryDuration: time.Hour,
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements per-client rate limiting for Gin.
type RateLimiter struct {
	mu      sync.Mutex
	options RateLimiterOptions
	clients map[string]*limiterEntry
	log     *logger.Logger
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(log *logger.Logger, options ...RateLimiterOptions) *RateLimiter {
	opts := DefaultRateLimiterOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	return &RateLimiter{
		options: opts,
		clients: make(map[string]*limiterEntry),
		log:     log,
	}
}

// Middleware returns a Gin middleware enforcing the limit.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	go r.cleanup()

	return func(c *gin.Context) {
		key := r.options.KeyFunc(c)
		if !r.getLimiter(key).Allow() {
			r.log.Warn("rate limit exceeded", "client", key, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "RATE_LIMITED",
					"message": "too many requests",
				},
			})
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.clients[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(r.options.Limit, r.options.Burst)}
		r.clients[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// cleanup drops limiter state for clients idle past the expiry window.
func (r *RateLimiter) cleanup() {
	ticker := time.NewTicker(r.options.ExpiryDuration)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-r.options.ExpiryDuration)
		r.mu.Lock()
		for key, entry := range r.clients {
			if entry.lastSeen.Before(cutoff) {
				delete(r.clients, key)
			}
		}
		r.mu.Unlock()
	}
}
