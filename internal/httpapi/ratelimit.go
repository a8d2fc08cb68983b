package httpapi

import (
	"net/http"
	"sync"
	"time"

	"voice-gateway/internal/auth"
	"voice-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles API calls per client. Authenticated callers are keyed
// by user_id, everyone else by client IP.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rps     rate.Limit
	burst   int
	maxAge  time.Duration

	Now func() time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		maxAge:  10 * time.Minute,
		Now:     time.Now,
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	now := rl.Now()

	rl.mu.Lock()
	e, ok := rl.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.entries[key] = e
	}
	e.lastSeen = now
	rl.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Sweep drops limiters idle for longer than maxAge and returns how many went.
func (rl *RateLimiter) Sweep() int {
	cutoff := rl.Now().Add(-rl.maxAge)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for k, e := range rl.entries {
		if e.lastSeen.Before(cutoff) {
			delete(rl.entries, k)
			removed++
		}
	}
	return removed
}

// Run sweeps on interval until done is closed.
func (rl *RateLimiter) Run(done <-chan struct{}, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			rl.Sweep()
		case <-done:
			return
		}
	}
}

// Middleware answers 429 with Retry-After once a client's bucket is empty.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if uid, err := auth.UserID(c.Request.Context()); err == nil {
			key = "user:" + uid
		}
		if !rl.Allow(key) {
			logger.FromGin(c).Warn("api rate limit exceeded", "key", key, "path", c.FullPath())
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
