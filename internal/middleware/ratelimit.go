// Package middleware provides the gin middleware chain for the Rhesis API.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rhesis-ai/rhesis/internal/httputil"
	"github.com/rhesis-ai/rhesis/internal/metrics"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

// Bucket table limits.
const (
	maxBuckets        = 100_000
	bucketIdleTimeout = 10 * time.Minute
	bucketSweepPeriod = 5 * time.Minute
)

// RateLimiter keeps one token bucket per key. The key is the client address
// before authentication and the organization after it, so one busy
// organization cannot use up another's share of the workers.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64
	burst   float64
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a RateLimiter refilling ratePerSec tokens per second
// up to burst. Idle buckets are evicted until ctx is cancelled.
func NewRateLimiter(ctx context.Context, ratePerSec, burst int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    float64(ratePerSec),
		burst:   float64(burst),
		now:     time.Now,
	}
	go rl.sweepLoop(ctx)

	return rl
}

// take spends one token of key. It returns false with the time until the
// next token when the bucket is empty or the table is full.
func (rl *RateLimiter) take(key string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		if len(rl.buckets) >= maxBuckets {
			return false, time.Second
		}
		b = &bucket{tokens: rl.burst, last: now}
		rl.buckets[key] = b
	}

	b.tokens = min(rl.burst, b.tokens+now.Sub(b.last).Seconds()*rl.rate)
	b.last = now

	if b.tokens < 1 {
		return false, time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
	}
	b.tokens--

	return true, 0
}

func (rl *RateLimiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(bucketSweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, b := range rl.buckets {
		if now.Sub(b.last) > bucketIdleTimeout {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) limit(c *gin.Context, scope, key string) {
	ok, wait := rl.take(scope + ":" + key)
	if !ok {
		metrics.RateLimited.WithLabelValues(scope).Inc()
		c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		httputil.RespondError(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")

		return
	}

	c.Next()
}

// Handler limits requests per client IP. c.ClientIP() ignores forwarding
// headers because the router trusts no proxies.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rl.limit(c, "ip", c.ClientIP())
	}
}

// PerOrganization limits requests per organization. It must run after
// Require; requests without an identity pass through.
func (rl *RateLimiter) PerOrganization() gin.HandlerFunc {
	return func(c *gin.Context) {
		org := tenant.IdentityFromContext(c.Request.Context()).OrganizationID
		if org == "" {
			c.Next()
			return
		}

		rl.limit(c, "org", org)
	}
}
