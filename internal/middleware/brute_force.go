package middleware

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/rhesis-ai/rhesis/internal/auth"
	"github.com/rhesis-ai/rhesis/internal/httputil"
	"github.com/rhesis-ai/rhesis/internal/metrics"
)

// Failed-credential limits. A client address gets more room than a single
// token since one caller may hold several tokens.
const (
	tokenFailureLimit  = 5
	clientFailureLimit = 20
	failureWindow      = 15 * time.Minute
	lockoutPeriod      = 5 * time.Minute
	guardSweepInterval = time.Minute
	guardMaxEntries    = 10000
)

type strikes struct {
	count    int
	since    time.Time
	lockedAt time.Time
}

func (s *strikes) lockedFor(now time.Time) time.Duration {
	if s.lockedAt.IsZero() {
		return 0
	}
	return max(lockoutPeriod-now.Sub(s.lockedAt), 0)
}

func (s *strikes) stale(now time.Time) bool {
	if !s.lockedAt.IsZero() {
		return now.Sub(s.lockedAt) >= lockoutPeriod
	}
	return now.Sub(s.since) >= failureWindow
}

// BruteForceGuard locks out bearer tokens and client addresses that keep
// failing authentication. Tokens are tracked by hash only. All methods are
// no-ops on a nil guard.
type BruteForceGuard struct {
	mu      sync.Mutex
	entries map[string]*strikes
	log     *logrus.Logger
	now     func() time.Time
}

// NewBruteForceGuard creates a guard whose sweeper stops when ctx is cancelled.
func NewBruteForceGuard(ctx context.Context, log *logrus.Logger) *BruteForceGuard {
	g := &BruteForceGuard{
		entries: make(map[string]*strikes),
		log:     log,
		now:     time.Now,
	}
	go g.sweepLoop(ctx)

	return g
}

func tokenKey(token string) string { return "token:" + auth.HashToken(token) }

func clientKey(ip string) string { return "client:" + ip }

// Blocked returns how long the token or the client address remains locked
// out. Zero means the attempt may proceed.
func (g *BruteForceGuard) Blocked(clientIP, token string) time.Duration {
	if g == nil {
		return 0
	}

	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	var wait time.Duration
	for _, key := range []string{tokenKey(token), clientKey(clientIP)} {
		if s, ok := g.entries[key]; ok {
			wait = max(wait, s.lockedFor(now))
		}
	}

	return wait
}

// Reject writes a 429 with Retry-After and reports true when the caller is
// locked out.
func (g *BruteForceGuard) Reject(c *gin.Context, token string) bool {
	wait := g.Blocked(c.ClientIP(), token)
	if wait <= 0 {
		return false
	}

	c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
	httputil.RespondError(c, http.StatusTooManyRequests, "rate_limited", "too many failed authentication attempts")

	return true
}

// RecordFailure counts a rejected token against the token and the client address.
func (g *BruteForceGuard) RecordFailure(clientIP, token string) {
	if g == nil {
		return
	}

	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	g.strike(tokenKey(token), tokenFailureLimit, now)
	if clientIP != "" {
		g.strike(clientKey(clientIP), clientFailureLimit, now)
	}
}

// ResetToken forgets the failures of a token that just authenticated.
// Failures counted against the client address stay.
func (g *BruteForceGuard) ResetToken(token string) {
	if g == nil {
		return
	}

	g.mu.Lock()
	delete(g.entries, tokenKey(token))
	g.mu.Unlock()
}

// strike must be called with g.mu held.
func (g *BruteForceGuard) strike(key string, limit int, now time.Time) {
	s, ok := g.entries[key]
	if !ok || s.stale(now) {
		s = &strikes{since: now}
		g.entries[key] = s
	}

	s.count++
	if s.count < limit || !s.lockedAt.IsZero() {
		return
	}

	s.lockedAt = now
	metrics.AuthFailures.WithLabelValues("lockout").Inc()
	g.log.WithFields(logrus.Fields{
		"key":      redactKey(key),
		"failures": s.count,
	}).Warn("locked out after repeated authentication failures")
}

// redactKey shortens token hashes for logging; client addresses are kept.
func redactKey(key string) string {
	const prefix = len("token:")
	if len(key) > prefix+12 && key[:prefix] == "token:" {
		return key[:prefix+12] + "..."
	}
	return key
}

func (g *BruteForceGuard) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(guardSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweep()
		}
	}
}

// sweep drops stale entries, then the oldest ones beyond guardMaxEntries.
func (g *BruteForceGuard) sweep() {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	for k, s := range g.entries {
		if s.stale(now) {
			delete(g.entries, k)
		}
	}

	excess := len(g.entries) - guardMaxEntries
	if excess <= 0 {
		return
	}

	keys := make([]string, 0, len(g.entries))
	for k := range g.entries {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return g.entries[a].since.Compare(g.entries[b].since)
	})
	for _, k := range keys[:excess] {
		delete(g.entries, k)
	}
}
