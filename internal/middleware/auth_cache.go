package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rhesis-ai/rhesis/internal/auth"
	"github.com/rhesis-ai/rhesis/internal/models"
	"github.com/rhesis-ai/rhesis/internal/tenant"
)

const (
	negativeCacheTTL   = 30 * time.Second
	maxCacheEntries    = 10000
	cacheCleanupPeriod = 60 * time.Second
)

type cachedToken struct {
	record    *models.APIToken // nil for a cached not-found
	fetchedAt time.Time
}

// CachedTokenRecords wraps auth.TokenRecords with a bounded in-memory cache.
// Concurrent misses for the same token share one database lookup.
type CachedTokenRecords struct {
	inner auth.TokenRecords
	ttl   time.Duration
	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cachedToken
}

// NewCachedTokenRecords creates a caching wrapper. The provided context
// controls the lifetime of the background eviction goroutine.
func NewCachedTokenRecords(ctx context.Context, inner auth.TokenRecords, ttl time.Duration) *CachedTokenRecords {
	c := &CachedTokenRecords{
		inner: inner,
		ttl:   ttl,
		cache: make(map[string]cachedToken),
	}
	go c.evictLoop(ctx)
	return c
}

func cacheKey(id tenant.Identity, tokenID string) string {
	return id.OrganizationID + "/" + tokenID
}

func (c *CachedTokenRecords) entryTTL(e cachedToken) time.Duration {
	if e.record == nil {
		return negativeCacheTTL
	}
	return c.ttl
}

// evictLoop periodically removes expired entries from the cache.
func (c *CachedTokenRecords) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(cacheCleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.evictExpiredLocked(time.Now())
			c.mu.Unlock()
		}
	}
}

func (c *CachedTokenRecords) evictExpiredLocked(now time.Time) {
	for k, v := range c.cache {
		if now.Sub(v.fetchedAt) >= c.entryTTL(v) {
			delete(c.cache, k)
		}
	}
}

// Get returns a cached token record or delegates to the inner lookup.
// Unknown tokens are negatively cached so garbage bearers do not reach
// the database on every request.
func (c *CachedTokenRecords) Get(ctx context.Context, id tenant.Identity, tokenID string) (*models.APIToken, error) {
	key := cacheKey(id, tokenID)

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < c.entryTTL(entry) {
		if entry.record == nil {
			return nil, models.ErrTokenNotFound
		}
		rec := *entry.record
		return &rec, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		rec, err := c.inner.Get(ctx, id, tokenID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}

		c.store(key, cachedToken{record: rec, fetchedAt: time.Now()})

		return rec, err
	})
	if err != nil {
		return nil, err
	}

	rec := *v.(*models.APIToken)

	return &rec, nil
}

func (c *CachedTokenRecords) store(key string, entry cachedToken) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.cache) >= maxCacheEntries {
		c.evictExpiredLocked(time.Now())
		for k := range c.cache {
			if len(c.cache) < maxCacheEntries {
				break
			}
			delete(c.cache, k)
		}
	}

	c.cache[key] = entry
}

// Invalidate drops a token from the cache so a revocation takes effect on
// this process immediately.
func (c *CachedTokenRecords) Invalidate(id tenant.Identity, tokenID string) {
	c.mu.Lock()
	delete(c.cache, cacheKey(id, tokenID))
	c.mu.Unlock()
}
