// internal/patterncache/cache.go
// Site pattern cache. A successful analysis for a host is reusable for a
// while: the same form rarely changes between sessions, and skipping the
// generative call is both faster and cheaper. The cache is an explicit
// component owned by the caller, bounded by LRU capacity and per-entry TTL,
// with an injected clock so tests control expiry.
package patterncache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/formpilot/formpilot-cli/api/schemas"
)

// Clock abstracts time for expiry checks.
type Clock func() time.Time

type entry struct {
	result   *schemas.AnalysisResult
	storedAt time.Time
}

// Cache maps a site key (normalized host) to its last good AnalysisResult.
type Cache struct {
	entries *lru.Cache[string, entry]
	ttl     time.Duration
	now     Clock
}

// New builds a cache with the given capacity and TTL. A nil clock uses
// time.Now. Capacity must be positive.
func New(capacity int, ttl time.Duration, now Clock) (*Cache, error) {
	if now == nil {
		now = time.Now
	}
	entries, err := lru.New[string, entry](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries, ttl: ttl, now: now}, nil
}

// Get returns the cached result for key if present and unexpired. Expired
// entries are evicted on access.
func (c *Cache) Get(key string) (*schemas.AnalysisResult, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl {
		c.entries.Remove(key)
		return nil, false
	}
	return e.result, true
}

// Put stores a result for key, stamping it with the current clock.
func (c *Cache) Put(key string, result *schemas.AnalysisResult) {
	if result == nil {
		return
	}
	c.entries.Add(key, entry{result: result, storedAt: c.now()})
}

// Len reports the number of live entries, counting expired but unevicted
// ones.
func (c *Cache) Len() int { return c.entries.Len() }

// Purge drops everything.
func (c *Cache) Purge() { c.entries.Purge() }
