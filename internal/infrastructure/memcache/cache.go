// Package memcache holds fetched balance results in process memory for a
// short TTL so repeat lookups do not reach the upstream provider.
package memcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ethbalance/internal/domain"
)

const defaultTTL = 5 * time.Second

type entry struct {
	result   domain.BalanceResult
	storedAt time.Time
}

// Cache is a TTL map safe for concurrent use. The clock is injected so
// expiry is deterministic under test; entries expire lazily on Get and may
// additionally be evicted by the background sweeper.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

func New(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     now,
	}
}

// Get returns the cached result for key if it is younger than the TTL.
// An expired entry is treated as absent and dropped.
func (c *Cache) Get(key string) (domain.BalanceResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return domain.BalanceResult{}, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.mu.Lock()
		// Another lookup may have refreshed the entry in between.
		if current, ok := c.entries[key]; ok && current.storedAt.Equal(e.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return domain.BalanceResult{}, false
	}
	return e.result, true
}

// Put stores a fresh result under key, overwriting any previous entry.
func (c *Cache) Put(key string, result domain.BalanceResult) {
	c.mu.Lock()
	c.entries[key] = entry{result: result, storedAt: c.now()}
	c.mu.Unlock()
}

// Len reports the number of physically present entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartSweeper evicts expired entries on a ticker until ctx is done. Lazy
// expiry on Get is the correctness mechanism; the sweeper only bounds memory
// for keys that are never asked for again.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if evicted := c.sweep(); evicted > 0 {
					slog.Debug("cache sweep", "evicted", evicted)
				}
			}
		}
	}()
}

func (c *Cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	evicted := 0
	for key, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}
