package gateway

import (
	"sync"
	"time"
)

// decisionCache is a TTL cache of validation decisions keyed by
// request fingerprint. Critical sections cover only map access, never
// I/O; the in-flight coalescing lives in the validator's singleflight
// group, not here.
type decisionCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

type cacheEntry struct {
	decision Decision
	expires  time.Time
}

func newDecisionCache(ttl time.Duration, maxEntries int, now func() time.Time) *decisionCache {
	return &decisionCache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
	}
}

// get returns the cached decision if present and unexpired.
func (c *decisionCache) get(fingerprint string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		return Decision{}, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, fingerprint)
		return Decision{}, false
	}
	return e.decision, true
}

// put stores a decision for the configured TTL, evicting expired
// entries first and the soonest-to-expire entry if still at capacity.
func (c *decisionCache) put(fingerprint string, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.entries) >= c.maxEntries {
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
	}
	if len(c.entries) >= c.maxEntries {
		var oldest string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldest == "" || e.expires.Before(oldestAt) {
				oldest, oldestAt = k, e.expires
			}
		}
		delete(c.entries, oldest)
	}

	c.entries[fingerprint] = cacheEntry{decision: d, expires: now.Add(c.ttl)}
}

// len reports the live entry count.
func (c *decisionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
