package sdk

import (
	"strings"
	"sync"
	"time"
)

// localCache is a small TTL map guarding against repeat lookups between the
// client and the service. Expiry is lazy on read plus an explicit sweep so
// CacheStats can report how many entries aged out.
type localCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	defaultTTL time.Duration
	now        func() time.Time
}

type cacheEntry struct {
	value  any
	expiry time.Time
}

func newLocalCache(defaultTTL time.Duration) *localCache {
	if defaultTTL <= 0 {
		defaultTTL = 60 * time.Second
	}
	return &localCache{
		entries:    make(map[string]cacheEntry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

func (c *localCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiry) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (c *localCache) set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiry: c.now().Add(ttl)}
}

func (c *localCache) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// deletePrefix removes every entry whose key starts with prefix. Used to
// evict the per-user evaluation entries derived from one flag.
func (c *localCache) deletePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

func (c *localCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

func (c *localCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cleanupExpired sweeps aged entries and returns how many were removed.
func (c *localCache) cleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiry) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
