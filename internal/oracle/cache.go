package oracle

import (
	"sync"
)

// CacheKey is the memo key for one lookup: "{origin}-{destination}-{date}".
func CacheKey(origin, destination, date string) string {
	return origin + "-" + destination + "-" + date
}

// Cache memoizes successful lookups for the lifetime of an editing session.
// Entries are never evicted: sessions are short and place pairs repeat
// heavily within one trip. Values are input-deterministic, so concurrent
// writers for one key converge and last-writer-wins is fine.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]TravelTime
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]TravelTime)}
}

func (c *Cache) Get(key string) (TravelTime, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *Cache) Put(key string, v TravelTime) {
	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot copies all entries, e.g. for session persistence.
func (c *Cache) Snapshot() map[string]TravelTime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]TravelTime, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Restore merges entries into the cache; existing keys are overwritten.
func (c *Cache) Restore(entries map[string]TravelTime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range entries {
		c.entries[k] = v
	}
}
