package internal

import (
	"sync"
	"sync/atomic"

	"github.com/lychee-technology/projection"
)

// schemaCache memoizes derived output schemas keyed by the structural
// fingerprint of the input schema. Entries are never evicted; when maxEntries
// is reached new schemas are simply not stored.
type schemaCache struct {
	mu         sync.RWMutex
	entries    map[string]*projection.Schema
	maxEntries int
	hits       atomic.Int64
	misses     atomic.Int64
}

func newSchemaCache(maxEntries int) *schemaCache {
	return &schemaCache{
		entries:    make(map[string]*projection.Schema),
		maxEntries: maxEntries,
	}
}

func (c *schemaCache) get(input *projection.Schema) (*projection.Schema, bool) {
	c.mu.RLock()
	out, ok := c.entries[input.Fingerprint()]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return out, ok
}

// put stores out for input unless another goroutine got there first, in
// which case the stored value wins. It reports whether out is now cached.
func (c *schemaCache) put(input *projection.Schema, out *projection.Schema) (*projection.Schema, bool) {
	key := input.Fingerprint()
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing, true
	}
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		return out, false
	}
	c.entries[key] = out
	return out, true
}

func (c *schemaCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CacheStats reports schema cache activity.
type CacheStats struct {
	Entries     int   `json:"entries"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Derivations int64 `json:"derivations"`
}
