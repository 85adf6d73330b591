package engine

import (
	"sync"
	"time"

	"github.com/unidrive/core/pkg/types"
)

// listingCache is a TTL-keyed cache of directory listings: a successful
// List may populate a short-lived cache entry, and any mutating operation
// under the affected directory invalidates it. Grounded on an earlier
// internal/cache.LRUCache shape (map + mutex + background
// expiry sweep) but trimmed to whole-entry TTL expiry only — no weighted
// eviction, no byte-range sub-keying, since the engine only ever caches
// full directory listings.
type listingCache struct {
	mu      sync.Mutex
	entries map[string]listingCacheEntry

	defaultTTL  time.Duration
	perMountTTL map[string]time.Duration
	maxEntries  int
}

type listingCacheEntry struct {
	items     []types.Entry
	expiresAt time.Time
}

func newListingCache(defaultTTL time.Duration, perMountTTL map[string]time.Duration, maxEntries int) *listingCache {
	return &listingCache{
		entries:     make(map[string]listingCacheEntry),
		defaultTTL:  defaultTTL,
		perMountTTL: perMountTTL,
		maxEntries:  maxEntries,
	}
}

func (c *listingCache) ttlFor(mountID string) time.Duration {
	if ttl, ok := c.perMountTTL[mountID]; ok {
		return ttl
	}
	return c.defaultTTL
}

func (c *listingCache) get(virtualPath string) ([]types.Entry, bool) {
	if c.defaultTTL <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[virtualPath]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, virtualPath)
		return nil, false
	}
	return entry.items, true
}

func (c *listingCache) put(virtualPath, mountID string, items []types.Entry) {
	ttl := c.ttlFor(mountID)
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		// No eviction policy beyond "don't grow unbounded": when full, the
		// new listing is simply not cached and existing entries stay. A
		// listing cache miss just means one extra driver round-trip.
		return
	}
	c.entries[virtualPath] = listingCacheEntry{items: items, expiresAt: time.Now().Add(ttl)}
}

// invalidatePrefix drops every cached listing at or below virtualPath —
// called after any mutating operation so a stale listing is never served
// once its directory has changed.
func (c *listingCache) invalidatePrefix(virtualPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if key == virtualPath || hasPathPrefixLocal(key, virtualPath) || hasPathPrefixLocal(virtualPath, key) {
			delete(c.entries, key)
		}
	}
}
