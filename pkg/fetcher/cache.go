package fetcher

import (
	"math"
	"sync"
	"time"

	"github.com/ubermorgenland/mcp-bridge/pkg/openapi"
)

// DefaultMaxEntries bounds the cache when the caller passes no limit.
const DefaultMaxEntries = 128

type cacheEntry struct {
	doc       *openapi.Document
	expires   time.Time
	insertIdx uint64
}

// Cache holds decoded documents keyed by source URL. Entries expire
// after the ttl and are dropped lazily on Get; when the entry bound is
// reached the oldest insertion goes first. Cached documents are shared
// across requests and must be treated as read-only; the resolver
// clones before it rewrites anything.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	max     int
	nextIdx uint64
	entries map[string]*cacheEntry
}

// NewCache builds a cache. A non-positive ttl disables reuse: entries
// expire the moment they are stored.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		ttl:     ttl,
		max:     maxEntries,
		entries: make(map[string]*cacheEntry),
	}
}

// Get returns the cached document for url if it is still fresh.
func (c *Cache) Get(url string) (*openapi.Document, bool) {
	c.mu.RLock()
	e, ok := c.entries[url]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !time.Now().Before(e.expires) {
		c.mu.Lock()
		if cur, ok := c.entries[url]; ok && cur == e {
			delete(c.entries, url)
		}
		c.mu.Unlock()
		return nil, false
	}
	return e.doc, true
}

// Put stores doc under url, evicting the oldest entry when full.
func (c *Cache) Put(url string, doc *openapi.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[url]; !ok && len(c.entries) >= c.max {
		c.evictOldest()
	}
	c.nextIdx++
	c.entries[url] = &cacheEntry{
		doc:       doc,
		expires:   time.Now().Add(c.ttl),
		insertIdx: c.nextIdx,
	}
}

// evictOldest drops the entry with the smallest insertion index.
// Callers hold the write lock.
func (c *Cache) evictOldest() {
	oldest := uint64(math.MaxUint64)
	oldestKey := ""
	for key, e := range c.entries {
		if e.insertIdx < oldest {
			oldest = e.insertIdx
			oldestKey = key
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Clear empties the cache. The reload endpoint calls this.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
}

// Len reports the number of live entries, expired ones included until
// their next Get.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
