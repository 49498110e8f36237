// Package ttlcache implements a bounded, expiring, least-recently-used
// cache. It backs the catalog's provider lookups (TTL 30s by default);
// /v1/models listings are built without it.
package ttlcache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     any
	expiresAt time.Time
	elem      *list.Element
}

// Cache is a fixed-capacity, TTL-expiring, least-recently-used cache.
// The zero value is not usable; construct with New.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*entry
	order   *list.List // front = most recently used

	hits   uint64
	misses uint64
}

// New creates a Cache bounded at maxSize entries with the given default TTL.
func New(maxSize int, ttl time.Duration) *Cache {
	return &Cache{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*entry, maxSize),
		order:   list.New(),
	}
}

// Get returns the cached value for key, or (nil, false) on miss or
// expiry. A hit moves the entry to the most-recently-used position.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	c.hits++
	return e.value, true
}

// Set inserts or replaces key with value, using the cache's default TTL,
// evicting the least-recently-used entry if the cache is at capacity.
func (c *Cache) Set(key string, value any) {
	c.SetTTL(key, value, c.ttl)
}

// SetTTL is Set with an explicit per-entry TTL.
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.items[key]; ok {
		c.removeLocked(existing)
	}
	for len(c.items) >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry))
	}

	e := &entry{key: key, value: value, expiresAt: time.Now().Add(ttl)}
	e.elem = c.order.PushFront(e)
	c.items[key] = e
}

// Delete removes key, if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.removeLocked(e)
	}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry, c.maxSize)
	c.order = list.New()
}

// InvalidatePattern deletes every key containing pattern as a substring
// (plain substring match, not a regular expression).
func (c *Cache) InvalidatePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*entry
	for k, e := range c.items {
		if strings.Contains(k, pattern) {
			toRemove = append(toRemove, e)
		}
	}
	for _, e := range toRemove {
		c.removeLocked(e)
	}
	return len(toRemove)
}

// Stats reports cache size, capacity, and hit/miss counters.
type Stats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
}

// HitRate returns Hits / (Hits + Misses), or 0 if there have been no
// lookups yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns a snapshot of cache size and hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:    len(c.items),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.items, e.key)
}
