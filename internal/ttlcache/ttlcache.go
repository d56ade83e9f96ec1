// Package ttlcache provides a fixed-capacity key/value store with per-entry
// expiry and insertion-order eviction. It is the storage foundation for the
// rate limiter's request logs, block records and metrics buckets, which must
// stay memory-bounded under sustained traffic.
package ttlcache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a bounded map with a uniform TTL applied per entry. When the cache
// is full and a new key is inserted, the oldest-inserted entry is evicted
// (insertion order, not access order). Safe for concurrent use.
type Cache[V any] struct {
	maxSize int
	ttl     time.Duration

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = oldest inserted

	now func() time.Time
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithClock overrides the time source. Used by tests to simulate expiry
// without sleeping.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// New creates a cache holding at most maxSize entries, each expiring ttl
// after insertion.
func New[V any](maxSize int, ttl time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set inserts or replaces the value for key. Expired entries at the head of
// the insertion order are purged first; if the cache is still full and key is
// new, the oldest-inserted entry is evicted. Replacing an existing key
// refreshes its insertion time.
func (c *Cache[V]) Set(key string, value V) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpiredLocked(now)

	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*entry[V])
		ent.value = value
		ent.insertedAt = now
		c.order.MoveToBack(el)
		return
	}

	if c.order.Len() >= c.maxSize {
		c.evictOldestLocked()
	}

	el := c.order.PushBack(&entry[V]{key: key, value: value, insertedAt: now})
	c.entries[key] = el
}

// Get returns the value for key. An entry older than the TTL is treated as
// absent and deleted as a side effect, so Get is not read-only.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	ent := el.Value.(*entry[V])
	if now.Sub(ent.insertedAt) > c.ttl {
		c.removeLocked(el)
		return zero, false
	}
	return ent.value, true
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

// Cleanup scans the cache and removes every expired entry. Intended to run
// from a periodic sweeper so Get stays O(1) amortized instead of
// accumulating dead entries.
func (c *Cache[V]) Cleanup() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if now.Sub(el.Value.(*entry[V]).insertedAt) > c.ttl {
			c.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

// Len returns the number of stored entries, including any that have expired
// but not yet been purged.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys returns the keys of all live entries, oldest-inserted first.
func (c *Cache[V]) Keys() []string {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*entry[V])
		if now.Sub(ent.insertedAt) > c.ttl {
			continue
		}
		keys = append(keys, ent.key)
	}
	return keys
}

// purgeExpiredLocked removes expired entries from the head of the insertion
// order. Entries share one TTL, so expired entries are always a prefix.
func (c *Cache[V]) purgeExpiredLocked(now time.Time) {
	for el := c.order.Front(); el != nil; {
		ent := el.Value.(*entry[V])
		if now.Sub(ent.insertedAt) <= c.ttl {
			return
		}
		next := el.Next()
		c.removeLocked(el)
		el = next
	}
}

func (c *Cache[V]) evictOldestLocked() {
	if el := c.order.Front(); el != nil {
		c.removeLocked(el)
	}
}

func (c *Cache[V]) removeLocked(el *list.Element) {
	ent := el.Value.(*entry[V])
	c.order.Remove(el)
	delete(c.entries, ent.key)
}
