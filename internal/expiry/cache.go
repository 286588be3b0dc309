// Package expiry provides a generic associative container where every entry
// carries an absolute expiry instant.
//
// Entries are evicted lazily: every accessor first pops expired (expiry, key)
// pairs from an internal min-heap before answering. There is no background
// goroutine; callers that need periodic eviction can call any accessor on a
// ticker.
//
// The container is not safe for concurrent use. Callers needing concurrency
// wrap it with a mutex (see internal/transport for an example).
package expiry

import (
	"container/heap"
	"time"
)

// Cache is a TTL-keyed map. Each entry expires at put-time + TTL; expired
// entries are removed lazily on the next access.
type Cache[K comparable, V any] struct {
	defaultTTL time.Duration
	entries    map[K]entry[V]
	index      expiryHeap[K]

	// now is the clock used for expiry decisions. Tests may replace it.
	now func() time.Time
}

type entry[V any] struct {
	value    V
	expireAt time.Time
}

// NewCache creates a cache whose entries live for defaultTTL unless
// PutWithTTL overrides the lifetime per call.
func NewCache[K comparable, V any](defaultTTL time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		defaultTTL: defaultTTL,
		entries:    make(map[K]entry[V]),
		now:        time.Now,
	}
}

// SetClock replaces the clock used for expiry decisions.
func (c *Cache[K, V]) SetClock(now func() time.Time) {
	c.now = now
}

// Put stores value under key with the cache's default TTL, replacing any
// existing entry.
func (c *Cache[K, V]) Put(key K, value V) {
	c.PutWithTTL(key, value, c.defaultTTL)
}

// PutWithTTL stores value under key with an explicit lifetime, replacing any
// existing entry. A stale heap record for the replaced entry is left behind
// and skipped during sweep.
func (c *Cache[K, V]) PutWithTTL(key K, value V, ttl time.Duration) {
	expireAt := c.now().Add(ttl)
	c.entries[key] = entry[V]{value: value, expireAt: expireAt}
	heap.Push(&c.index, expiryRecord[K]{key: key, expireAt: expireAt})
}

// Get returns the live value for key, if any.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.sweep()
	e, ok := c.entries[key]
	return e.value, ok
}

// Contains reports whether a live entry exists for key.
func (c *Cache[K, V]) Contains(key K) bool {
	c.sweep()
	_, ok := c.entries[key]
	return ok
}

// Remove deletes the entry for key. Its heap record is skipped during sweep.
func (c *Cache[K, V]) Remove(key K) {
	c.sweep()
	delete(c.entries, key)
}

// Size returns the number of live entries.
func (c *Cache[K, V]) Size() int {
	c.sweep()
	return len(c.entries)
}

// Keys returns the live keys in no particular order.
func (c *Cache[K, V]) Keys() []K {
	c.sweep()
	keys := make([]K, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Values returns the live values in no particular order.
func (c *Cache[K, V]) Values() []V {
	c.sweep()
	values := make([]V, 0, len(c.entries))
	for _, e := range c.entries {
		values = append(values, e.value)
	}
	return values
}

// sweep pops heap records whose expiry is at or before now and evicts the
// corresponding entries. Records made stale by Put/Remove are detected by
// comparing the recorded expiry against the entry's current one.
func (c *Cache[K, V]) sweep() {
	now := c.now()
	for c.index.Len() > 0 {
		rec := c.index[0]
		if rec.expireAt.After(now) {
			return
		}
		heap.Pop(&c.index)
		if e, ok := c.entries[rec.key]; ok && !e.expireAt.After(rec.expireAt) {
			delete(c.entries, rec.key)
		}
	}
}

type expiryRecord[K comparable] struct {
	key      K
	expireAt time.Time
}

type expiryHeap[K comparable] []expiryRecord[K]

func (h expiryHeap[K]) Len() int            { return len(h) }
func (h expiryHeap[K]) Less(i, j int) bool  { return h[i].expireAt.Before(h[j].expireAt) }
func (h expiryHeap[K]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap[K]) Push(x any)         { *h = append(*h, x.(expiryRecord[K])) }
func (h *expiryHeap[K]) Pop() any {
	old := *h
	n := len(old)
	rec := old[n-1]
	*h = old[:n-1]
	return rec
}
