package expiry

import "time"

// Set is a TTL-keyed set built on Cache with a sentinel value per key.
type Set[K comparable] struct {
	cache *Cache[K, struct{}]
}

// NewSet creates a set whose members live for defaultTTL.
func NewSet[K comparable](defaultTTL time.Duration) *Set[K] {
	return &Set[K]{cache: NewCache[K, struct{}](defaultTTL)}
}

// SetClock replaces the clock used for expiry decisions.
func (s *Set[K]) SetClock(now func() time.Time) {
	s.cache.SetClock(now)
}

// Add inserts key with the set's default TTL.
func (s *Set[K]) Add(key K) {
	s.cache.Put(key, struct{}{})
}

// Contains reports whether key is a live member.
func (s *Set[K]) Contains(key K) bool {
	return s.cache.Contains(key)
}

// Size returns the number of live members.
func (s *Set[K]) Size() int {
	return s.cache.Size()
}
