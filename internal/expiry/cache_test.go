package expiry

import (
	"testing"
	"time"
)

// fakeClock lets tests move time forward deterministically.
type fakeClock struct {
	current time.Time
}

func (f *fakeClock) now() time.Time { return f.current }

func (f *fakeClock) advance(d time.Duration) { f.current = f.current.Add(d) }

func newTestCache(t *testing.T, ttl time.Duration) (*Cache[string, string], *fakeClock) {
	t.Helper()
	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCache[string, string](ttl)
	c.SetClock(clock.now)
	return c, clock
}

func TestCachePresentBeforeExpiryAbsentAfter(t *testing.T) {
	c, clock := newTestCache(t, 10*time.Minute)

	c.Put("a", "1")

	clock.advance(10*time.Minute - time.Millisecond)
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("Get before expiry = (%q, %v), want (\"1\", true)", v, ok)
	}

	clock.advance(2 * time.Millisecond)
	if _, ok := c.Get("a"); ok {
		t.Fatal("entry should be gone after its TTL")
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestCachePerCallTTLOverride(t *testing.T) {
	c, clock := newTestCache(t, time.Minute)

	c.Put("short", "s")
	c.PutWithTTL("long", "l", time.Hour)

	clock.advance(2 * time.Minute)

	if c.Contains("short") {
		t.Error("entry with default TTL should have expired")
	}
	if !c.Contains("long") {
		t.Error("entry with overridden TTL should still be live")
	}
}

func TestCachePutReplacesExistingEntry(t *testing.T) {
	c, clock := newTestCache(t, time.Minute)

	c.Put("a", "old")
	clock.advance(30 * time.Second)
	c.Put("a", "new")

	// The original entry would have expired here; the replacement must not.
	clock.advance(45 * time.Second)
	if v, ok := c.Get("a"); !ok || v != "new" {
		t.Fatalf("Get after replace = (%q, %v), want (\"new\", true)", v, ok)
	}

	clock.advance(30 * time.Second)
	if c.Contains("a") {
		t.Error("replaced entry should expire on the new schedule")
	}
}

func TestCacheRemoveAndAccessors(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	c.Put("a", "1")
	c.Put("b", "2")
	c.Remove("a")

	if c.Contains("a") {
		t.Error("removed entry should not be present")
	}
	if got := c.Size(); got != 1 {
		t.Errorf("Size() = %d, want 1", got)
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != "b" {
		t.Errorf("Keys() = %v, want [b]", keys)
	}
	if values := c.Values(); len(values) != 1 || values[0] != "2" {
		t.Errorf("Values() = %v, want [2]", values)
	}
}

func TestCacheSweepEvictsInExpiryOrder(t *testing.T) {
	c, clock := newTestCache(t, time.Minute)

	c.PutWithTTL("first", "1", time.Minute)
	c.PutWithTTL("second", "2", 2*time.Minute)
	c.PutWithTTL("third", "3", 3*time.Minute)

	clock.advance(2*time.Minute + time.Second)

	if c.Contains("first") || c.Contains("second") {
		t.Error("entries past their expiry should be evicted")
	}
	if !c.Contains("third") {
		t.Error("entry with later expiry should survive the sweep")
	}
}

func TestSetMembershipAndExpiry(t *testing.T) {
	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := NewSet[string](time.Hour)
	s.SetClock(clock.now)

	s.Add("nonce-1")

	if !s.Contains("nonce-1") {
		t.Fatal("freshly added member missing")
	}
	if s.Contains("nonce-2") {
		t.Fatal("unexpected member")
	}

	clock.advance(time.Hour + time.Second)
	if s.Contains("nonce-1") {
		t.Error("member should expire after the set TTL")
	}
}
