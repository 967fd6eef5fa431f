package memory

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source for deterministic TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func mustPut(t *testing.T, s *Store, key string, ttl time.Duration, priority int) {
	t.Helper()
	if err := s.Put(key, json.RawMessage(`"`+key+`"`), ttl, priority); err != nil {
		t.Fatalf("Put(%q): %v", key, err)
	}
}

func TestPutGet(t *testing.T) {
	s := New(10, 0)

	if err := s.Put("k", json.RawMessage(`{"a":1}`), 0, 5); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, ok := s.Get("k")
	if !ok {
		t.Fatal("Get(k) absent, want present")
	}
	if string(v) != `{"a":1}` {
		t.Errorf("Get(k) = %s, want {\"a\":1}", v)
	}

	if _, ok := s.Get("missing"); ok {
		t.Error("Get(missing) present, want absent")
	}
}

func TestPutOverwrite(t *testing.T) {
	s := New(10, 0)

	mustPut(t, s, "k", 0, 1)
	if err := s.Put("k", json.RawMessage(`"new"`), 0, 9); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	if s.Len() != 1 {
		t.Errorf("Len() = %d after overwrite, want 1", s.Len())
	}
	v, ok := s.Get("k")
	if !ok || string(v) != `"new"` {
		t.Errorf("Get(k) = %s, %v, want \"new\", true", v, ok)
	}
}

func TestDelete(t *testing.T) {
	s := New(10, 0)
	mustPut(t, s, "k", 0, 1)

	if !s.Delete("k") {
		t.Error("Delete(k) = false, want true")
	}
	if s.Delete("k") {
		t.Error("second Delete(k) = true, want false")
	}
	if _, ok := s.Get("k"); ok {
		t.Error("Get(k) present after delete")
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	const capacity = 5
	s := New(capacity, 0)

	for i := 0; i < 20; i++ {
		mustPut(t, s, fmt.Sprintf("k%d", i), 0, i%3)
		if n := s.Len(); n > capacity {
			t.Fatalf("Len() = %d after put %d, capacity %d exceeded", n, i, capacity)
		}
	}
}

// Capacity 2: k1 and k2 share the lowest priority and k1 is the older,
// so inserting k3 evicts k1.
func TestEvictionPriorityOrder(t *testing.T) {
	clock := newFakeClock()
	s := New(2, 0, WithClock(clock.Now))

	mustPut(t, s, "k1", 0, 1)
	clock.Advance(time.Millisecond)
	mustPut(t, s, "k2", 0, 1)
	clock.Advance(time.Millisecond)
	mustPut(t, s, "k3", 0, 5)

	if _, ok := s.Get("k1"); ok {
		t.Error("k1 still present, want evicted")
	}
	if _, ok := s.Get("k2"); !ok {
		t.Error("k2 absent, want present")
	}
	if _, ok := s.Get("k3"); !ok {
		t.Error("k3 absent, want present")
	}
}

func TestEvictionPrefersLowPriorityOverRecency(t *testing.T) {
	clock := newFakeClock()
	s := New(2, 0, WithClock(clock.Now))

	mustPut(t, s, "low", 0, 1)
	clock.Advance(time.Millisecond)
	mustPut(t, s, "high", 0, 10)
	clock.Advance(time.Millisecond)

	// Touch "low" so it is the most recently used. Priority still loses.
	s.Get("low")
	clock.Advance(time.Millisecond)

	mustPut(t, s, "newer", 0, 5)

	if _, ok := s.Get("low"); ok {
		t.Error("low-priority entry survived eviction over high-priority one")
	}
	if _, ok := s.Get("high"); !ok {
		t.Error("high-priority entry evicted")
	}
}

func TestEvictionRecencyBreaksPriorityTie(t *testing.T) {
	clock := newFakeClock()
	s := New(2, 0, WithClock(clock.Now))

	mustPut(t, s, "a", 0, 5)
	clock.Advance(time.Millisecond)
	mustPut(t, s, "b", 0, 5)
	clock.Advance(time.Millisecond)

	// Access "a" so "b" becomes least recently used.
	s.Get("a")
	clock.Advance(time.Millisecond)

	mustPut(t, s, "c", 0, 5)

	if _, ok := s.Get("b"); ok {
		t.Error("least recently used entry survived, want evicted")
	}
	if _, ok := s.Get("a"); !ok {
		t.Error("recently used entry evicted")
	}
}

func TestEvictionInsertionOrderBreaksFullTie(t *testing.T) {
	clock := newFakeClock()
	s := New(2, 0, WithClock(clock.Now))

	// Same priority and same last-access timestamp: oldest insertion loses.
	mustPut(t, s, "first", 0, 5)
	mustPut(t, s, "second", 0, 5)
	mustPut(t, s, "third", 0, 5)

	if _, ok := s.Get("first"); ok {
		t.Error("oldest insertion survived full tie, want evicted")
	}
	if _, ok := s.Get("second"); !ok {
		t.Error("second entry evicted, want present")
	}
}

func TestEvictionPurgesExpiredFirst(t *testing.T) {
	clock := newFakeClock()
	s := New(2, 0, WithClock(clock.Now))

	mustPut(t, s, "stale", 50*time.Millisecond, 10)
	mustPut(t, s, "live", 0, 1)
	clock.Advance(100 * time.Millisecond)

	// "stale" is expired; it must be removed before any live entry is
	// considered for eviction, despite its higher priority.
	mustPut(t, s, "incoming", 0, 1)

	if _, ok := s.Get("stale"); ok {
		t.Error("expired entry survived insertion under pressure")
	}
	if _, ok := s.Get("live"); !ok {
		t.Error("live entry evicted while an expired one existed")
	}
	if _, ok := s.Get("incoming"); !ok {
		t.Error("incoming entry absent")
	}
}

func TestTTLExpiryIsDeterministic(t *testing.T) {
	clock := newFakeClock()
	s := New(10, 0, WithClock(clock.Now))

	mustPut(t, s, "k", time.Second, 5)

	if _, ok := s.Get("k"); !ok {
		t.Fatal("entry absent before TTL elapsed")
	}

	clock.Advance(time.Second)
	if _, ok := s.Get("k"); ok {
		t.Error("entry present after TTL elapsed, want absent")
	}

	// Lazy purge happened on the expired Get.
	if s.Len() != 0 {
		t.Errorf("Len() = %d after expired Get, want 0", s.Len())
	}
}

func TestDefaultTTLApplied(t *testing.T) {
	clock := newFakeClock()
	s := New(10, time.Minute, WithClock(clock.Now))

	mustPut(t, s, "defaulted", 0, 5)
	mustPut(t, s, "pinned", NoExpiry, 5)

	clock.Advance(2 * time.Minute)

	if _, ok := s.Get("defaulted"); ok {
		t.Error("entry with default TTL present after expiry")
	}
	if _, ok := s.Get("pinned"); !ok {
		t.Error("NoExpiry entry expired")
	}
}

func TestEvictExpired(t *testing.T) {
	clock := newFakeClock()
	s := New(10, 0, WithClock(clock.Now))

	mustPut(t, s, "a", time.Second, 5)
	mustPut(t, s, "b", 2*time.Second, 5)
	mustPut(t, s, "c", 0, 5)

	clock.Advance(1500 * time.Millisecond)

	if removed := s.EvictExpired(); removed != 1 {
		t.Errorf("EvictExpired() = %d, want 1", removed)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}

	clock.Advance(time.Second)
	if removed := s.EvictExpired(); removed != 1 {
		t.Errorf("second EvictExpired() = %d, want 1", removed)
	}
}

func TestZeroCapacity(t *testing.T) {
	s := New(0, 0)
	if err := s.Put("k", nil, 0, 5); err != ErrCapacityExceeded {
		t.Errorf("Put on zero-capacity store = %v, want ErrCapacityExceeded", err)
	}
}

func TestPeekDoesNotTouchRecency(t *testing.T) {
	clock := newFakeClock()
	s := New(2, 0, WithClock(clock.Now))

	mustPut(t, s, "a", 0, 5)
	clock.Advance(time.Millisecond)
	mustPut(t, s, "b", 0, 5)
	clock.Advance(time.Millisecond)

	// Peek must not refresh "a"; it stays the LRU victim.
	if _, ok := s.Peek("a"); !ok {
		t.Fatal("Peek(a) absent")
	}
	mustPut(t, s, "c", 0, 5)

	if _, ok := s.Get("a"); ok {
		t.Error("peeked entry survived eviction, Peek refreshed recency")
	}
}

func TestStats(t *testing.T) {
	clock := newFakeClock()
	s := New(2, 0, WithClock(clock.Now))

	mustPut(t, s, "a", time.Second, 1)
	clock.Advance(time.Millisecond)
	mustPut(t, s, "b", 0, 1)
	clock.Advance(time.Millisecond)
	mustPut(t, s, "c", 0, 5) // evicts one of a/b

	s.Get("c")       // hit
	s.Get("nothing") // miss

	st := s.Stats()
	if st.Capacity != 2 {
		t.Errorf("Capacity = %d, want 2", st.Capacity)
	}
	if st.Entries != 2 {
		t.Errorf("Entries = %d, want 2", st.Entries)
	}
	if st.Hits != 1 {
		t.Errorf("Hits = %d, want 1", st.Hits)
	}
	if st.Misses != 1 {
		t.Errorf("Misses = %d, want 1", st.Misses)
	}
	if st.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", st.Evictions)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New(50, 0)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("w%d-k%d", w, i%20)
				if err := s.Put(key, json.RawMessage(`1`), 0, i%5); err != nil {
					t.Errorf("Put: %v", err)
					return
				}
				s.Get(key)
				if i%10 == 0 {
					s.Delete(key)
				}
			}
		}(w)
	}
	wg.Wait()

	if n := s.Len(); n > 50 {
		t.Errorf("Len() = %d, capacity 50 exceeded under concurrency", n)
	}
}
