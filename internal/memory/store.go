package memory

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrCapacityExceeded is returned by Put when capacity cannot be satisfied
// even after full eviction, e.g. a store configured with zero capacity.
var ErrCapacityExceeded = errors.New("memory capacity exceeded")

// NoExpiry as a TTL argument stores an entry that never expires, overriding
// the store's default TTL.
const NoExpiry = time.Duration(-1)

// Entry is a stored value with its retention metadata.
type Entry struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	Priority   int             `json:"priority"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at,omitzero"`
	LastAccess time.Time       `json:"last_access"`

	// seq is the insertion sequence number, the final eviction tie-breaker.
	seq uint64
}

// Stats holds store counters since construction.
type Stats struct {
	Entries     int    `json:"entries"`
	Capacity    int    `json:"capacity"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the store's time source. Tests use this to make TTL
// expiry deterministic.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a bounded, TTL-aware key/value store with priority-weighted LRU
// eviction. Capacity is measured in entry count and holds after every Put.
// All methods are safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	entries    map[string]*Entry
	seq        uint64
	now        func() time.Time
	stats      Stats
}

// New creates a Store bounded to capacity entries. Entries written without an
// explicit TTL expire after defaultTTL; a defaultTTL of 0 means no expiry.
func New(capacity int, defaultTTL time.Duration, opts ...Option) *Store {
	s := &Store{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		entries:    make(map[string]*Entry),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put inserts or overwrites the entry for key. A ttl of 0 applies the store's
// default TTL; NoExpiry disables expiry for this entry. If inserting a new
// key would exceed capacity, expired entries are purged first and then
// entries are evicted in ascending (priority, last-access, insertion) order
// until the new entry fits. Overwriting an existing key never triggers
// eviction and resets the entry's insertion order.
func (s *Store) Put(key string, value json.RawMessage, ttl time.Duration, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capacity <= 0 {
		return ErrCapacityExceeded
	}

	now := s.now()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.capacity {
		s.purgeExpiredLocked(now)
		for len(s.entries) >= s.capacity {
			s.evictOneLocked()
		}
	}

	e := &Entry{
		Key:        key,
		Value:      value,
		Priority:   priority,
		CreatedAt:  now,
		LastAccess: now,
		seq:        s.seq,
	}
	s.seq++

	switch {
	case ttl == NoExpiry:
		// no expiry
	case ttl > 0:
		e.ExpiresAt = now.Add(ttl)
	case s.defaultTTL > 0:
		e.ExpiresAt = now.Add(s.defaultTTL)
	}

	s.entries[key] = e
	entriesGauge.Set(float64(len(s.entries)))
	return nil
}

// Get returns the value for key. Expired entries behave as absent and are
// purged on access.
func (s *Store) Get(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.stats.Misses++
		missesTotal.Inc()
		return nil, false
	}

	now := s.now()
	if e.expired(now) {
		delete(s.entries, key)
		s.stats.Expirations++
		s.stats.Misses++
		expirationsTotal.Inc()
		missesTotal.Inc()
		entriesGauge.Set(float64(len(s.entries)))
		return nil, false
	}

	e.LastAccess = now
	s.stats.Hits++
	hitsTotal.Inc()
	return e.Value, true
}

// Peek returns a copy of the full entry for key without updating its
// last-access time. Expired entries behave as absent but are not purged.
func (s *Store) Peek(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return Entry{}, false
	}
	return *e, true
}

// Delete removes the entry for key, reporting whether it was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false
	}
	delete(s.entries, key)
	entriesGauge.Set(float64(len(s.entries)))
	return true
}

// Len returns the number of stored entries, including any that have expired
// but not yet been purged.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// EvictExpired removes every expired entry and returns how many were removed.
func (s *Store) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeExpiredLocked(s.now())
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Entries = len(s.entries)
	st.Capacity = s.capacity
	return st
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func (s *Store) purgeExpiredLocked(now time.Time) int {
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	if removed > 0 {
		s.stats.Expirations += uint64(removed)
		expirationsTotal.Add(float64(removed))
		entriesGauge.Set(float64(len(s.entries)))
	}
	return removed
}

// evictOneLocked removes the entry with the lowest retention score: lowest
// priority first, least recently accessed among equal priority, oldest
// insertion among equal recency.
func (s *Store) evictOneLocked() {
	var victim *Entry
	for _, e := range s.entries {
		if victim == nil || evictBefore(e, victim) {
			victim = e
		}
	}
	if victim == nil {
		return
	}
	delete(s.entries, victim.Key)
	s.stats.Evictions++
	evictionsTotal.Inc()
	entriesGauge.Set(float64(len(s.entries)))
}

func evictBefore(a, b *Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.LastAccess.Equal(b.LastAccess) {
		return a.LastAccess.Before(b.LastAccess)
	}
	return a.seq < b.seq
}
