package cache

import (
	"path"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Store is a process-wide key/value cache with per-entry TTL and
// wildcard invalidation. Expired entries are evicted lazily on read;
// there is no background eviction thread, so an expired entry may hold
// memory until the next read or invalidation, but a stale value is
// never returned.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	defaultTTL time.Duration
	now        func() time.Time
	group      singleflight.Group
	hits       atomic.Int64
	misses     atomic.Int64
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// Stats contains cache performance counters.
type Stats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewStore creates a Store whose Set calls fall back to defaultTTL
// when no explicit TTL is given.
func NewStore(defaultTTL time.Duration) *Store {
	return NewStoreWithClock(defaultTTL, time.Now)
}

// NewStoreWithClock creates a Store with an injected clock so tests
// can control expiry deterministically.
func NewStoreWithClock(defaultTTL time.Duration, now func() time.Time) *Store {
	return &Store{
		entries:    make(map[string]cacheEntry),
		defaultTTL: defaultTTL,
		now:        now,
	}
}

// Get returns the cached value for key. A read past the entry's expiry
// evicts it and reports a miss.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		s.misses.Add(1)
		return nil, false
	}

	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		s.misses.Add(1)
		return nil, false
	}

	s.hits.Add(1)
	return entry.value, true
}

// Set stores value under key with the given TTL, overwriting any
// previous entry unconditionally. A non-positive TTL selects the
// store's default.
func (s *Store) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = cacheEntry{value: value, expiresAt: s.now().Add(ttl)}
}

// GetOrCompute returns the cached value for key, invoking producer on a
// miss and caching its result. Concurrent callers for the same key
// share a single producer invocation; a producer error propagates to
// every waiter and nothing is cached.
func (s *Store) GetOrCompute(key string, ttl time.Duration, producer func() (interface{}, error)) (interface{}, error) {
	if value, ok := s.Get(key); ok {
		return value, nil
	}

	value, err, _ := s.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have written the key while this one
		// waited on the flight group.
		if value, ok := s.Get(key); ok {
			return value, nil
		}
		value, err := producer()
		if err != nil {
			return nil, err
		}
		s.Set(key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Delete removes the exact key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// InvalidatePattern removes every key matching a glob where '*' matches
// any run of characters and '?' matches a single character. Returns the
// number of entries removed. Intended for bulk invalidation after data
// refreshes, not for the request path.
func (s *Store) InvalidatePattern(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		// Keys never contain '/', so path.Match gives exactly the
		// wanted '*'/'?' semantics. A malformed pattern matches nothing.
		if ok, err := path.Match(pattern, key); err == nil && ok {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// SweepExpired removes every entry whose TTL has passed and returns the
// number removed. Eviction is otherwise lazy, so a periodic sweep keeps
// rarely-read keys from holding memory.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries currently held, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// GetStats returns hit/miss counters for monitoring.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	entries := len(s.entries)
	s.mu.RUnlock()

	hits := s.hits.Load()
	misses := s.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries: entries,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}
