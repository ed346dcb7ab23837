// Package datacache caches structured datasets fetched over the execution
// bridge so repeated reads do not round-trip through the debugged
// application. Entries expire by age and the store is capacity bounded.
package datacache

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a cached dataset stays servable.
	DefaultTTL = 5 * time.Minute

	// DefaultCapacity is the maximum number of cached datasets.
	DefaultCapacity = 10
)

type entry struct {
	dataset  *Dataset
	storedAt time.Time
}

// Store is a TTL and capacity bounded dataset cache. Expiry is lazy: an
// entry past its TTL is dropped on the Get that observes it, not by a
// background sweeper. At capacity, Put evicts the oldest entry by store
// time.
type Store struct {
	mu       sync.Mutex
	entries  map[string]entry
	ttl      time.Duration
	capacity int
	now      func() time.Time
	logger   *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithCapacity sets the maximum entry count.
func WithCapacity(n int) StoreOption {
	return func(s *Store) {
		s.capacity = n
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a Store with the given options.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries:  make(map[string]entry),
		ttl:      DefaultTTL,
		capacity: DefaultCapacity,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores a dataset under key, evicting the oldest entry first when the
// store is full. Re-putting an existing key refreshes its timestamp without
// evicting anything.
func (s *Store) Put(key string, ds *Dataset) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.capacity {
		s.evictOldestLocked()
	}
	s.entries[key] = entry{dataset: ds, storedAt: s.now()}
	return nil
}

// Get returns the dataset under key if it is present and fresh. An expired
// entry is deleted and reported as not found.
func (s *Store) Get(key string) (*Dataset, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if s.now().Sub(e.storedAt) > s.ttl {
		delete(s.entries, key)
		s.logger.Debug("cache entry expired", "key", key, "age", s.now().Sub(e.storedAt))
		return nil, ErrNotFound
	}
	return e.dataset, nil
}

// Delete removes the entry under key. Missing keys are a no-op.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len reports the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns the stored keys in no particular order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

func (s *Store) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range s.entries {
		if first || e.storedAt.Before(oldestAt) {
			oldestKey, oldestAt, first = k, e.storedAt, false
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
		s.logger.Debug("evicted oldest cache entry", "key", oldestKey)
	}
}
