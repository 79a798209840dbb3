// Package counter provides the TTL-bounded atomic counters backing admission
// control. All mutation goes through atomic increment/decrement primitives —
// there is deliberately no read-modify-write surface, so concurrent requests
// from the same owner can never race a limit check.
//
// The in-memory implementation follows the eventbus pattern (mutex-guarded
// map, no external service); the Store interface keeps the door open for a
// shared networked counter store without touching the admission logic.
package counter

import (
	"context"
	"sync"
	"time"
)

// Store is the atomic counter contract used by admission control.
type Store interface {
	// IncrBy atomically adds delta to key and returns the new value.
	// ttl is applied only when the increment creates the key, so a
	// rate-limit window is never extended by later hits.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// DecrFloor atomically decrements key, flooring at zero, and deletes
	// the key when it reaches zero. Decrementing a missing key is a no-op —
	// this is what makes release idempotent.
	DecrFloor(ctx context.Context, key string) (int64, error)

	// Get returns the current value, or 0 for missing/expired keys.
	Get(ctx context.Context, key string) (int64, error)
}

type entry struct {
	value     int64
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is the in-process Store implementation.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time // injectable clock for deterministic TTL tests
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// IncrBy implements Store.
func (s *MemoryStore) IncrBy(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &entry{}
		if ttl > 0 {
			e.expiresAt = s.now().Add(ttl)
		}
		s.entries[key] = e
	}
	e.value += delta
	return e.value, nil
}

// DecrFloor implements Store.
func (s *MemoryStore) DecrFloor(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return 0, nil
	}
	e.value--
	if e.value <= 0 {
		delete(s.entries, key)
		return 0, nil
	}
	return e.value, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return 0, nil
	}
	return e.value, nil
}

// live returns the entry for key, lazily evicting it when expired.
// Caller must hold s.mu.
func (s *MemoryStore) live(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}
