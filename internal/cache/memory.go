package cache

import (
	"context"
	"sync"
	"time"
)

// memoryStore is the single-instance fallback used when Redis is disabled.
// All operations take the one mutex, which also gives IncrWindow and SetNX
// their atomicity.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value    []byte
	count    int64
	deadline time.Time // zero means no expiry
}

// NewMemoryStore creates an in-process Store. A background sweep reclaims
// expired entries so orphaned versioned keys do not accumulate.
func NewMemoryStore() Store {
	s := &memoryStore{entries: make(map[string]memoryEntry)}
	go s.sweep()
	return s
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.deadline.IsZero() && now.After(e.deadline)
}

func (s *memoryStore) sweep() {
	for {
		time.Sleep(time.Minute)
		now := time.Now()
		s.mu.Lock()
		for k, e := range s.entries {
			if e.expired(now) {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, ErrMiss
	}
	return e.value, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{value: value, deadline: deadlineFor(ttl)}
	return nil
}

func (s *memoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: value, deadline: deadlineFor(ttl)}
	return true, nil
}

func (s *memoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *memoryStore) IncrWindow(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		e = memoryEntry{count: 0, deadline: now.Add(window)}
	}
	e.count++
	s.entries[key] = e
	return e.count, e.deadline.Sub(now), nil
}

func (s *memoryStore) Ping(_ context.Context) error { return nil }

func deadlineFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
