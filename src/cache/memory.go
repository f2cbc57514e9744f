package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stake-plus/mememo/src/clock"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	clock   clock.Clock
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty store. A nil clock uses wall time.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	return &MemoryStore{
		clock:   clock.OrReal(c),
		entries: make(map[string]Entry),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || !e.Live(s.clock.Now()) {
		return "", false, nil
	}
	return e.Value, true, nil
}

func (s *MemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := s.clock.Now()
	s.mu.Lock()
	s.entries[key] = Entry{Key: key, Value: value, StoredAt: now, ExpiresAt: now.Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Invalidate(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) InvalidateService(_ context.Context, service string) (int, error) {
	prefix := servicePrefix(service)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) && ServiceOf(k) == service {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if !e.Live(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, live or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
