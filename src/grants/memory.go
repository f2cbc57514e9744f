package grants

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stake-plus/mememo/src/clock"
)

type grantKey struct {
	principal string
	grant     string
}

// MemoryStore keeps grants in process memory.
type MemoryStore struct {
	clock  clock.Clock
	mu     sync.RWMutex
	grants map[grantKey]Grant
}

// NewMemoryStore creates an empty store. A nil clock uses wall time.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	return &MemoryStore{
		clock:  clock.OrReal(c),
		grants: make(map[grantKey]Grant),
	}
}

func (s *MemoryStore) HasGrant(_ context.Context, principal, grant string) (bool, error) {
	s.mu.RLock()
	g, ok := s.grants[grantKey{principal, grant}]
	s.mu.RUnlock()
	return ok && g.Valid(s.clock.Now()), nil
}

func (s *MemoryStore) HasAll(ctx context.Context, principal string, grants []string) ([]string, error) {
	return missingFrom(ctx, grants, func(ctx context.Context, g string) (bool, error) {
		return s.HasGrant(ctx, principal, g)
	})
}

func (s *MemoryStore) Issue(_ context.Context, principal, grant string, ttl time.Duration) (Grant, error) {
	if err := validate(principal, grant, ttl); err != nil {
		return Grant{}, err
	}
	now := s.clock.Now()
	g := Grant{
		PrincipalID: principal,
		GrantName:   grant,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	s.mu.Lock()
	s.grants[grantKey{principal, grant}] = g
	s.mu.Unlock()
	return g, nil
}

func (s *MemoryStore) Revoke(_ context.Context, principal, grant string) error {
	s.mu.Lock()
	delete(s.grants, grantKey{principal, grant})
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context, principal string) ([]Grant, error) {
	now := s.clock.Now()
	s.mu.RLock()
	out := make([]Grant, 0, len(s.grants))
	for k, g := range s.grants {
		if principal != "" && k.principal != principal {
			continue
		}
		if g.Valid(now) {
			out = append(out, g)
		}
	}
	s.mu.RUnlock()
	sortGrants(out)
	return out, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, g := range s.grants {
		if !g.Valid(now) {
			delete(s.grants, k)
			n++
		}
	}
	return n, nil
}

func sortGrants(gs []Grant) {
	sort.Slice(gs, func(i, j int) bool {
		if gs[i].PrincipalID != gs[j].PrincipalID {
			return gs[i].PrincipalID < gs[j].PrincipalID
		}
		return gs[i].GrantName < gs[j].GrantName
	})
}
