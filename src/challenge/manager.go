package challenge

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stake-plus/mememo/src/clock"
	"github.com/stake-plus/mememo/src/grants"
)

// Options tune a Manager. Zero values fall back to the package defaults.
type Options struct {
	ChallengeTTL  time.Duration
	GrantTTL      time.Duration
	Retention     time.Duration
	NotifyTimeout time.Duration
	Notifier      Notifier
	Clock         clock.Clock
}

type entry struct {
	Challenge
	// resolving is set while a grant is being issued for an approval.
	resolving bool
}

type pendingKey struct {
	principal string
	grant     string
}

// Manager owns all challenges. Challenges live in memory only.
type Manager struct {
	grants grants.Store
	opts   Options
	clock  clock.Clock

	mu         sync.Mutex
	challenges map[string]*entry
	pending    map[pendingKey]string
	hooks      []func(Challenge)

	wg sync.WaitGroup
}

// NewManager creates a Manager that issues grants into store.
func NewManager(store grants.Store, opts Options) *Manager {
	if opts.ChallengeTTL <= 0 {
		opts.ChallengeTTL = DefaultChallengeTTL
	}
	if opts.GrantTTL <= 0 {
		opts.GrantTTL = DefaultGrantTTL
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 30 * time.Second
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{}
	}
	return &Manager{
		grants:     store,
		opts:       opts,
		clock:      clock.OrReal(opts.Clock),
		challenges: make(map[string]*entry),
		pending:    make(map[pendingKey]string),
	}
}

// WithResolvedHook registers fn to run after a challenge leaves PENDING.
// Hooks run on their own goroutine.
func (m *Manager) WithResolvedHook(fn func(Challenge)) *Manager {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
	return m
}

// GrantTTL is the lifetime of grants issued on approval.
func (m *Manager) GrantTTL() time.Duration { return m.opts.GrantTTL }

// Begin opens a challenge and notifies the third party without waiting for
// delivery. A PENDING challenge for the same principal and grant is expired.
func (m *Manager) Begin(ctx context.Context, req Request, ttl time.Duration) (Challenge, error) {
	if req.Principal == "" || req.Grant == "" {
		return Challenge{}, ErrInvalidRequest
	}
	if ttl <= 0 {
		ttl = m.opts.ChallengeTTL
	}
	now := m.clock.Now()
	ch := Challenge{
		ID:          uuid.NewString(),
		PrincipalID: req.Principal,
		GrantName:   req.Grant,
		Alias:       req.Alias,
		Context:     req.Context,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
		State:       Pending,
	}

	key := pendingKey{req.Principal, req.Grant}
	var superseded []Challenge
	m.mu.Lock()
	if prevID, ok := m.pending[key]; ok {
		if prev := m.challenges[prevID]; prev != nil && prev.State == Pending && !prev.resolving {
			m.finish(prev, Expired, now)
			superseded = append(superseded, prev.Challenge)
		}
	}
	m.challenges[ch.ID] = &entry{Challenge: ch}
	m.pending[key] = ch.ID
	m.mu.Unlock()

	for _, c := range superseded {
		log.Printf("challenge: %s superseded by %s", c.ID, ch.ID)
		m.resolved(c)
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.NotifyTimeout)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		if err := m.opts.Notifier.Notify(notifyCtx, ch); err != nil {
			log.Printf("challenge: notify %s for %s/%s: %v", ch.ID, ch.PrincipalID, ch.GrantName, err)
		}
	}()

	return ch, nil
}

// Respond applies the third party's answer to challenge id.
func (m *Manager) Respond(ctx context.Context, id string, outcome Outcome) (Challenge, error) {
	now := m.clock.Now()

	m.mu.Lock()
	e, ok := m.challenges[id]
	if !ok {
		m.mu.Unlock()
		return Challenge{}, ErrUnknownChallenge
	}
	if e.State.Terminal() || e.resolving {
		snap := e.Challenge
		m.mu.Unlock()
		return snap, ErrStaleChallenge
	}
	if !now.Before(e.ExpiresAt) {
		m.finish(e, Expired, now)
		snap := e.Challenge
		m.mu.Unlock()
		m.resolved(snap)
		return snap, ErrChallengeExpired
	}
	if outcome != Approved {
		m.finish(e, Rejected, now)
		snap := e.Challenge
		m.mu.Unlock()
		m.resolved(snap)
		return snap, ErrChallengeDenied
	}
	e.resolving = true
	principal, grant := e.PrincipalID, e.GrantName
	m.mu.Unlock()

	_, err := m.grants.Issue(ctx, principal, grant, m.opts.GrantTTL)

	m.mu.Lock()
	e.resolving = false
	if err != nil {
		snap := e.Challenge
		m.mu.Unlock()
		return snap, fmt.Errorf("challenge: issue grant for %s: %w", id, err)
	}
	m.finish(e, Answered, m.clock.Now())
	snap := e.Challenge
	m.mu.Unlock()

	log.Printf("challenge: %s approved, %s holds %s for %s", id, principal, grant, m.opts.GrantTTL)
	m.resolved(snap)
	return snap, nil
}

// Get returns a snapshot of challenge id.
func (m *Manager) Get(id string) (Challenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.challenges[id]
	if !ok {
		return Challenge{}, false
	}
	return e.Challenge, true
}

// Pending returns the open challenges for principal, oldest first.
func (m *Manager) Pending(principal string) []Challenge {
	m.mu.Lock()
	var out []Challenge
	for _, e := range m.challenges {
		if e.State == Pending && (principal == "" || e.PrincipalID == principal) {
			out = append(out, e.Challenge)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

// Sweep expires overdue PENDING challenges and purges terminal ones resolved
// longer than the retention window ago.
func (m *Manager) Sweep(_ context.Context, now time.Time) (expired, purged int) {
	var done []Challenge
	m.mu.Lock()
	for id, e := range m.challenges {
		switch {
		case e.State == Pending && !e.resolving && !now.Before(e.ExpiresAt):
			m.finish(e, Expired, now)
			done = append(done, e.Challenge)
			expired++
		case e.State.Terminal() && now.Sub(e.ResolvedAt) >= m.opts.Retention:
			delete(m.challenges, id)
			purged++
		}
	}
	m.mu.Unlock()

	for _, c := range done {
		m.resolved(c)
	}
	return expired, purged
}

// Wait blocks until in-flight notifications and hooks have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// finish moves e to a terminal state. Caller holds m.mu.
func (m *Manager) finish(e *entry, s State, now time.Time) {
	e.State = s
	e.ResolvedAt = now
	key := pendingKey{e.PrincipalID, e.GrantName}
	if m.pending[key] == e.ID {
		delete(m.pending, key)
	}
}

func (m *Manager) resolved(c Challenge) {
	m.mu.Lock()
	hooks := slices.Clone(m.hooks)
	m.mu.Unlock()
	for _, fn := range hooks {
		m.wg.Add(1)
		go func(fn func(Challenge)) {
			defer m.wg.Done()
			fn(c)
		}(fn)
	}
}
