// Package dispatch routes commands to services behind the authorization gate
// and the result cache.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/stake-plus/mememo/src/cache"
	"github.com/stake-plus/mememo/src/clock"
	"github.com/stake-plus/mememo/src/executor"
	"github.com/stake-plus/mememo/src/grants"
	"github.com/stake-plus/mememo/src/registry"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxConcurrent = 8
)

// Options tune a Dispatcher.
type Options struct {
	DefaultTimeout time.Duration
	MaxConcurrent  int64
	// RateLimit is the sustained per-principal command rate; zero disables
	// rate limiting.
	RateLimit rate.Limit
	RateBurst int
	Clock     clock.Clock
	Metrics   *Metrics
}

// Dispatcher holds no entity state of its own; grants and cached results
// live in their stores.
type Dispatcher struct {
	registry *registry.Registry
	grants   grants.Store
	cache    cache.Store
	exec     executor.Executor
	opts     Options
	clock    clock.Clock
	metrics  *Metrics

	sem     *semaphore.Weighted
	flights singleflight.Group

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Dispatcher. A nil cache store disables caching.
func New(reg *registry.Registry, gs grants.Store, cs cache.Store, exec executor.Executor, opts Options) *Dispatcher {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.RateLimit > 0 && opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	m := opts.Metrics
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Dispatcher{
		registry: reg,
		grants:   gs,
		cache:    cs,
		exec:     exec,
		opts:     opts,
		clock:    clock.OrReal(opts.Clock),
		metrics:  m,
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Registry exposes the service registry for help listings.
func (d *Dispatcher) Registry() *registry.Registry { return d.registry }

// Dispatch routes req and reports the outcome. It never starts a challenge.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Outcome {
	out := d.dispatch(ctx, req)
	d.metrics.outcome(ctx, out)
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Outcome {
	match, ok := d.registry.Resolve(req.Text)
	if !ok {
		return Outcome{Kind: Unrecognized}
	}
	def := match.Service
	name := def.Name

	if !d.allow(req.Principal) {
		return Outcome{Kind: RateLimited, Service: name}
	}

	if len(def.RequiredGrants) > 0 {
		missing, err := d.grants.HasAll(ctx, req.Principal, def.RequiredGrants)
		if err != nil {
			log.Printf("dispatch: %s: grant check for %s: %v", name, req.Principal, err)
			return Outcome{Kind: StoreUnavailable, Service: name}
		}
		if len(missing) > 0 {
			return Outcome{Kind: AuthorizationRequired, Service: name, Missing: missing}
		}
	}

	inv := executor.Invocation{
		Service:   name,
		Principal: req.Principal,
		Args:      match.Args,
		Platform:  req.Platform,
	}

	if !def.Cached() || d.cache == nil {
		res, err := d.execute(ctx, def, inv)
		return d.result(def, res, err, false)
	}

	key := cache.Fingerprint(name, match.Args)
	if v, hit, err := d.cache.Get(ctx, key); err != nil {
		log.Printf("dispatch: %s: cache read: %v", name, err)
		return Outcome{Kind: StoreUnavailable, Service: name}
	} else if hit {
		return Outcome{Kind: Handled, Service: name, Text: v, Cached: true}
	}

	// The flight outlives whichever caller started it.
	flightCtx := context.WithoutCancel(ctx)
	ch := d.flights.DoChan(key, func() (any, error) {
		// A flight that finished just before this one started may already
		// have stored the result.
		if v, hit, err := d.cache.Get(flightCtx, key); err == nil && hit {
			return flight{res: executor.Result{Output: v}, cached: true}, nil
		}
		res, err := d.execute(flightCtx, def, inv)
		if err != nil {
			return flight{}, err
		}
		if err := d.cache.Put(flightCtx, key, res.Output, def.CacheTTL); err != nil {
			log.Printf("dispatch: %s: cache write: %v", name, err)
		}
		return flight{res: res}, nil
	})

	select {
	case <-ctx.Done():
		return Outcome{Kind: ExecutionFailed, Service: name, Detail: "request cancelled"}
	case r := <-ch:
		f, _ := r.Val.(flight)
		out := d.result(def, f.res, r.Err, f.cached)
		if r.Shared && out.Kind == Handled && !f.cached {
			log.Printf("dispatch: %s: shared in-flight result", name)
		}
		return out
	}
}

type flight struct {
	res    executor.Result
	cached bool
}

// execute runs one service invocation under the concurrency limit and the
// service timeout. The run is detached from the caller's cancellation so
// de-duplicated waiters are not cut off when the first requester leaves.
func (d *Dispatcher) execute(ctx context.Context, def registry.Definition, inv executor.Invocation) (executor.Result, error) {
	runCtx := context.WithoutCancel(ctx)
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return executor.Result{}, err
	}
	defer d.sem.Release(1)

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = d.opts.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()

	start := time.Now()
	res, err := d.exec.Run(runCtx, def.Exec, inv)
	if err == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = executor.ErrTimeout
	}
	d.metrics.execution(ctx, def.Name, time.Since(start), err)
	return res, err
}

func (d *Dispatcher) result(def registry.Definition, res executor.Result, err error, cached bool) Outcome {
	name := def.Name
	if err == nil {
		return Outcome{Kind: Handled, Service: name, Text: res.Output, Cached: cached}
	}
	if errors.Is(err, executor.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		log.Printf("dispatch: %s: timed out", name)
		return Outcome{Kind: ExecutionTimeout, Service: name}
	}
	var exit *executor.ExitError
	if errors.As(err, &exit) {
		detail := executor.Redact(exit.Stderr, def.Exec.Secrets)
		log.Printf("dispatch: %s: exit %d", name, exit.Code)
		return Outcome{Kind: ExecutionFailed, Service: name, Exit: exit.Code, Detail: detail}
	}
	if errors.Is(err, context.Canceled) {
		return Outcome{Kind: ExecutionFailed, Service: name, Detail: "request cancelled"}
	}
	log.Printf("dispatch: %s: %s", name, executor.Redact(err.Error(), def.Exec.Secrets))
	return Outcome{Kind: ExecutionFailed, Service: name, Exit: -1, Detail: "execution error"}
}

func (d *Dispatcher) allow(principal string) bool {
	if d.opts.RateLimit <= 0 {
		return true
	}
	d.limMu.Lock()
	lim, ok := d.limiters[principal]
	if !ok {
		lim = rate.NewLimiter(d.opts.RateLimit, d.opts.RateBurst)
		d.limiters[principal] = lim
	}
	d.limMu.Unlock()
	return lim.AllowN(d.clock.Now(), 1)
}

// Revoke withdraws a grant and drops cached results of every service that
// requires it, so a revoked principal cannot read results produced under it.
func (d *Dispatcher) Revoke(ctx context.Context, principal, grant string) (int, error) {
	if err := d.grants.Revoke(ctx, principal, grant); err != nil {
		return 0, err
	}
	if d.cache == nil {
		return 0, nil
	}
	n := 0
	for _, def := range d.registry.ByGrant(grant) {
		if !def.Cached() {
			continue
		}
		k, err := d.cache.InvalidateService(ctx, def.Name)
		n += k
		if err != nil {
			return n, fmt.Errorf("dispatch: invalidate %s: %w", def.Name, err)
		}
	}
	return n, nil
}

// PruneLimiters drops per-principal limiters that are back at full burst.
func (d *Dispatcher) PruneLimiters() int {
	if d.opts.RateLimit <= 0 {
		return 0
	}
	now := d.clock.Now()
	d.limMu.Lock()
	defer d.limMu.Unlock()
	n := 0
	for p, lim := range d.limiters {
		if lim.TokensAt(now) >= float64(d.opts.RateBurst) {
			delete(d.limiters, p)
			n++
		}
	}
	return n
}
