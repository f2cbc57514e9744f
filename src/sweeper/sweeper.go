// Package sweeper periodically removes expired grants, challenges and cache
// entries. Sweeping is housekeeping only: every read already compares
// against the current time.
package sweeper

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/stake-plus/mememo/src/clock"
	"github.com/stake-plus/mememo/src/logging"
)

// Target is one store to sweep.
type Target struct {
	Name  string
	Sweep func(ctx context.Context, now time.Time) (int, error)
}

// Module runs all targets on a ticker.
type Module struct {
	interval time.Duration
	clock    clock.Clock
	targets  []Target

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a sweeper. A non-positive interval defaults to one minute.
func New(interval time.Duration, c clock.Clock, targets ...Target) *Module {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Module{interval: interval, clock: clock.OrReal(c), targets: targets}
}

// Name implements core.Module.
func (m *Module) Name() string { return "sweeper" }

func (m *Module) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.SweepOnce(runCtx)
			}
		}
	}()
	return nil
}

func (m *Module) Stop(context.Context) {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// SweepOnce runs every target once and returns the removed counts by name.
// A failing target is logged and does not stop the others.
func (m *Module) SweepOnce(ctx context.Context) map[string]int {
	now := m.clock.Now()
	removed := make(map[string]int, len(m.targets))
	for _, t := range m.targets {
		n, err := t.Sweep(ctx, now)
		if err != nil {
			log.Printf("sweeper: %s: %v", t.Name, err)
			continue
		}
		removed[t.Name] = n
		if n > 0 {
			logging.Debugf("sweeper: %s: removed %d", t.Name, n)
		}
	}
	return removed
}
