package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"

	metrics "github.com/ManuelReschke/Kassenwart/internal/pkg/metrics/counter"
)

// Schedule binds a sweep to its interval. Timeout defaults to the interval
// so a slow pass is cancelled before the next slot.
type Schedule struct {
	Sweep    Sweep
	Interval time.Duration
	Timeout  time.Duration
}

type entry struct {
	Schedule
	busy atomic.Bool
}

// Manager runs the sweeps on their tickers as part of the service lifecycle.
type Manager struct {
	entries  map[string]*entry
	order    []string
	lock     SlotLock
	counters *metrics.Counter
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool

	statsMu sync.RWMutex
	last    map[string]Report
}

// NewManager creates a manager. A nil lock grants every slot, a nil
// counter disables sweep counters.
func NewManager(lock SlotLock, counters *metrics.Counter, schedules ...Schedule) *Manager {
	if lock == nil {
		lock = NopSlotLock{}
	}
	m := &Manager{
		entries:  make(map[string]*entry, len(schedules)),
		lock:     lock,
		counters: counters,
		stopCh:   make(chan struct{}),
		last:     make(map[string]Report),
	}
	for _, s := range schedules {
		if s.Timeout <= 0 {
			s.Timeout = s.Interval
		}
		name := s.Sweep.Name()
		if _, dup := m.entries[name]; !dup {
			m.order = append(m.order, name)
		}
		m.entries[name] = &entry{Schedule: s}
	}
	return m
}

// Start launches one ticker goroutine per sweep.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Sweeper Manager] Starting sweeps")

	for _, name := range m.order {
		e := m.entries[name]
		if e.Interval <= 0 {
			log.Warnf("[Sweeper Manager] %s has no interval, not scheduled", name)
			continue
		}
		m.wg.Add(1)
		go m.worker(e, m.stopCh)
	}

	log.Info("[Sweeper Manager] Started successfully")
}

// Stop signals the workers and waits for running passes to end.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Sweeper Manager] Stopping sweeps...")
	close(m.stopCh)
	m.running = false
	m.wg.Wait()
	log.Info("[Sweeper Manager] Stopped successfully")
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) worker(e *entry, stopCh <-chan struct{}) {
	defer m.wg.Done()
	name := e.Sweep.Name()
	log.Infof("[Sweeper Manager] Started %s worker (interval: %s, timeout: %s)", name, e.Interval, e.Timeout)

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			log.Infof("[Sweeper Manager] %s worker stopping", name)
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.Timeout)
			go func() {
				select {
				case <-stopCh:
					cancel()
				case <-ctx.Done():
				}
			}()
			if _, err := m.runEntry(ctx, e); err != nil && !errors.Is(err, ErrSweepBusy) {
				log.Errorf("[Sweeper Manager] %s sweep error: %v", name, err)
			}
			cancel()
		}
	}
}

// RunNow runs one pass of the named sweep synchronously.
func (m *Manager) RunNow(ctx context.Context, name string) (Report, error) {
	e, ok := m.entries[name]
	if !ok {
		return Report{}, fmt.Errorf("%w: %q", ErrUnknownSweep, name)
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	return m.runEntry(ctx, e)
}

func (m *Manager) runEntry(ctx context.Context, e *entry) (Report, error) {
	name := e.Sweep.Name()
	if !e.busy.CompareAndSwap(false, true) {
		log.Warnf("[Sweeper Manager] %s still running, skipping this slot", name)
		return Report{Kind: name}, ErrSweepBusy
	}
	defer e.busy.Store(false)

	ttl := e.Timeout
	if ttl <= 0 {
		ttl = time.Minute
	}
	release, ok, err := m.lock.Acquire(ctx, name, ttl)
	if err != nil {
		// Without Redis the store's conditional updates still keep passes safe.
		log.Warnf("[Sweeper Manager] slot lock for %s unavailable, running unlocked: %v", name, err)
		release, ok = func() {}, true
	}
	if !ok {
		log.Debugf("[Sweeper Manager] %s slot held by another node", name)
		return Report{Kind: name}, ErrSweepBusy
	}
	defer release()

	rep, runErr := e.Sweep.Run(ctx)
	m.record(ctx, name, rep, runErr)
	return rep, runErr
}

func (m *Manager) record(ctx context.Context, name string, rep Report, err error) {
	m.statsMu.Lock()
	m.last[name] = rep
	m.statsMu.Unlock()

	m.counters.Incr(ctx, name+"_runs")
	m.counters.Add(ctx, name+"_transitioned", int64(rep.Transitioned))
	m.counters.Add(ctx, name+"_already_settled", int64(rep.AlreadySettled))
	m.counters.Add(ctx, name+"_unresolved", int64(rep.Unresolved))
	m.counters.Add(ctx, name+"_failed", int64(rep.Failed))
	if err != nil {
		m.counters.Incr(ctx, name+"_errors")
	}
}

// Stats returns the last report of every sweep that has run.
func (m *Manager) Stats() map[string]Report {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	out := make(map[string]Report, len(m.last))
	for k, v := range m.last {
		out[k] = v
	}
	return out
}

// Kinds lists the registered sweeps in registration order.
func (m *Manager) Kinds() []string {
	return append([]string(nil), m.order...)
}
