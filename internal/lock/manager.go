package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"cr-go/internal/cr"
)

// Manager is an in-process keyed lock. Each key maps to a weight-1
// semaphore whose waiters are served in arrival order. Entries are created
// on first use and dropped once no holder or waiter references them.
type Manager struct {
	mu      sync.Mutex
	entries map[cr.LockKey]*entry

	timeout time.Duration
	logger  cr.Logger
	metrics *Metrics
}

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// NewManager creates a Manager. timeout <= 0 selects cr.DefaultLockTimeout;
// metrics may be nil.
func NewManager(timeout time.Duration, logger cr.Logger, metrics *Metrics) *Manager {
	if timeout <= 0 {
		timeout = cr.DefaultLockTimeout
	}
	if logger == nil {
		logger = cr.NewNopLogger()
	}
	return &Manager{
		entries: make(map[cr.LockKey]*entry),
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// ExecuteLocked implements cr.Locker.
func (m *Manager) ExecuteLocked(ctx context.Context, key cr.LockKey, timeout time.Duration, fn func(ctx context.Context) error) error {
	if isHeld(ctx, m, key) {
		m.metrics.observe("memory", OutcomeReentrant, 0)
		return fn(ctx)
	}
	if timeout <= 0 {
		timeout = m.timeout
	}

	e := m.ref(key)
	defer m.unref(key, e)

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	err := e.sem.Acquire(waitCtx, 1)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			m.metrics.observe("memory", OutcomeCanceled, 0)
			return fmt.Errorf("waiting for lock %s: %w", key, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			m.metrics.observe("memory", OutcomeTimeout, 0)
			m.logger.Warn("lock timeout", "key", string(key), "timeout", timeout)
			return &cr.LockTimeoutError{Key: key, Timeout: timeout}
		}
		m.metrics.observe("memory", OutcomeError, 0)
		return fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	defer e.sem.Release(1)

	waited := time.Since(start)
	m.metrics.observe("memory", OutcomeAcquired, waited)
	m.metrics.hold(1)
	defer m.metrics.hold(-1)
	m.logger.Debug("lock acquired", "key", string(key), "waited", waited)

	return fn(withHeld(ctx, m, key))
}

func (m *Manager) ref(key cr.LockKey) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Manager) unref(key cr.LockKey, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// ActiveKeys returns how many keys are currently held or waited for.
func (m *Manager) ActiveKeys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var _ cr.Locker = (*Manager)(nil)
