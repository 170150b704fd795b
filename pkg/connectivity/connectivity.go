// Package connectivity tracks whether the client currently has network
// connectivity.
//
// Each registered check runs in its own background goroutine at a configurable
// interval. Checks use failure/success thresholds to avoid flapping: a check
// must fail consecutively failureThreshold times before the monitor reports
// offline, and succeed successThreshold times before it reports online again.
// Probe runs every check immediately and applies the result without waiting for
// the thresholds, for callers that just observed a transport failure.
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// CheckFunc reports nil when the checked path is reachable.
type CheckFunc func(ctx context.Context) error

type check struct {
	name             string
	timeout          time.Duration
	fn               CheckFunc
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// mu guards the counters: the ticker goroutine and Probe may run the check
	// concurrently.
	mu               sync.Mutex
	consecutiveFails int
	consecutiveOK    int
}

func (c *check) isHealthy() bool {
	return c.healthy.Load()
}

func (c *check) getLastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// run executes the check once. With force the result is applied at once,
// ignoring thresholds.
func (c *check) run(ctx context.Context, force bool) error {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(checkCtx)
	c.lastErr.Store(&err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.consecutiveOK = 0
		c.consecutiveFails++
		if force || c.consecutiveFails >= c.failureThreshold {
			c.healthy.Store(false)
		}
	} else {
		c.consecutiveFails = 0
		c.consecutiveOK++
		if force || c.consecutiveOK >= c.successThreshold {
			c.healthy.Store(true)
		}
	}
	return err
}

// Monitor aggregates reachability checks.
type Monitor struct {
	lg *zap.Logger

	mu     sync.RWMutex
	checks []*check
	cancel context.CancelFunc
}

// New creates a Monitor. Without checks it always reports online.
func New(lg *zap.Logger) *Monitor {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Monitor{lg: lg}
}

// AddCheck registers a reachability check. Checks start healthy.
func (m *Monitor) AddCheck(name string, timeout time.Duration, fn CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := &check{
		name:             name,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: 3,
		successThreshold: 1,
	}
	c.healthy.Store(true)
	m.checks = append(m.checks, c)
}

// Start runs every check in the background at interval until ctx is done or
// Stop is called.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.cancel = cancel
	checks := append([]*check(nil), m.checks...)
	m.mu.Unlock()

	for _, c := range checks {
		go m.runCheck(ctx, c, interval)
	}
}

func (m *Monitor) runCheck(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.run(ctx, false)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wasHealthy := c.isHealthy()
			c.run(ctx, false)
			if healthy := c.isHealthy(); healthy != wasHealthy {
				m.lg.Info("Connectivity changed",
					zap.String("check", c.name),
					zap.Bool("online", healthy),
					zap.Error(c.getLastError()),
				)
			}
		}
	}
}

// Online reports whether every check is currently healthy. A nil Monitor is
// always online.
func (m *Monitor) Online() bool {
	if m == nil {
		return true
	}
	m.mu.RLock()
	checks := m.checks
	m.mu.RUnlock()

	for _, c := range checks {
		if !c.isHealthy() {
			return false
		}
	}
	return true
}

// Probe runs every check now and returns the first failure. Results are
// applied immediately. A nil Monitor always succeeds.
func (m *Monitor) Probe(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	checks := append([]*check(nil), m.checks...)
	m.mu.RUnlock()

	var first error
	for _, c := range checks {
		if err := c.run(ctx, true); err != nil && first == nil {
			first = errors.Wrapf(err, "check %s", c.name)
		}
	}
	return first
}

// Failures returns the last error of each unhealthy check by name.
func (m *Monitor) Failures() map[string]string {
	m.mu.RLock()
	checks := append([]*check(nil), m.checks...)
	m.mu.RUnlock()

	failures := make(map[string]string)
	for _, c := range checks {
		if c.isHealthy() {
			continue
		}
		if err := c.getLastError(); err != nil {
			failures[c.name] = err.Error()
		} else {
			failures[c.name] = "check is unhealthy"
		}
	}
	return failures
}

// Stop cancels the background checks. It is safe to call Stop multiple times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
