package httptransport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// ThrottleConfig configures the sliding window throttle.
type ThrottleConfig struct {
	// Max is the maximum number of requests sent per window. Zero disables
	// throttling.
	Max int
	// Window is the duration of each sliding window.
	Window time.Duration
	// KeyFunc extracts the throttle key from a request.
	// If nil, the request host is used.
	KeyFunc func(*http.Request) string
}

// entry tracks request counts across two adjacent windows for the sliding
// window algorithm.
type entry struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

type throttler struct {
	cfg     ThrottleConfig
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]*entry
}

func newThrottler(cfg ThrottleConfig) *throttler {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(r *http.Request) string { return r.URL.Host }
	}
	return &throttler{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// reserve records a request for key if the window has room. Otherwise it
// returns how long to wait before trying again.
func (t *throttler) reserve(key string, now time.Time) (wait time.Duration, allowed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		e = &entry{currStart: now}
		t.entries[key] = e
	}

	// Rotate window if the current window has elapsed.
	if now.Sub(e.currStart) >= t.cfg.Window {
		e.prevCount = e.currCount
		e.prevStart = e.currStart
		e.currCount = 0
		e.currStart = now.Truncate(t.cfg.Window)
		if now.Sub(e.prevStart) >= 2*t.cfg.Window {
			e.prevCount = 0
		}
	}

	elapsed := now.Sub(e.currStart)
	overlapRatio := 1.0 - elapsed.Seconds()/t.cfg.Window.Seconds()
	if overlapRatio < 0 {
		overlapRatio = 0
	}
	effectiveCount := e.prevCount*overlapRatio + e.currCount

	if effectiveCount >= float64(t.cfg.Max) {
		wait = e.currStart.Add(t.cfg.Window).Sub(now)
		if wait <= 0 {
			wait = time.Millisecond
		}
		return wait, false
	}

	e.currCount++
	return 0, true
}

// cleanup removes entries whose windows have fully expired.
func (t *throttler) cleanup(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, e := range t.entries {
		if now.Sub(e.currStart) >= 2*t.cfg.Window {
			delete(t.entries, key)
		}
	}
}

// Throttle returns a middleware that keeps outgoing requests per key within a
// sliding window. Unlike a server-side limiter it never rejects: a request over
// the limit waits for room in the window or until its context is done.
func Throttle(cfg ThrottleConfig) Middleware {
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return func(next http.RoundTripper) http.RoundTripper { return next }
	}
	t := newThrottler(cfg)
	return t.middleware
}

// ThrottleWithCleanup is like Throttle but additionally evicts expired entries
// every 2x the window duration until ctx is cancelled.
func ThrottleWithCleanup(ctx context.Context, cfg ThrottleConfig) Middleware {
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return Throttle(cfg)
	}
	t := newThrottler(cfg)
	go func() {
		ticker := time.NewTicker(2 * cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				t.cleanup(now)
			}
		}
	}()
	return t.middleware
}

func (t *throttler) middleware(next http.RoundTripper) http.RoundTripper {
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		key := t.cfg.KeyFunc(r)
		for {
			wait, allowed := t.reserve(key, t.now())
			if allowed {
				return next.RoundTrip(r)
			}

			zctx.From(r.Context()).Debug("Throttling request",
				zap.String("key", key),
				zap.Duration("wait", wait),
			)
			timer := time.NewTimer(wait)
			select {
			case <-r.Context().Done():
				timer.Stop()
				return nil, errors.Wrap(r.Context().Err(), "throttled")
			case <-timer.C:
			}
		}
	})
}
