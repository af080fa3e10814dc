// Package ratelimit gates outbound requests per source using fixed windows.
// Each source has an independent window; exhausting one never affects another.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abelbrown/guidepost/internal/solution"
)

// ErrLimitExceeded is returned by TryAcquire when the source's window is full.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// window is the mutable per-source state. count never exceeds max.
type window struct {
	start time.Time
	count int
	max   int
	dur   time.Duration
}

// Limiter enforces per-source fixed rate windows. Safe for concurrent use
// from multiple simultaneous queries.
type Limiter struct {
	mu      sync.Mutex
	windows map[solution.SourceID]*window
	now     func() time.Time // injectable for tests
}

// New creates a Limiter with no sources registered.
func New() *Limiter {
	return &Limiter{
		windows: make(map[solution.SourceID]*window),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test use only.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Register configures the window for a source. Must be called before any
// acquire for that source.
func (l *Limiter) Register(source solution.SourceID, maxPerWindow int, dur time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows[source] = &window{max: maxPerWindow, dur: dur}
}

// TryAcquire takes a permit without waiting. Returns ErrLimitExceeded when
// the current window is full, so the caller can skip the source this query.
func (l *Limiter) TryAcquire(source solution.SourceID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[source]
	if !ok {
		return fmt.Errorf("rate limiter: unregistered source %q", source)
	}

	now := l.now()
	if w.start.IsZero() || now.Sub(w.start) >= w.dur {
		w.start = now
		w.count = 0
	}
	if w.count >= w.max {
		return fmt.Errorf("%w: %s", ErrLimitExceeded, source)
	}
	w.count++
	return nil
}

// Acquire takes a permit, waiting for the window to reset if it is full.
// Returns the context error if ctx is cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context, source solution.SourceID) error {
	for {
		err := l.TryAcquire(source)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLimitExceeded) {
			return err
		}

		wait := l.untilReset(source)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// untilReset returns the time remaining in the source's current window.
func (l *Limiter) untilReset(source solution.SourceID) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[source]
	if !ok {
		return 0
	}
	remaining := w.dur - l.now().Sub(w.start)
	if remaining < 0 {
		return 0
	}
	return remaining
}
