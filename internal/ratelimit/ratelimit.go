// Package ratelimit implements the client-side budgets for the two upstream
// endpoints: a sliding-window limiter for the geo-data API and a fixed
// spacing gate for the geocoder.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roamplan/sitecache/internal/core/observability"
)

// ErrRateLimited is returned when the sliding-window budget is exhausted.
// The limiter does not queue; callers decide whether to back off.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitError carries the time after which a retry can succeed.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %.1fs", e.RetryAfter.Seconds())
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// SlidingWindow allows at most n calls within any window of the configured
// length.
type SlidingWindow struct {
	name   string
	n      int
	window time.Duration

	mu    sync.Mutex
	calls []time.Time
	now   func() time.Time
}

func NewSlidingWindow(name string, n int, window time.Duration) *SlidingWindow {
	if n <= 0 {
		n = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &SlidingWindow{name: name, n: n, window: window, now: time.Now}
}

// Allow consumes one slot or returns a *RateLimitError with the remaining
// wait. The error is synchronous; nothing is queued.
func (l *SlidingWindow) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	live := l.calls[:0]
	for _, t := range l.calls {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	l.calls = live

	if len(l.calls) >= l.n {
		retryAfter := l.calls[0].Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		observability.IncRateLimitRejection(l.name)
		return &RateLimitError{RetryAfter: retryAfter}
	}
	l.calls = append(l.calls, now)
	return nil
}

// Spacer enforces a minimum interval between calls by sleeping the remainder,
// the contract the geocoding upstream requires (at most one request per
// interval, enforced client-side).
type Spacer struct {
	interval time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewSpacer(interval time.Duration) *Spacer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Spacer{interval: interval, now: time.Now}
}

// Wait blocks until the interval since the previous call has elapsed, or the
// context is done.
func (s *Spacer) Wait(ctx context.Context) error {
	s.mu.Lock()
	now := s.now()
	var sleep time.Duration
	if !s.last.IsZero() {
		if elapsed := now.Sub(s.last); elapsed < s.interval {
			sleep = s.interval - elapsed
		}
	}
	s.last = now.Add(sleep)
	s.mu.Unlock()

	if sleep <= 0 {
		return nil
	}
	t := time.NewTimer(sleep)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
