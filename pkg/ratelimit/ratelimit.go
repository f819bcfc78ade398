// Package ratelimit implements the per-key sliding-window rate limiter spec
// §9's redesign note mandates in place of the teacher's Redis-backed
// counters: all rate-limit state is process-local, keyed by an arbitrary
// string (an API key id, an integration id), and backed by a timestamp
// deque pruned on every check. A golang.org/x/time/rate token bucket sits in
// front of each window as an optional smoothing gate (spec §2's domain
// stack note): it admits a burst up to the tightest window's limit, then
// refills at that window's average rate rather than all at once when the
// window slides; it narrows admission, it never widens the window limit.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Window is a single sliding time window with a hit budget (e.g. 1000
// requests per hour).
type Window struct {
	Limit  int
	Period time.Duration
}

// slidingCounter tracks timestamps of admitted hits within one Window.
type slidingCounter struct {
	mu   sync.Mutex
	hits []time.Time
}

func (c *slidingCounter) allow(now time.Time, w Window) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-w.Period)
	kept := c.hits[:0]
	for _, t := range c.hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.hits = kept

	if len(c.hits) >= w.Limit {
		return false
	}
	c.hits = append(c.hits, now)
	return true
}

func (c *slidingCounter) count(now time.Time, w Window) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := now.Add(-w.Period)
	n := 0
	for _, t := range c.hits {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// keyState bundles a key's sliding-window counters (one per configured
// window, e.g. hourly and daily) with its optional token-bucket gate.
type keyState struct {
	counters []*slidingCounter
	bucket   *rate.Limiter
}

// Limiter is a process-local, multi-window rate limiter shared by C6 (API
// keys) and C9 (integrations). One Limiter instance is created per process;
// callers distinguish keys by passing distinct key strings.
type Limiter struct {
	windows []Window

	mu    sync.Mutex
	state map[string]*keyState
}

// New creates a Limiter enforcing every window in windows simultaneously —
// a hit is admitted only if every window has remaining budget.
func New(windows ...Window) *Limiter {
	return &Limiter{
		windows: windows,
		state:   make(map[string]*keyState),
	}
}

func (l *Limiter) stateFor(key string) *keyState {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.state[key]
	if !ok {
		s = &keyState{counters: make([]*slidingCounter, len(l.windows))}
		for i := range l.windows {
			s.counters[i] = &slidingCounter{}
		}
		// Token bucket paced to the tightest (smallest-period) window,
		// refilled at limit/period and bursting up to limit (at least 1).
		if len(l.windows) > 0 {
			tightest := l.windows[0]
			for _, w := range l.windows[1:] {
				if w.Period < tightest.Period {
					tightest = w
				}
			}
			ratePerSec := float64(tightest.Limit) / tightest.Period.Seconds()
			burst := tightest.Limit
			if burst < 1 {
				burst = 1
			}
			s.bucket = rate.NewLimiter(rate.Limit(ratePerSec), burst)
		}
		l.state[key] = s
	}
	return s
}

// Allow reports whether a request against key should be admitted now. It
// checks the token-bucket gate first (cheap, shapes bursts) then every
// sliding window (the hard ceiling); the request is admitted only if both
// agree.
func (l *Limiter) Allow(key string) bool {
	return l.AllowAt(key, time.Now())
}

// AllowAt is Allow with an explicit clock, for deterministic tests.
func (l *Limiter) AllowAt(key string, now time.Time) bool {
	s := l.stateFor(key)
	if s.bucket != nil && !s.bucket.AllowN(now, 1) {
		return false
	}
	for i, w := range l.windows {
		if !s.counters[i].allow(now, w) {
			return false
		}
	}
	return true
}

// Remaining returns the lowest remaining budget across all configured
// windows for key, useful for surfacing rate_limit_hits-style telemetry.
func (l *Limiter) Remaining(key string) int {
	return l.RemainingAt(key, time.Now())
}

// RemainingAt is Remaining with an explicit clock, for deterministic tests.
func (l *Limiter) RemainingAt(key string, now time.Time) int {
	s := l.stateFor(key)
	min := -1
	for i, w := range l.windows {
		left := w.Limit - s.counters[i].count(now, w)
		if min == -1 || left < min {
			min = left
		}
	}
	if min < 0 {
		return 0
	}
	return min
}
