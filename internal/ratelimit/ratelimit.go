// Package ratelimit implements an exact sliding-window request limiter
// keyed by client IP. Each key keeps the timestamps of its requests inside
// the window, so the limit is precise rather than bucketed.
package ratelimit

import (
	"sync"
	"time"
)

// Decision reports the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits up to limit requests per key per window.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	seen   map[string][]time.Time
	now    func() time.Time
}

// New builds a limiter allowing limit requests per window for each key.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		seen:   map[string][]time.Time{},
		now:    time.Now,
	}
}

// Allow records a request for key and decides whether it is admitted.
func (l *Limiter) Allow(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	stamps := l.seen[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		l.seen[key] = kept
		// The slot frees when the oldest request in the window ages out.
		retry := kept[0].Add(l.window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return Decision{Allowed: false, Limit: l.limit, Remaining: 0, RetryAfter: retry}
	}

	kept = append(kept, now)
	l.seen[key] = kept
	return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit - len(kept)}
}

// Prune drops keys whose entire history has aged out of the window. Called
// periodically so idle clients do not accumulate.
func (l *Limiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for key, stamps := range l.seen {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.seen, key)
		}
	}
}

// Keys returns the number of tracked client keys.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
