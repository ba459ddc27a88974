// Package ratelimit implements per-user admission control over a rolling
// time window. Each user gets a log of admitted request timestamps; a request
// is admitted only while fewer than the configured maximum fall inside the
// window ending now. Callers supply the clock, which keeps decisions
// deterministic and testable.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Policy bounds how often a single user may be admitted.
type Policy struct {
	// MaxRequestsPerWindow is the admission cap per user per window.
	MaxRequestsPerWindow int
	// Window is the rolling interval the cap applies to.
	Window time.Duration
	// SweepInterval is how often the retention sweeper reclaims idle users.
	SweepInterval time.Duration
}

// DefaultPolicy matches the bot's public limits: 30 requests per rolling hour.
var DefaultPolicy = Policy{
	MaxRequestsPerWindow: 30,
	Window:               time.Hour,
	SweepInterval:        5 * time.Minute,
}

func (p Policy) Validate() error {
	if p.MaxRequestsPerWindow <= 0 {
		return errors.New("max requests per window must be positive")
	}
	if p.Window <= 0 {
		return errors.New("window must be positive")
	}
	if p.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	return nil
}

// Decision is the outcome of a single admission attempt.
type Decision struct {
	Admitted bool
	// Remaining is how many more admissions the user has in the current
	// window, counting this one. Zero when denied.
	Remaining int
	// RetryAfter is how long until one slot frees up. Zero when admitted.
	RetryAfter time.Duration
}

// userLog holds one user's admitted timestamps, oldest first. Each user has
// its own lock so the sweeper never stalls admissions for everyone at once.
type userLog struct {
	mu       sync.Mutex
	admitted []time.Time
}

// Limiter tracks admissions for all users. The zero value is not usable;
// construct with New.
type Limiter struct {
	policy Policy

	mu    sync.Mutex
	users map[int64]*userLog
}

func New(policy Policy) (*Limiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit policy: %w", err)
	}
	return &Limiter{
		policy: policy,
		users:  make(map[int64]*userLog),
	}, nil
}

// Policy returns the limits the limiter was built with.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// TryAdmit decides whether userID may proceed at the given instant. Admission
// appends now to the user's log; denial leaves the log untouched and reports
// how long until the oldest in-window entry ages out. Timestamps at exactly
// now minus the window no longer count, so a retry at now+RetryAfter is
// always admitted.
func (l *Limiter) TryAdmit(userID int64, now time.Time) Decision {
	l.mu.Lock()
	entry, ok := l.users[userID]
	if !ok {
		entry = &userLog{}
		l.users[userID] = entry
	}
	// Take the entry lock before releasing the map lock so a concurrent
	// sweep cannot reclaim the entry between the two.
	entry.mu.Lock()
	l.mu.Unlock()
	defer entry.mu.Unlock()

	cutoff := now.Add(-l.policy.Window)
	entry.admitted = pruneExpired(entry.admitted, cutoff)

	if len(entry.admitted) >= l.policy.MaxRequestsPerWindow {
		oldest := entry.admitted[0]
		return Decision{
			RetryAfter: oldest.Add(l.policy.Window).Sub(now),
		}
	}

	entry.admitted = append(entry.admitted, now)
	return Decision{
		Admitted:  true,
		Remaining: l.policy.MaxRequestsPerWindow - len(entry.admitted),
	}
}

// Sweep drops every timestamp at or before now minus the window and removes
// users whose logs come up empty. It returns the number of users removed.
// Sweeping never affects admission decisions, only memory, and is safe to
// call concurrently with itself and with TryAdmit.
func (l *Limiter) Sweep(now time.Time) int {
	cutoff := now.Add(-l.policy.Window)

	l.mu.Lock()
	entries := make(map[int64]*userLog, len(l.users))
	for id, entry := range l.users {
		entries[id] = entry
	}
	l.mu.Unlock()

	removed := 0
	for id, entry := range entries {
		entry.mu.Lock()
		entry.admitted = pruneExpired(entry.admitted, cutoff)
		empty := len(entry.admitted) == 0
		entry.mu.Unlock()

		if !empty {
			continue
		}

		// Re-check under both locks: an admission may have landed since the
		// prune, and a concurrent sweep may have already replaced the entry.
		l.mu.Lock()
		entry.mu.Lock()
		if len(entry.admitted) == 0 && l.users[id] == entry {
			delete(l.users, id)
			removed++
		}
		entry.mu.Unlock()
		l.mu.Unlock()
	}
	return removed
}

// Len reports how many users currently have at least one tracked entry.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

// pruneExpired keeps only timestamps strictly newer than cutoff, reusing the
// backing array. Logs are appended in admission order, so the result stays
// oldest first.
func pruneExpired(admitted []time.Time, cutoff time.Time) []time.Time {
	pruned := admitted[:0]
	for _, t := range admitted {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	return pruned
}
