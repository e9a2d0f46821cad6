// ABOUTME: Fixed-window request counter keyed by caller identity
// ABOUTME: Decides whether a caller may proceed and reports remaining quota and reset time

package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultWindow is the length of one counting window.
	DefaultWindow = 60 * time.Second

	// DefaultCapacity is the number of requests allowed per window per identity.
	DefaultCapacity = 30

	// DefaultHighWater is the number of tracked identities above which a sweep runs.
	DefaultHighWater = 1000

	// DefaultRetentionWindows is how many whole windows a finished entry is kept before a sweep may drop it.
	DefaultRetentionWindows = 5
)

// Config holds limiter tuning. Zero values fall back to the package defaults.
type Config struct {
	Window           time.Duration
	Capacity         int
	HighWater        int
	RetentionWindows int
}

// Result is the outcome of a single Check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before the window resets.
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (r Result) RetryAfterSeconds(now time.Time) int {
	d := r.RetryAfter(now)
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

type entry struct {
	count         int
	windowResetAt time.Time
}

// Limiter is a process-wide fixed-window limiter. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	window    time.Duration
	capacity  int
	highWater int
	retention time.Duration

	now func() time.Time
}

// New creates a limiter from cfg, applying defaults for unset fields.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.HighWater <= 0 {
		cfg.HighWater = DefaultHighWater
	}
	if cfg.RetentionWindows <= 0 {
		cfg.RetentionWindows = DefaultRetentionWindows
	}
	return &Limiter{
		entries:   make(map[string]*entry),
		window:    cfg.Window,
		capacity:  cfg.Capacity,
		highWater: cfg.HighWater,
		retention: time.Duration(cfg.RetentionWindows) * cfg.Window,
		now:       time.Now,
	}
}

// Capacity returns the configured requests per window.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Check counts one request for identity and reports whether it is within quota.
// An unknown identity is treated as a first request.
func (l *Limiter) Check(identity string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	e, ok := l.entries[identity]
	if !ok || now.After(e.windowResetAt) {
		e = &entry{windowResetAt: now.Add(l.window)}
		l.entries[identity] = e
	}
	e.count++

	remaining := l.capacity - e.count
	if remaining < 0 {
		remaining = 0
	}

	if len(l.entries) > l.highWater {
		l.sweepLocked(now)
	}

	return Result{
		Allowed:   e.count <= l.capacity,
		Limit:     l.capacity,
		Remaining: remaining,
		ResetAt:   e.windowResetAt,
	}
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// sweepLocked drops entries whose window ended more than the retention horizon ago.
// Must be called with mu held.
func (l *Limiter) sweepLocked(now time.Time) {
	for id, e := range l.entries {
		if now.Sub(e.windowResetAt) > l.retention {
			delete(l.entries, id)
		}
	}
}
