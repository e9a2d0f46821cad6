// ABOUTME: Tests for the fixed-window rate limiter
// ABOUTME: Covers capacity exhaustion, window reset, sweeping, and concurrent callers

package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock for deterministic window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := newFakeClock()
	l := New(cfg)
	l.now = clock.Now
	return l, clock
}

func TestLimiter_Defaults(t *testing.T) {
	l := New(Config{})

	assert.Equal(t, DefaultCapacity, l.Capacity())
	assert.Equal(t, DefaultWindow, l.window)
	assert.Equal(t, DefaultHighWater, l.highWater)
	assert.Equal(t, DefaultRetentionWindows*DefaultWindow, l.retention)
}

func TestLimiter_CapacityThenReject(t *testing.T) {
	l, clock := newTestLimiter(Config{Window: time.Minute, Capacity: 30})

	for i := 1; i <= 30; i++ {
		res := l.Check("X")
		require.True(t, res.Allowed, "request %d should be allowed", i)
		assert.Equal(t, 30-i, res.Remaining, "remaining after request %d", i)
		assert.Equal(t, 30, res.Limit)
		clock.Advance(time.Second)
	}

	res := l.Check("X")
	assert.False(t, res.Allowed, "request 31 should be rejected")
	assert.Equal(t, 0, res.Remaining)
	assert.Positive(t, res.RetryAfter(clock.Now()))
	assert.GreaterOrEqual(t, res.RetryAfterSeconds(clock.Now()), 1)
}

func TestLimiter_WindowResets(t *testing.T) {
	l, clock := newTestLimiter(Config{Window: time.Minute, Capacity: 3})

	first := l.Check("X")
	l.Check("X")
	l.Check("X")
	assert.False(t, l.Check("X").Allowed)

	// Exactly at resetAt the window is still live.
	clock.Advance(first.ResetAt.Sub(clock.Now()))
	assert.False(t, l.Check("X").Allowed)

	clock.Advance(time.Millisecond)
	res := l.Check("X")
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, clock.Now().Add(time.Minute), res.ResetAt)
}

func TestLimiter_RejectedRequestsStillCount(t *testing.T) {
	l, _ := newTestLimiter(Config{Window: time.Minute, Capacity: 1})

	assert.True(t, l.Check("X").Allowed)
	for i := 0; i < 5; i++ {
		res := l.Check("X")
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
	}
	assert.Equal(t, 6, l.entries["X"].count)
}

func TestLimiter_IdentitiesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Config{Window: time.Minute, Capacity: 1})

	assert.True(t, l.Check("a").Allowed)
	assert.False(t, l.Check("a").Allowed)
	assert.True(t, l.Check("b").Allowed)
}

func TestLimiter_SweepDropsOnlyStaleEntries(t *testing.T) {
	l, clock := newTestLimiter(Config{Window: time.Minute, Capacity: 5, HighWater: 3, RetentionWindows: 2})

	l.Check("old-1")
	l.Check("old-2")
	l.Check("old-3")

	// Move well past the retention horizon for the old entries.
	clock.Advance(4 * time.Minute)
	l.Check("fresh")
	l.Check("fresh")

	assert.Equal(t, 1, l.Len(), "stale entries should be swept once high-water is exceeded")

	res := l.Check("fresh")
	assert.True(t, res.Allowed)
	assert.Equal(t, 2, res.Remaining, "sweep must not reset a live window")
}

func TestLimiter_SweepKeepsRecentlyExpired(t *testing.T) {
	l, clock := newTestLimiter(Config{Window: time.Minute, Capacity: 5, HighWater: 1, RetentionWindows: 5})

	l.Check("a")
	clock.Advance(2 * time.Minute)
	l.Check("b")

	assert.Equal(t, 2, l.Len(), "entries inside the retention horizon survive the sweep")
}

func TestLimiter_RetryAfter(t *testing.T) {
	now := time.Now()
	res := Result{ResetAt: now.Add(1500 * time.Millisecond)}

	assert.Equal(t, 1500*time.Millisecond, res.RetryAfter(now))
	assert.Equal(t, 2, res.RetryAfterSeconds(now))

	past := Result{ResetAt: now.Add(-time.Second)}
	assert.Equal(t, time.Duration(0), past.RetryAfter(now))
	assert.Equal(t, 1, past.RetryAfterSeconds(now))
}

func TestLimiter_Concurrent(t *testing.T) {
	l := New(Config{Window: time.Hour, Capacity: 50})

	const goroutines = 20
	const perGoroutine = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if l.Check("shared").Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed, "exactly capacity requests should be allowed")
}

func TestLimiter_ManyIdentities(t *testing.T) {
	l := New(Config{Window: time.Minute, Capacity: 2, HighWater: 10})

	for i := 0; i < 100; i++ {
		res := l.Check(fmt.Sprintf("caller-%d", i))
		assert.True(t, res.Allowed)
	}
	// Nothing is stale yet, so every identity is still tracked.
	assert.Equal(t, 100, l.Len())
}
