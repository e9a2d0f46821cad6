// ABOUTME: In-flight call deduplication keyed by caller-supplied strings.
// ABOUTME: Concurrent callers sharing a key wait on one execution and receive the same result.

package dedupe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	// DefaultTTL bounds how long an unsettled call may be shared before it is treated as abandoned.
	DefaultTTL = 30 * time.Second

	// DefaultSweepInterval is how often the background sweeper runs.
	DefaultSweepInterval = time.Minute
)

// ErrProducePanicked is returned to every waiter when the shared produce function panics.
var ErrProducePanicked = errors.New("dedupe: produce panicked")

// call is the shared result handle for one execution.
type call[T any] struct {
	done      chan struct{}
	val       T
	err       error
	createdAt time.Time
}

// Group collapses concurrent calls with the same key into a single execution.
// Entries are removed the moment their call settles, so a later call with the
// same key always runs again. It is safe for concurrent use.
type Group[T any] struct {
	mu     sync.Mutex
	calls  map[string]*call[T]
	ttl    time.Duration
	now    func() time.Time
	done   chan struct{}
	closed bool
}

// New creates a Group whose entries expire after ttl and starts a background
// sweeper that runs every sweepInterval. Zero values select the defaults.
func New[T any](ttl, sweepInterval time.Duration) *Group[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	g := &Group[T]{
		calls: make(map[string]*call[T]),
		ttl:   ttl,
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go g.sweep(sweepInterval)
	return g
}

// Do returns the result of produce for key. If a call for key is already in
// flight and younger than ttl, Do waits for it instead of invoking produce and
// reports shared=true. A ttl of zero uses the Group default.
//
// produce runs on its own goroutine, so a caller whose ctx ends stops waiting
// without affecting other callers sharing the key.
func (g *Group[T]) Do(ctx context.Context, key string, ttl time.Duration, produce func() (T, error)) (v T, shared bool, err error) {
	if ttl <= 0 {
		ttl = g.ttl
	}

	g.mu.Lock()
	now := g.now()
	if c, ok := g.calls[key]; ok && now.Sub(c.createdAt) < ttl {
		g.mu.Unlock()
		v, err = wait(ctx, c)
		return v, true, err
	}

	// Absent, or stale and treated as abandoned
	c := &call[T]{
		done:      make(chan struct{}),
		createdAt: now,
	}
	g.calls[key] = c
	g.mu.Unlock()

	go g.run(key, c, produce)

	v, err = wait(ctx, c)
	return v, false, err
}

// run executes produce and settles the call. The entry is removed before the
// result is published so that no caller can observe a settled entry in the table.
func (g *Group[T]) run(key string, c *call[T], produce func() (T, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("%w: %v", ErrProducePanicked, r)
		}

		g.mu.Lock()
		if g.calls[key] == c {
			delete(g.calls, key)
		}
		g.mu.Unlock()

		close(c.done)
	}()

	c.val, c.err = produce()
}

func wait[T any](ctx context.Context, c *call[T]) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Len returns the number of calls currently tracked.
func (g *Group[T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// sweep runs in a background goroutine, periodically removing entries that
// outlived the TTL without settling.
func (g *Group[T]) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.runSweep()
		case <-g.done:
			return
		}
	}
}

// runSweep removes all expired entries from the table.
func (g *Group[T]) runSweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for key, c := range g.calls {
		if now.Sub(c.createdAt) >= g.ttl {
			delete(g.calls, key)
		}
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
// In-flight calls still settle and deliver to their waiters.
func (g *Group[T]) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}

// GenerateKey builds a dedupe key from a prefix and parts. Each part is
// stripped of non-alphanumeric characters, so the ':' separator can never
// appear inside a part. Empty parts are kept as '_' to preserve positions.
func GenerateKey(prefix string, parts ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteByte(':')
		clean := sanitize(p)
		if clean == "" {
			clean = "_"
		}
		b.WriteString(clean)
	}
	return b.String()
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, s)
}
