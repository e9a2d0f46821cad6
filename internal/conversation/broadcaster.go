// ABOUTME: Live transcript feed that hands each recorded message to session subscribers
// ABOUTME: A subscriber that falls behind is evicted so its feed never skips a message

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/persona-gateway/internal/store"
)

// feedBuffer is how many unread messages a subscription may hold before it
// is evicted.
const feedBuffer = 64

// Subscription is one live transcript feed. C is closed when the subscription
// ends: its context was cancelled, it fell behind, or the Broadcaster closed.
type Subscription struct {
	C <-chan *store.Message

	id        uint64
	sessionID string
	ch        chan *store.Message
}

// Broadcaster delivers recorded messages to the subscribers of their session.
// Publish never blocks. A subscriber whose buffer is full is evicted rather
// than handed a transcript with a gap; clients re-read the transcript and
// subscribe again.
type Broadcaster struct {
	mu       sync.Mutex
	nextID   uint64
	sessions map[string]map[uint64]*Subscription
	closed   bool
	logger   *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		sessions: make(map[string]map[uint64]*Subscription),
		logger:   logger.With("component", "broadcaster"),
	}
}

// Subscribe opens a feed for a session. It ends when ctx is cancelled.
// Subscribing to a closed Broadcaster returns an already-closed feed.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string) *Subscription {
	ch := make(chan *store.Message, feedBuffer)
	sub := &Subscription{C: ch, sessionID: sessionID, ch: ch}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	subs, ok := b.sessions[sessionID]
	if !ok {
		subs = make(map[uint64]*Subscription)
		b.sessions[sessionID] = subs
	}
	subs[sub.id] = sub
	b.mu.Unlock()

	b.logger.Debug("transcript feed opened", "session_id", sessionID, "feed_id", sub.id)

	context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.remove(sub) {
			b.logger.Debug("transcript feed closed", "session_id", sessionID, "feed_id", sub.id)
		}
	})

	return sub
}

// Publish hands msg to every subscriber of msg.SessionID.
func (b *Broadcaster) Publish(msg *store.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.sessions[msg.SessionID] {
		select {
		case sub.ch <- msg:
		default:
			b.logger.Warn("evicting lagging transcript feed",
				"session_id", msg.SessionID,
				"feed_id", sub.id,
				"message_id", msg.ID)
			b.remove(sub)
		}
	}
}

// remove drops sub and closes its channel. It reports false when sub was
// already gone. b.mu must be held.
func (b *Broadcaster) remove(sub *Subscription) bool {
	subs, ok := b.sessions[sub.sessionID]
	if !ok {
		return false
	}
	if _, ok := subs[sub.id]; !ok {
		return false
	}

	delete(subs, sub.id)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.sessions, sub.sessionID)
	}
	return true
}

// Subscribers returns the number of open feeds for a session.
func (b *Broadcaster) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions[sessionID])
}

// Close ends every feed. Later Publish calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.sessions {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.sessions = make(map[string]map[uint64]*Subscription)
}
