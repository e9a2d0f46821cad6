// ABOUTME: Recorder persists transcripts around an answer generator
// ABOUTME: Records the user message first, then saves the assistant reply as the stream ends

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/persona-gateway/internal/answer"
	"github.com/2389/persona-gateway/internal/store"
)

// DefaultHistoryLimit is how many prior messages are loaded into a turn.
const DefaultHistoryLimit = 20

// persistTimeout bounds each save, independent of the request context.
const persistTimeout = 5 * time.Second

// TranscriptStore defines what the recorder needs from storage
type TranscriptStore interface {
	SaveMessage(ctx context.Context, msg *store.Message) error
	GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]*store.Message, error)
}

// Recorder is an answer.Generator that records every turn it passes to the
// wrapped generator.
//
// Record first, then act: the user message is saved before generation starts,
// so there is a record even if the generator fails.
type Recorder struct {
	store        TranscriptStore
	next         answer.Generator
	broadcaster  *Broadcaster
	historyLimit int
	logger       *slog.Logger
}

// NewRecorder creates a Recorder. broadcaster may be nil.
func NewRecorder(store TranscriptStore, next answer.Generator, broadcaster *Broadcaster, historyLimit int, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Recorder{
		store:        store,
		next:         next,
		broadcaster:  broadcaster,
		historyLimit: historyLimit,
		logger:       logger.With("component", "conversation"),
	}
}

// Generate implements answer.Generator.
func (r *Recorder) Generate(ctx context.Context, turn *answer.Turn) (*answer.Result, error) {
	t := *turn

	// 1. Load prior context before this turn is recorded
	history, err := r.store.GetSessionMessages(ctx, t.SessionID, r.historyLimit)
	if err != nil {
		r.logger.Warn("failed to load history, continuing without it",
			"session_id", t.SessionID,
			"error", err)
	}
	t.History = make([]answer.HistoryMessage, 0, len(history))
	for _, m := range history {
		t.History = append(t.History, answer.HistoryMessage{Role: m.Role, Content: m.Content})
	}

	// 2. Record user message FIRST
	userMsg := &store.Message{
		ID:        uuid.New().String(),
		SessionID: t.SessionID,
		Role:      store.RoleUser,
		Content:   t.Message,
		CreatedAt: time.Now(),
	}
	if len(t.Attachments) > 0 {
		userMsg.Metadata = map[string]any{"attachments": t.Attachments}
	}
	if err := r.save(userMsg); err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}

	r.logger.Debug("user message recorded",
		"session_id", t.SessionID,
		"message_id", userMsg.ID)

	// 3. Generate
	res, err := r.next.Generate(ctx, &t)
	if err != nil {
		return nil, err
	}

	// 4. Wrap stream to persist the reply as it completes
	out := *res
	out.Stream = r.persistStream(ctx, res)
	return &out, nil
}

// History returns the most recent limit messages of a session.
func (r *Recorder) History(ctx context.Context, sessionID string, limit int) ([]*store.Message, error) {
	return r.store.GetSessionMessages(ctx, sessionID, limit)
}

// Subscribe streams messages recorded for a session until ctx ends.
func (r *Recorder) Subscribe(ctx context.Context, sessionID string) <-chan *store.Message {
	if r.broadcaster == nil {
		ch := make(chan *store.Message)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch
	}
	return r.broadcaster.Subscribe(ctx, sessionID).C
}

// persistStream forwards chunks while accumulating text. The assistant message
// is saved when the stream ends. A reply cut short by an error chunk or by the
// consumer going away is saved with metadata["interrupted"] set.
func (r *Recorder) persistStream(ctx context.Context, res *answer.Result) <-chan *answer.Chunk {
	out := make(chan *answer.Chunk, 16)

	go func() {
		defer close(out)

		var text strings.Builder
		interrupted := false

	loop:
		for chunk := range res.Stream {
			if chunk.Err != nil {
				r.logger.Warn("generation failed mid-stream, recording partial reply",
					"session_id", res.SessionID,
					"error", chunk.Err)
				select {
				case out <- chunk:
				case <-ctx.Done():
				}
				interrupted = true
				break loop
			}
			if ctx.Err() != nil {
				interrupted = true
				break loop
			}
			text.WriteString(chunk.Text)

			select {
			case out <- chunk:
			case <-ctx.Done():
				r.logger.Debug("context cancelled during response streaming",
					"session_id", res.SessionID)
				interrupted = true
				break loop
			}
		}
		if interrupted {
			// Drain remaining chunks to prevent blocking the generator
			go drain(res.Stream)
		} else if ctx.Err() != nil {
			// The generator stopped early because the request went away
			interrupted = true
		}

		if text.Len() == 0 {
			return
		}
		msg := &store.Message{
			ID:        uuid.New().String(),
			SessionID: res.SessionID,
			Role:      store.RoleAssistant,
			Content:   text.String(),
			CreatedAt: time.Now(),
			Metadata:  map[string]any{},
		}
		if len(res.Sources) > 0 {
			msg.Metadata["sources"] = res.Sources
		}
		if len(res.ToolsUsed) > 0 {
			msg.Metadata["toolsUsed"] = res.ToolsUsed
		}
		if interrupted {
			msg.Metadata["interrupted"] = true
		}
		if err := r.save(msg); err != nil {
			r.logger.Error("failed to save assistant message",
				"error", err,
				"session_id", res.SessionID)
		}
	}()

	return out
}

// save persists a message with a separate timeout context and publishes it.
func (r *Recorder) save(msg *store.Message) error {
	saveCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := r.store.SaveMessage(saveCtx, msg); err != nil {
		return err
	}
	if r.broadcaster != nil {
		r.broadcaster.Publish(msg)
	}
	return nil
}

func drain(ch <-chan *answer.Chunk) {
	for range ch {
	}
}

var _ answer.Generator = (*Recorder)(nil)
