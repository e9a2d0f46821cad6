// ABOUTME: HTTP API handlers for persona-scoped chat, streamed or collected
// ABOUTME: Also serves session transcripts and live transcript events

package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/2389/persona-gateway/internal/answer"
	"github.com/2389/persona-gateway/internal/auth"
	"github.com/2389/persona-gateway/internal/dedupe"
	"github.com/2389/persona-gateway/internal/persona"
	"github.com/2389/persona-gateway/internal/session"
	"github.com/2389/persona-gateway/internal/store"
)

const (
	defaultTranscriptLimit = 50
	eventsKeepalive        = 15 * time.Second

	// FrameMessage carries one recorded transcript message on the events stream.
	FrameMessage = "message"
)

// ChatResponse is the JSON response for POST /api/chat.
type ChatResponse struct {
	Message   string           `json:"message"`
	SessionID string           `json:"sessionId"`
	Sources   []string         `json:"sources"`
	ToolsUsed []string         `json:"toolsUsed"`
	Metadata  ResponseMetadata `json:"metadata"`
}

// ResponseMetadata echoes the normalized persona and attachment descriptors.
type ResponseMetadata struct {
	UserType          persona.UserType    `json:"userType"`
	CustomerPersonaID string              `json:"customerPersonaId,omitempty"`
	AdvisorPersonaID  string              `json:"advisorPersonaId,omitempty"`
	PersonaFound      bool                `json:"personaFound"`
	Attachments       []answer.Attachment `json:"attachments,omitempty"`
}

// MessageResponse is one transcript entry.
type MessageResponse struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	HTML      string         `json:"html,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

// SessionMessagesResponse is the JSON response for GET /api/sessions/{id}/messages.
type SessionMessagesResponse struct {
	SessionID string            `json:"sessionId"`
	Messages  []MessageResponse `json:"messages"`
}

type messageFrame struct {
	Type    string          `json:"type"`
	Message MessageResponse `json:"message"`
}

// identityFrom returns the identity attached by requireIdentity, falling back
// to the caller identity when the handler is invoked directly.
func identityFrom(r *http.Request) *auth.Identity {
	if id := auth.FromContext(r.Context()); id != nil {
		return id
	}
	caller := auth.CallerIdentity(r)
	return &auth.Identity{CallerID: caller, UserID: caller}
}

// prepareTurn runs the parsing, validating, and resolving stages shared by
// both chat endpoints.
func (g *Gateway) prepareTurn(w http.ResponseWriter, r *http.Request) (*answer.Turn, error) {
	ctx := r.Context()
	id := identityFrom(r)

	req, err := parseChatRequest(w, r, g.config.Limits.MaxBodyBytes)
	if err != nil {
		return nil, err
	}
	if err := req.validate(g.config.Limits.MaxMessageLength); err != nil {
		return nil, err
	}
	g.logger.Debug("chat request parsed", "caller_id", id.CallerID, "request", req.String())

	norm := persona.Normalize(req.Metadata)
	if norm.Conflict {
		g.logger.Warn("persona conflict: customer persona takes priority",
			"customer_persona_id", norm.Metadata.CustomerPersonaID,
			"advisor_persona_id", norm.DroppedAdvisorID,
			"user_id", id.UserID,
		)
	}

	res, err := g.resolver.Resolve(ctx, session.Request{
		UserID:      id.UserID,
		Persona:     norm.Metadata,
		SessionHint: req.SessionID,
	})
	if err != nil {
		return nil, err
	}

	return &answer.Turn{
		RequestID:    middleware.GetReqID(ctx),
		SessionID:    res.SessionID,
		UserID:       id.UserID,
		Message:      req.Message,
		Persona:      norm.Metadata,
		PersonaFound: res.PersonaFound,
		Attachments:  req.Attachments,
	}, nil
}

// generation is the outcome of one generator call.
type generation struct {
	res *answer.Result
	err error
}

// generate calls the generator raced against the generation timeout. The
// generator sees a context that is cancelled when the timer wins, and a late
// result is drained and discarded. On success the caller must call the
// returned cancel func once it is done with the stream.
func (g *Gateway) generate(ctx context.Context, turn *answer.Turn) (*answer.Result, context.CancelFunc, error) {
	genCtx, cancel := context.WithCancel(ctx)
	done := make(chan generation, 1)

	go func() {
		res, err := g.generator.Generate(genCtx, turn)
		done <- generation{res: res, err: err}
	}()

	timer := time.NewTimer(g.config.Generation.Timeout)
	defer timer.Stop()

	select {
	case gen := <-done:
		if gen.err == nil && gen.res == nil {
			gen.err = errors.New("generator returned no result")
		}
		if gen.err != nil {
			cancel()
			return nil, nil, gen.err
		}
		return gen.res, cancel, nil

	case <-timer.C:
		cancel()
		go discardLate(done)
		return nil, nil, timeoutError(fmt.Errorf("generator did not start within %s", g.config.Generation.Timeout))

	case <-ctx.Done():
		cancel()
		go discardLate(done)
		return nil, nil, ctx.Err()
	}
}

func discardLate(done <-chan generation) {
	gen := <-done
	if gen.res != nil {
		drainStream(gen.res.Stream)
	}
}

func drainStream(ch <-chan *answer.Chunk) {
	if ch == nil {
		return
	}
	for range ch {
	}
}

// handleChatStream handles POST /api/chat/stream. Errors before generation
// starts are returned as JSON with a status code; afterwards they are sent as
// an error frame followed by the sentinel.
func (g *Gateway) handleChatStream(w http.ResponseWriter, r *http.Request) {
	// Check streaming support before doing any work (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, KindUpstream.String(), "streaming not supported")
		return
	}

	turn, err := g.prepareTurn(w, r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	result, cancel, err := g.generate(r.Context(), turn)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	defer func() {
		cancel()
		go drainStream(result.Stream)
	}()

	g.streamAnswer(r.Context(), w, flusher, turn.SessionID, result)
}

// handleChat handles POST /api/chat. Identical concurrent requests from the
// same caller share one generation.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	turn, err := g.prepareTurn(w, r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	id := identityFrom(r)
	key := dedupe.GenerateKey("chat",
		id.CallerID,
		turn.SessionID,
		turn.Persona.CustomerPersonaID,
		turn.Persona.AdvisorPersonaID,
		turnDigest(turn),
	)

	detached := context.WithoutCancel(r.Context())
	resp, shared, err := g.chatDedupe.Do(r.Context(), key, 0, func() (*ChatResponse, error) {
		return g.complete(detached, turn)
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if shared {
		g.logger.Debug("served shared in-flight answer", "session_id", turn.SessionID, "caller_id", id.CallerID)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// complete generates and collects a full answer. Collection shares the
// generation deadline.
func (g *Gateway) complete(ctx context.Context, turn *answer.Turn) (*ChatResponse, error) {
	deadline := time.Now().Add(g.config.Generation.Timeout)

	result, cancel, err := g.generate(ctx, turn)
	if err != nil {
		return nil, err
	}
	defer func() {
		cancel()
		go drainStream(result.Stream)
	}()

	collectCtx, stop := context.WithDeadline(ctx, deadline)
	defer stop()

	text, err := answer.Collect(collectCtx, result)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, timeoutError(fmt.Errorf("collecting answer: %w", err))
		}
		return nil, fmt.Errorf("collecting answer: %w", err)
	}

	return &ChatResponse{
		Message:   text,
		SessionID: turn.SessionID,
		Sources:   nonNil(result.Sources),
		ToolsUsed: nonNil(result.ToolsUsed),
		Metadata: ResponseMetadata{
			UserType:          turn.Persona.UserType,
			CustomerPersonaID: turn.Persona.CustomerPersonaID,
			AdvisorPersonaID:  turn.Persona.AdvisorPersonaID,
			PersonaFound:      turn.PersonaFound,
			Attachments:       turn.Attachments,
		},
	}, nil
}

// turnDigest hashes the message and attachment descriptors for dedupe keys.
func turnDigest(turn *answer.Turn) string {
	h := sha256.New()
	h.Write([]byte(turn.Message))
	for _, a := range turn.Attachments {
		fmt.Fprintf(h, "\x00%s\x00%s\x00%d", a.Name, a.MimeType, a.Size)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ownedSession loads a session and checks it belongs to the requesting user.
// Sessions of other users are reported as not found.
func (g *Gateway) ownedSession(ctx context.Context, sessionID string, id *auth.Identity) (*store.Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, clientError("invalid session id format")
	}

	sess, err := g.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Error{Kind: KindNotFound, Message: "session not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess.UserID != id.UserID {
		return nil, &Error{Kind: KindNotFound, Message: "session not found"}
	}
	return sess, nil
}

// handleSessionMessages handles GET /api/sessions/{id}/messages.
// Supports ?limit=N and ?format=html to render message content as HTML.
func (g *Gateway) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	limit := defaultTranscriptLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			g.writeError(w, r, clientError("limit must be a positive integer"))
			return
		}
		limit = n
	}
	renderHTML := r.URL.Query().Get("format") == "html"

	if _, err := g.ownedSession(r.Context(), sessionID, identityFrom(r)); err != nil {
		g.writeError(w, r, err)
		return
	}

	messages, err := g.recorder.History(r.Context(), sessionID, limit)
	if err != nil {
		g.writeError(w, r, fmt.Errorf("loading transcript: %w", err))
		return
	}

	resp := SessionMessagesResponse{
		SessionID: sessionID,
		Messages:  make([]MessageResponse, 0, len(messages)),
	}
	for _, m := range messages {
		resp.Messages = append(resp.Messages, g.toMessageResponse(m, renderHTML))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (g *Gateway) toMessageResponse(m *store.Message, renderHTML bool) MessageResponse {
	out := MessageResponse{
		ID:        m.ID,
		Role:      m.Role,
		Content:   m.Content,
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if renderHTML {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(m.Content), &buf); err != nil {
			g.logger.Error("failed to convert markdown", "message_id", m.ID, "error", err)
		} else {
			out.HTML = buf.String()
		}
	}
	return out
}

// handleSessionEvents handles GET /api/sessions/{id}/events, streaming each
// message recorded for the session as it is saved.
func (g *Gateway) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, KindUpstream.String(), "streaming not supported")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if _, err := g.ownedSession(r.Context(), sessionID, identityFrom(r)); err != nil {
		g.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	messages := g.recorder.Subscribe(ctx, sessionID)

	setSSEHeaders(w)
	if err := g.writeJSONFrame(w, sessionFrame{Type: FrameSession, SessionID: sessionID}); err != nil {
		return
	}
	flusher.Flush()

	keepalive := time.NewTicker(eventsKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-messages:
			if !ok {
				_ = writeFrame(w, []byte(doneSentinel))
				flusher.Flush()
				return
			}
			if err := g.writeJSONFrame(w, messageFrame{Type: FrameMessage, Message: g.toMessageResponse(msg, false)}); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (g *Gateway) writeJSONFrame(w http.ResponseWriter, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return err
	}
	return writeFrame(w, data)
}
