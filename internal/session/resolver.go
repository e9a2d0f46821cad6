// ABOUTME: StoreResolver implements get-or-create session resolution over a session Store
// ABOUTME: Honors client session hints only when they match the user and persona key

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/persona-gateway/internal/dedupe"
	"github.com/2389/persona-gateway/internal/persona"
	"github.com/2389/persona-gateway/internal/store"
)

// StoreResolver resolves sessions against a Store, consulting a Directory to
// classify persona misses. Concurrent first-time resolutions for the same key
// share one get-or-create.
type StoreResolver struct {
	sessions  Store
	directory Directory
	inflight  *dedupe.Group[*Resolution]
	logger    *slog.Logger
	now       func() time.Time
}

// NewStoreResolver creates a resolver. directory may be nil, in which case
// every persona is treated as found. inflight may be nil to disable collapsing.
func NewStoreResolver(sessions Store, directory Directory, inflight *dedupe.Group[*Resolution], logger *slog.Logger) *StoreResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreResolver{
		sessions:  sessions,
		directory: directory,
		inflight:  inflight,
		logger:    logger.With("component", "session"),
		now:       time.Now,
	}
}

// Resolve returns the session for the request, creating it if needed.
func (r *StoreResolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	if req.UserID == "" {
		return nil, ErrMissingUser
	}
	p := req.Persona

	found, err := r.lookupPersona(ctx, p)
	if err != nil {
		return nil, err
	}

	if req.SessionHint != "" {
		res, err := r.fromHint(ctx, req, found)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}

	if r.inflight == nil {
		return r.getOrCreate(ctx, req.UserID, p, found)
	}

	key := "session\x00" + req.UserID + "\x00" + p.CustomerPersonaID + "\x00" + p.AdvisorPersonaID
	res, _, err := r.inflight.Do(ctx, key, 0, func() (*Resolution, error) {
		return r.getOrCreate(context.WithoutCancel(ctx), req.UserID, p, found)
	})
	if err != nil {
		return nil, err
	}
	cp := *res
	return &cp, nil
}

// lookupPersona reports whether the active persona is in the directory.
// An advisor miss is fatal; a customer miss is not.
func (r *StoreResolver) lookupPersona(ctx context.Context, p persona.Metadata) (bool, error) {
	if !p.HasPersona() {
		return false, nil
	}
	if r.directory == nil {
		return true, nil
	}

	kind, id := store.PersonaKindCustomer, p.CustomerPersonaID
	if p.IsAdvisor() {
		kind, id = store.PersonaKindAdvisor, p.AdvisorPersonaID
	}

	_, err := r.directory.GetPersona(ctx, kind, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound) && kind == store.PersonaKindAdvisor:
		return false, fmt.Errorf("%w: %s", ErrAdvisorNotFound, id)
	case errors.Is(err, store.ErrNotFound):
		r.logger.Info("customer persona not in directory, continuing without persona context",
			"customer_persona_id", id)
		return false, nil
	default:
		return false, fmt.Errorf("looking up persona: %w", err)
	}
}

// fromHint returns the hinted session if it exists and belongs to the same
// user and persona key. A nil result means the hint was not usable.
func (r *StoreResolver) fromHint(ctx context.Context, req Request, found bool) (*Resolution, error) {
	sess, err := r.sessions.GetSession(ctx, req.SessionHint)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Debug("session hint not found", "session_id", req.SessionHint)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading hinted session: %w", err)
	}

	p := req.Persona
	if sess.UserID != req.UserID ||
		sess.CustomerPersonaID != p.CustomerPersonaID ||
		sess.AdvisorPersonaID != p.AdvisorPersonaID {
		r.logger.Debug("ignoring session hint for a different user or persona",
			"session_id", req.SessionHint,
			"persona_key", p.Key(),
		)
		return nil, nil
	}

	r.touch(ctx, sess.ID)
	return &Resolution{
		SessionID:    sess.ID,
		UserType:     p.UserType,
		PersonaFound: found,
	}, nil
}

func (r *StoreResolver) getOrCreate(ctx context.Context, userID string, p persona.Metadata, found bool) (*Resolution, error) {
	res := &Resolution{UserType: p.UserType, PersonaFound: found}

	sess, err := r.sessions.GetSessionByKey(ctx, userID, p.CustomerPersonaID, p.AdvisorPersonaID)
	if err == nil {
		r.touch(ctx, sess.ID)
		res.SessionID = sess.ID
		return res, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	now := r.now()
	sess = &store.Session{
		ID:                uuid.New().String(),
		UserID:            userID,
		CustomerPersonaID: p.CustomerPersonaID,
		AdvisorPersonaID:  p.AdvisorPersonaID,
		UserType:          string(p.UserType),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = r.sessions.CreateSession(ctx, sess)
	if errors.Is(err, store.ErrDuplicateSession) {
		// Another creator won the race; use its row.
		winner, err := r.sessions.GetSessionByKey(ctx, userID, p.CustomerPersonaID, p.AdvisorPersonaID)
		if err != nil {
			return nil, fmt.Errorf("reading session after duplicate create: %w", err)
		}
		res.SessionID = winner.ID
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	r.logger.Info("session created",
		"session_id", sess.ID,
		"persona_key", p.Key(),
		"user_type", p.UserType,
	)
	res.SessionID = sess.ID
	res.Created = true
	return res, nil
}

func (r *StoreResolver) touch(ctx context.Context, id string) {
	if err := r.sessions.TouchSession(ctx, id, r.now()); err != nil {
		r.logger.Warn("failed to touch session", "session_id", id, "error", err)
	}
}
