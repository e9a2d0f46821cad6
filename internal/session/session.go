// ABOUTME: Session resolution contract shared by the gateway and its backing stores
// ABOUTME: Maps a user plus persona metadata to exactly one conversation session

package session

import (
	"context"
	"errors"
	"time"

	"github.com/2389/persona-gateway/internal/persona"
	"github.com/2389/persona-gateway/internal/store"
)

// ErrAdvisorNotFound is returned when an advisor-only request names a persona
// that is not in the advisor directory. Clients must discard their stale state.
var ErrAdvisorNotFound = errors.New("advisor persona not found")

// ErrMissingUser is returned when a request carries no user identity.
var ErrMissingUser = errors.New("user id is required")

// Request is the input to Resolve.
type Request struct {
	UserID string

	// Persona must already be normalized.
	Persona persona.Metadata

	// SessionHint is the sessionId supplied by the client, if any.
	SessionHint string
}

// Resolution identifies the session a request belongs to.
type Resolution struct {
	SessionID string
	UserType  persona.UserType

	// PersonaFound is false when the request named no persona or a customer
	// persona missing from the directory.
	PersonaFound bool

	// Created is true when this resolution created the session.
	Created bool
}

// Resolver maps a request to its conversation session.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (*Resolution, error)
}

// Store is the session persistence a resolver needs.
// Both store.SQLiteStore and RedisStore satisfy it.
type Store interface {
	CreateSession(ctx context.Context, s *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	GetSessionByKey(ctx context.Context, userID, customerPersonaID, advisorPersonaID string) (*store.Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
}

// Directory looks up personas to classify directory misses.
type Directory interface {
	GetPersona(ctx context.Context, kind store.PersonaKind, id string) (*store.Persona, error)
}
