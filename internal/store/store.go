// ABOUTME: Store interface and data types for persona-gateway persistence
// ABOUTME: Defines Persona, Session, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when a session already exists for the same id or user+persona key
var ErrDuplicateSession = errors.New("session already exists")

// PersonaKind distinguishes the two persona directories
type PersonaKind string

const (
	PersonaKindCustomer PersonaKind = "customer"
	PersonaKindAdvisor  PersonaKind = "advisor"
)

// Persona is an entry in the customer or advisor directory
type Persona struct {
	ID          string
	Kind        PersonaKind
	DisplayName string
	CreatedAt   time.Time
}

// Session is a conversation scoped to one user and one persona combination.
// Empty persona IDs are stored as empty strings so the uniqueness key is total.
type Session struct {
	ID                string
	UserID            string
	CustomerPersonaID string
	AdvisorPersonaID  string
	UserType          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one transcript entry within a session
type Message struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	Metadata  map[string]any // sources, tools used, attachments
	CreatedAt time.Time
}

// Store defines the interface for persona directory, session, and transcript persistence
type Store interface {
	// Persona directory
	UpsertPersona(ctx context.Context, p *Persona) error
	GetPersona(ctx context.Context, kind PersonaKind, id string) (*Persona, error)
	ListPersonas(ctx context.Context, kind PersonaKind) ([]*Persona, error)

	// Sessions
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetSessionByKey(ctx context.Context, userID, customerPersonaID, advisorPersonaID string) (*Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error

	// Transcript
	SaveMessage(ctx context.Context, msg *Message) error
	GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)

	// Ping checks the database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
