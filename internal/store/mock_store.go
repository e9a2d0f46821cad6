// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	personas   map[string]*Persona   // keyed by "kind:id"
	sessions   map[string]*Session   // keyed by session ID
	sessionKey map[string]string     // keyed by "user\x00customer\x00advisor" -> session ID
	messages   map[string][]*Message // keyed by session ID

	// PingErr, when set, is returned from Ping.
	PingErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		personas:   make(map[string]*Persona),
		sessions:   make(map[string]*Session),
		sessionKey: make(map[string]string),
		messages:   make(map[string][]*Message),
	}
}

func personaMapKey(kind PersonaKind, id string) string {
	return string(kind) + ":" + id
}

func sessionMapKey(userID, customerPersonaID, advisorPersonaID string) string {
	return userID + "\x00" + customerPersonaID + "\x00" + advisorPersonaID
}

// UpsertPersona stores a persona in memory.
func (m *MockStore) UpsertPersona(ctx context.Context, p *Persona) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	key := personaMapKey(p.Kind, p.ID)
	if existing, ok := m.personas[key]; ok {
		existing.DisplayName = p.DisplayName
		return nil
	}
	cp := *p
	m.personas[key] = &cp
	return nil
}

// GetPersona retrieves a persona by kind and ID.
func (m *MockStore) GetPersona(ctx context.Context, kind PersonaKind, id string) (*Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.personas[personaMapKey(kind, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ListPersonas lists personas of a kind ordered by ID.
func (m *MockStore) ListPersonas(ctx context.Context, kind PersonaKind) ([]*Persona, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Persona
	for _, p := range m.personas {
		if p.Kind == kind {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// CreateSession stores a session in memory.
func (m *MockStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionMapKey(s.UserID, s.CustomerPersonaID, s.AdvisorPersonaID)
	if _, exists := m.sessions[s.ID]; exists {
		return ErrDuplicateSession
	}
	if _, exists := m.sessionKey[key]; exists {
		return ErrDuplicateSession
	}

	cp := *s
	m.sessions[s.ID] = &cp
	m.sessionKey[key] = s.ID
	return nil
}

// GetSession retrieves a session by ID.
func (m *MockStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// GetSessionByKey retrieves a session by user and persona key.
func (m *MockStore) GetSessionByKey(ctx context.Context, userID, customerPersonaID, advisorPersonaID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.sessionKey[sessionMapKey(userID, customerPersonaID, advisorPersonaID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.sessions[id]
	return &cp, nil
}

// TouchSession updates a session's UpdatedAt.
func (m *MockStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.UpdatedAt = at
	return nil
}

// SaveMessage appends a message to a session.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return errors.New("inserting message: CHECK constraint failed")
	}
	cp := *msg
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], &cp)
	return nil
}

// GetSessionMessages returns the last limit messages of a session in order.
func (m *MockStore) GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	result := make([]*Message, len(msgs))
	for i, msg := range msgs {
		cp := *msg
		result[i] = &cp
	}
	return result, nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
