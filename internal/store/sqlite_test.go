// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers persona directory, session uniqueness, and message ordering/limiting

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestSession(t *testing.T, s Store, id, userID, customer, advisor string) *Session {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	sess := &Session{
		ID:                id,
		UserID:            userID,
		CustomerPersonaID: customer,
		AdvisorPersonaID:  advisor,
		UserType:          "customer",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return sess
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	createTestSession(t, store, "s1", "u1", "c1", "")
}

func TestUpsertAndGetPersona(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := &Persona{ID: "c-42", Kind: PersonaKindCustomer, DisplayName: "Retail saver"}
	if err := store.UpsertPersona(ctx, p); err != nil {
		t.Fatalf("UpsertPersona failed: %v", err)
	}

	got, err := store.GetPersona(ctx, PersonaKindCustomer, "c-42")
	if err != nil {
		t.Fatalf("GetPersona failed: %v", err)
	}
	if got.DisplayName != "Retail saver" {
		t.Errorf("DisplayName mismatch: got %q", got.DisplayName)
	}

	// Same ID in the other directory is a different persona
	if _, err := store.GetPersona(ctx, PersonaKindAdvisor, "c-42"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for advisor lookup, got %v", err)
	}

	// Upsert updates the display name and keeps created_at
	created := got.CreatedAt
	if err := store.UpsertPersona(ctx, &Persona{ID: "c-42", Kind: PersonaKindCustomer, DisplayName: "Renamed"}); err != nil {
		t.Fatalf("UpsertPersona (update) failed: %v", err)
	}
	got, err = store.GetPersona(ctx, PersonaKindCustomer, "c-42")
	if err != nil {
		t.Fatalf("GetPersona failed: %v", err)
	}
	if got.DisplayName != "Renamed" {
		t.Errorf("DisplayName not updated: got %q", got.DisplayName)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed on update: got %v, want %v", got.CreatedAt, created)
	}
}

func TestListPersonas(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		if err := store.UpsertPersona(ctx, &Persona{ID: id, Kind: PersonaKindAdvisor}); err != nil {
			t.Fatalf("UpsertPersona failed: %v", err)
		}
	}
	if err := store.UpsertPersona(ctx, &Persona{ID: "x", Kind: PersonaKindCustomer}); err != nil {
		t.Fatalf("UpsertPersona failed: %v", err)
	}

	advisors, err := store.ListPersonas(ctx, PersonaKindAdvisor)
	if err != nil {
		t.Fatalf("ListPersonas failed: %v", err)
	}
	if len(advisors) != 3 {
		t.Fatalf("expected 3 advisors, got %d", len(advisors))
	}
	for i, want := range []string{"a", "b", "c"} {
		if advisors[i].ID != want {
			t.Errorf("advisor %d: got %q, want %q", i, advisors[i].ID, want)
		}
	}
}

func TestCreateAndGetSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := createTestSession(t, store, "sess-1", "user-1", "cust-1", "")

	got, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.UserID != sess.UserID || got.CustomerPersonaID != "cust-1" || got.AdvisorPersonaID != "" {
		t.Errorf("session mismatch: got %+v", got)
	}
	if !got.CreatedAt.Equal(sess.CreatedAt) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, sess.CreatedAt)
	}

	byKey, err := store.GetSessionByKey(ctx, "user-1", "cust-1", "")
	if err != nil {
		t.Fatalf("GetSessionByKey failed: %v", err)
	}
	if byKey.ID != "sess-1" {
		t.Errorf("GetSessionByKey returned %q", byKey.ID)
	}

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetSessionByKey(ctx, "user-1", "cust-2", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other persona, got %v", err)
	}
}

func TestCreateSession_DuplicateKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createTestSession(t, store, "sess-1", "user-1", "cust-1", "")

	dup := &Session{
		ID:                "sess-2",
		UserID:            "user-1",
		CustomerPersonaID: "cust-1",
		UserType:          "customer",
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	if err := store.CreateSession(ctx, dup); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("expected ErrDuplicateSession, got %v", err)
	}

	// Different persona for the same user is a separate session
	createTestSession(t, store, "sess-3", "user-1", "", "adv-1")
	createTestSession(t, store, "sess-4", "user-2", "cust-1", "")
}

func TestCreateSession_ConcurrentSameKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			errs[i] = store.CreateSession(ctx, &Session{
				ID:                fmt.Sprintf("sess-%d", i),
				UserID:            "user-1",
				CustomerPersonaID: "cust-1",
				UserType:          "customer",
				CreatedAt:         time.Now(),
				UpdatedAt:         time.Now(),
			})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		}
	}
	if created != 1 {
		t.Errorf("expected exactly one session created, got %d (errors: %v)", created, errs)
	}
}

func TestTouchSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createTestSession(t, store, "sess-1", "user-1", "cust-1", "")
	later := time.Now().UTC().Add(time.Hour).Truncate(time.Second)

	if err := store.TouchSession(ctx, "sess-1", later); err != nil {
		t.Fatalf("TouchSession failed: %v", err)
	}
	got, err := store.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt: got %v, want %v", got.UpdatedAt, later)
	}

	if err := store.TouchSession(ctx, "missing", later); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndGetMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createTestSession(t, store, "sess-1", "user-1", "cust-1", "")
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msg := &Message{
			ID:        fmt.Sprintf("msg-%d", i),
			SessionID: "sess-1",
			Role:      role,
			Content:   fmt.Sprintf("content %d", i),
			CreatedAt: base, // identical timestamps; insertion order must still hold
		}
		if i == 1 {
			msg.Metadata = map[string]any{"sources": []any{"doc-a"}}
		}
		if err := store.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	all, err := store.GetSessionMessages(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("GetSessionMessages failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(all))
	}
	for i, msg := range all {
		if msg.ID != fmt.Sprintf("msg-%d", i) {
			t.Errorf("message %d out of order: %q", i, msg.ID)
		}
	}
	sources, ok := all[1].Metadata["sources"].([]any)
	if !ok || len(sources) != 1 || sources[0] != "doc-a" {
		t.Errorf("metadata not round-tripped: %#v", all[1].Metadata)
	}
	if all[0].Metadata != nil {
		t.Errorf("expected nil metadata, got %#v", all[0].Metadata)
	}

	last, err := store.GetSessionMessages(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("GetSessionMessages (limit) failed: %v", err)
	}
	if len(last) != 2 || last[0].ID != "msg-3" || last[1].ID != "msg-4" {
		t.Errorf("expected last two messages in order, got %v", messageIDs(last))
	}
}

func TestSaveMessage_InvalidRole(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveMessage(context.Background(), &Message{
		ID:        "msg-1",
		SessionID: "sess-1",
		Role:      "system",
		Content:   "hi",
		CreatedAt: time.Now(),
	})
	if err == nil {
		t.Error("expected check constraint error for unknown role")
	}
}

func TestIsConstraintViolation(t *testing.T) {
	if isConstraintViolation(nil) {
		t.Error("nil is not a violation")
	}
	if !isConstraintViolation(errors.New("UNIQUE constraint failed: sessions.user_id")) {
		t.Error("expected UNIQUE violation to be detected")
	}
	if isConstraintViolation(errors.New("database is locked")) {
		t.Error("unexpected violation")
	}
}

func messageIDs(msgs []*Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}
