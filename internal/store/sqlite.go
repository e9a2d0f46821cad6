// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides persona, session, and transcript persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed-width so stored timestamps sort lexically
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each connection to :memory: is a separate database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// dsn applies per-connection pragmas to every pooled connection
func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS personas (
			kind         TEXT NOT NULL,
			persona_id   TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL,

			PRIMARY KEY (kind, persona_id),
			CHECK (kind IN ('customer', 'advisor'))
		);

		CREATE TABLE IF NOT EXISTS sessions (
			session_id          TEXT PRIMARY KEY,
			user_id             TEXT NOT NULL,
			customer_persona_id TEXT NOT NULL DEFAULT '',
			advisor_persona_id  TEXT NOT NULL DEFAULT '',
			user_type           TEXT NOT NULL,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_persona_key
			ON sessions(user_id, customer_persona_id, advisor_persona_id);

		CREATE TABLE IF NOT EXISTS messages (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id    TEXT NOT NULL UNIQUE,
			session_id    TEXT NOT NULL,
			role          TEXT NOT NULL,
			content       TEXT NOT NULL,
			metadata_json TEXT,
			created_at    TEXT NOT NULL,

			CHECK (role IN ('user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
			ON messages(session_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks that the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertPersona inserts a persona or updates its display name
func (s *SQLiteStore) UpsertPersona(ctx context.Context, p *Persona) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO personas (kind, persona_id, display_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, persona_id) DO UPDATE SET display_name = excluded.display_name
	`
	_, err := s.db.ExecContext(ctx, query, string(p.Kind), p.ID, p.DisplayName, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("upserting persona: %w", err)
	}
	return nil
}

// GetPersona retrieves a persona from the given directory
func (s *SQLiteStore) GetPersona(ctx context.Context, kind PersonaKind, id string) (*Persona, error) {
	query := `
		SELECT kind, persona_id, display_name, created_at
		FROM personas
		WHERE kind = ? AND persona_id = ?
	`

	p, err := scanPersona(s.db.QueryRowContext(ctx, query, string(kind), id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying persona: %w", err)
	}
	return p, nil
}

// ListPersonas lists all personas of a kind ordered by ID
func (s *SQLiteStore) ListPersonas(ctx context.Context, kind PersonaKind) ([]*Persona, error) {
	query := `
		SELECT kind, persona_id, display_name, created_at
		FROM personas
		WHERE kind = ?
		ORDER BY persona_id
	`

	rows, err := s.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying personas: %w", err)
	}
	defer rows.Close()

	var personas []*Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning persona: %w", err)
		}
		personas = append(personas, p)
	}
	return personas, rows.Err()
}

// CreateSession inserts a new session.
// Returns ErrDuplicateSession if the id or the user+persona key is taken.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	query := `
		INSERT INTO sessions (session_id, user_id, customer_persona_id, advisor_persona_id, user_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID,
		sess.UserID,
		sess.CustomerPersonaID,
		sess.AdvisorPersonaID,
		sess.UserType,
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT session_id, user_id, customer_persona_id, advisor_persona_id, user_type, created_at, updated_at
		FROM sessions
		WHERE session_id = ?
	`
	return s.querySession(ctx, query, id)
}

// GetSessionByKey retrieves the session for a user and persona combination
func (s *SQLiteStore) GetSessionByKey(ctx context.Context, userID, customerPersonaID, advisorPersonaID string) (*Session, error) {
	query := `
		SELECT session_id, user_id, customer_persona_id, advisor_persona_id, user_type, created_at, updated_at
		FROM sessions
		WHERE user_id = ? AND customer_persona_id = ? AND advisor_persona_id = ?
	`
	return s.querySession(ctx, query, userID, customerPersonaID, advisorPersonaID)
}

func (s *SQLiteStore) querySession(ctx context.Context, query string, args ...any) (*Session, error) {
	var sess Session
	var createdAtStr, updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&sess.ID,
		&sess.UserID,
		&sess.CustomerPersonaID,
		&sess.AdvisorPersonaID,
		&sess.UserType,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if sess.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAtStr); err != nil {
		return nil, err
	}
	return &sess, nil
}

// TouchSession bumps a session's updated_at
func (s *SQLiteStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE session_id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveMessage appends a message to a session transcript
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	var metadataJSON sql.NullString
	if len(msg.Metadata) > 0 {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encoding message metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO messages (message_id, session_id, role, content, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SessionID,
		msg.Role,
		msg.Content,
		metadataJSON,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetSessionMessages returns the most recent limit messages of a session in chronological order.
// A limit of zero or less returns the full transcript.
func (s *SQLiteStore) GetSessionMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT message_id, session_id, role, content, metadata_json, created_at FROM (
			SELECT seq, message_id, session_id, role, content, metadata_json, created_at
			FROM messages
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var metadataJSON sql.NullString
		var createdAtStr string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &metadataJSON, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decoding message metadata: %w", err)
			}
		}
		if msg.CreatedAt, err = parseTime(createdAtStr); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersona(row rowScanner) (*Persona, error) {
	var p Persona
	var kind, createdAtStr string
	if err := row.Scan(&kind, &p.ID, &p.DisplayName, &createdAtStr); err != nil {
		return nil, err
	}
	p.Kind = PersonaKind(kind)

	var err error
	if p.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return nil, err
	}
	return &p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// isConstraintViolation checks if an error is a SQLite UNIQUE or PRIMARY KEY violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}
