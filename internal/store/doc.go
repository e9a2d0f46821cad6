// Package store provides persistent storage for the gateway using SQLite.
//
// # Data Models
//
//   - Persona: Entry in the customer or advisor directory
//   - Session: Conversation keyed by (user, customer persona, advisor persona)
//   - Message: Transcript entry with role user or assistant
//
// The sessions table carries a unique index over the persona key, so two
// concurrent creators for the same key cannot both succeed. The loser gets
// ErrDuplicateSession and should re-read the winning row.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Database file locations:
//
//   - Production: /var/lib/persona-gateway/gateway.db
//   - Development: ~/.local/share/persona-gateway/gateway.db
//   - Testing: :memory: (in-memory database)
//
// # Error Handling
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateSession: Session id or persona key already taken
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	store := store.NewMockStore()
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
package store
