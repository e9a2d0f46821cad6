// Package session resolves chat requests to persona-isolated conversation sessions.
//
// A session is keyed by (user, customer persona, advisor persona). Requests
// for different personas of the same user never share a session, and a
// client-supplied session id is only honored when it belongs to the same key.
//
// Two Store backends are provided: store.SQLiteStore for single-node
// deployments and RedisStore for replicas sharing one session index.
package session
