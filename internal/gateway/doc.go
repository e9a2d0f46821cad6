// Package gateway serves the persona-gateway chat API.
//
// # Overview
//
// The Gateway owns every process-wide component and wires them behind a chi
// router: the rate limiter, the chat and session deduplicators, the SQLite
// store, the optional Redis session backend, the transcript recorder, and
// the answer generator.
//
// # HTTP API
//
//   - POST /api/chat - collected answer as JSON
//   - POST /api/chat/stream - answer streamed as Server-Sent Events
//   - GET /api/sessions/{id}/messages - transcript (?limit=N, ?format=html)
//   - GET /api/sessions/{id}/events - live transcript messages as SSE
//   - GET /health - liveness check
//   - GET /health/ready - store and session backend ping
//
// # Request Pipeline
//
// A chat request moves through these stages:
//
//  1. Rate limiting by caller identity, before the body is read
//  2. Parsing a JSON or multipart/form-data body
//  3. Validating the trimmed message length
//  4. Resolving the persona-scoped session
//  5. Generating, raced against generation.timeout
//  6. Streaming frames, or collecting them for /api/chat
//
// Failures before stage 6 are returned as {"error": code, "message": text}
// with a 400, 401, 404, 429, 500, or 504 status. Every /api/chat response
// carries X-RateLimit-Limit, X-RateLimit-Remaining, and X-RateLimit-Reset;
// a 429 adds Retry-After.
//
// # SSE Streaming
//
// Each frame is a single data line holding JSON with a "type" field:
//
//	data: {"type":"session","sessionId":"..."}
//	data: {"type":"state","stateType":"searching","message":"Searching","progress":10}
//	data: {"type":"metadata","sessionId":"...","sources":[],"toolsUsed":[]}
//	data: {"type":"content","content":"Hello "}
//	data: [DONE]
//
// A failure after the stream has started is sent as an "error" frame. The
// [DONE] sentinel is always the last frame.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Run returns after cancel(), once the server has shut down within
// server.shutdown_timeout and the store, Redis client, and deduplicators are
// closed.
package gateway
