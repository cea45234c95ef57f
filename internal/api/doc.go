// Package api implements the HTTP status API and WebSocket event stream for
// an mqttsession process.
//
// This package provides:
//   - REST endpoints to inspect the session, add subscriptions and publish
//   - Journal queries over the SQLite session_events table (when enabled)
//   - WebSocket hub broadcasting live session events
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/session
//	POST /api/v1/session/subscriptions   {"topic": "a/b"}
//	POST /api/v1/session/publish         {"topic": "a/b", "payload": "on"}
//	GET  /api/v1/journal?kind=&client_id=&topic=&limit=&offset=
//	GET  /api/v1/ws
//
// # Event Stream
//
// WebSocket clients send {"type":"subscribe","payload":{"channels":[...]}}.
// Channels are "session.<event kind>" (for example "session.connected") or
// "session.*" for every event.
//
// # Graceful Degradation
//
// The journal endpoint answers 404 when the journal is disabled; everything
// else works without it.
package api
