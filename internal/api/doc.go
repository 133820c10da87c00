// Package api provides the JSON REST API and SSE streaming server for
// Parley.
//
// # Architecture
//
// The server uses Go 1.22+ routing with a layered middleware stack:
//
//	Recovery → RequestID → Logging → CORS → RateLimit → Routes
//
// Authentication is applied per route (bearer access token); the auth
// endpoints themselves and the health probes are unauthenticated.
// Health probes (/health, /ready) bypass the middleware stack via a
// top-level mux so they remain fast during overload.
//
// # Endpoints
//
// Health probes (no middleware):
//   - GET /health — returns {"status":"ok"}
//   - GET /ready  — pings the database pool
//
// Auth:
//   - POST /api/auth/register — create account
//   - POST /api/auth/login    — issue access token, set refresh cookie
//   - POST /api/auth/refresh  — exchange refresh cookie for access token
//   - GET  /api/auth/me       — current user
//
// Agents (ownership-enforced where noted):
//   - GET    /api/agents?status=public — list public agents
//   - GET    /api/agents/me            — list caller's agents
//   - POST   /api/agents               — create agent
//   - GET    /api/agents/{agentId}     — agent detail (creator only)
//   - PUT    /api/agents/{agentId}     — update agent (creator only)
//   - DELETE /api/agents/{agentId}     — delete agent (creator only)
//
// Chat:
//   - POST   /api/chat/stream             — SSE chat relay
//   - POST   /api/chat/stream-test        — SSE relay against the
//     simulated provider, driving the agent's debug thread
//   - POST   /api/chat/abort              — cancel an in-flight stream
//   - GET    /api/chat/threads            — caller's threads
//   - GET    /api/chat/message/{threadId} — thread message history
//   - DELETE /api/chat/thread/{threadId}  — delete thread
//
// Thread metadata:
//   - GET /api/threads/{threadId}/agent — display info of the agent
//     version bound to a thread
//
// # Response Envelope
//
// All JSON responses use one envelope:
//
//	{"code": <int>, "message": "...", "data": <payload or null>}
//
// code 0 means success; non-zero codes carry the upstream error class.
//
// # SSE Streaming
//
// Chat responses stream via Server-Sent Events, one event per frame:
//
//	event: <name>
//	data: <json>
//	<blank line>
//
// Event sequence per turn: start, zero or more token events, then
// exactly one terminal event (end or error). Errors discovered after
// headers are committed are sent as SSE error events, never as HTTP
// status codes.
package api
