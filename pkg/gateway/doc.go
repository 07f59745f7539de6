// Package gateway exposes the chat agent over HTTP and WebSocket.
//
// Routes are registered on a net/http ServeMux:
//
//	GET    /api/health
//	POST   /api/chat               server-sent events
//	POST   /api/sessions           GET /api/sessions
//	GET    /api/sessions/{id}      DELETE /api/sessions/{id}
//	GET    /api/config             POST /api/config/{reset,apply,restart}
//	GET    /api/skills             GET /api/skills/{id}
//	GET    /api/clients
//	GET    /ws                     WebSocket chat
//	GET    /metrics
//
// Chat streams emit "session", "delta", "tool_call" and then exactly one of
// "done" or "error". SSE delta data is the raw text; every other payload is
// JSON. WebSocket clients receive the same events wrapped in an Envelope.
//
// Failed requests answer with an APIError body {code, message}.
package gateway
