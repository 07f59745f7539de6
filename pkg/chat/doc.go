// Package chat is the application service behind every chat entry point
// (HTTP SSE, WebSocket, CLI and channel connectors).
//
// A run resolves its session, emits a session event, takes one runner
// snapshot from the RunnerSource and drives it. The session is persisted even
// when the run fails so the user message is never lost.
//
// Invariants:
//   - EventSession is always the first event of a run.
//   - A requested but unknown session id is created under that id.
//   - A channel conversation maps to exactly one session via its
//     "<channel>:<conversation>:<user>" key.
//   - Tool arguments are redacted before they reach the audit log.
package chat
