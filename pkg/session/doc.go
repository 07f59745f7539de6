// Package session stores conversation state between agent runs.
//
// Invariants:
// - Message history only grows while a run is in progress; trimming for the
//   model's context happens on a copy, never on State.Messages.
// - Stores hand out copies; callers persist changes with Upsert.
// - List is ordered by UpdatedAt, newest first.
//
// Usage:
//
//	store := session.NewMemoryStore()
//	s, _ := store.Create(ctx)
//	s.PushMessage(llm.UserMessage("hello"))
//	_ = store.Upsert(ctx, s)
package session
