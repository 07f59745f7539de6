// Package memory stores the agent's long-term notes as plain markdown files.
//
// Layout:
// - A curated file (MEMORY.md) holding hand-maintained facts.
// - A directory of daily logs named YYYY-MM-DD.md (UTC), one bullet per turn.
//
// Search is a case-insensitive line scan over the curated file followed by
// every file under the memory directory.
//
// Usage:
//
//	store := memory.New(memory.Config{Dir: "/ws/memory", CuratedFile: "/ws/MEMORY.md"})
//	_ = store.EnsureLayout(ctx)
//	hits, _ := store.Search(ctx, "deploy")
package memory
