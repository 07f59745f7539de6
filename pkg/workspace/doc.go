// Package workspace manages the on-disk personality files that shape the
// agent's system prompt.
//
// The personality directory holds up to four Markdown files which are read in
// a fixed order: SOUL.md, IDENTITY.md, USER.md, AGENTS.md. Missing files are
// skipped. Bootstrap seeds any missing file from embedded defaults and also
// creates the session data directory under the working dir.
//
// Invariants:
//   - Bootstrap never overwrites an existing personality file.
//   - PersonalityLoader output is deterministic for a given directory state.
//   - Watcher callbacks fire once per debounced burst of writes to a path.
//
// Usage:
//
//	created, err := workspace.Bootstrap(workspace.BootstrapConfig{
//		PersonalityDir: cfg.Paths.PersonalityDir,
//		WorkingDir:     cfg.Paths.WorkingDir,
//	})
//
//	loader := workspace.NewPersonalityLoader(cfg.Paths.PersonalityDir)
//	prompt, err := loader.SystemPrompt(ctx)
package workspace
