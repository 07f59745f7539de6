// Package coretools implements the built-in tools: file access confined to a
// root directory, an allow-listed shell, and memory lookups.
//
// Read-side tools (read, grep, find, ls) resolve paths against the root,
// require the target to exist and reject anything whose canonical form lies
// outside the root. Write-side tools (write, edit) resolve against the root
// but are not confined: a symlink inside the root that points elsewhere is
// followed. Callers that need strict confinement for writes must add it.
package coretools
