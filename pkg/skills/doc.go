// Package skills exposes a read-only catalogue of skill documents.
//
// Each skill lives in its own directory under the skills dir as SKILL.md, with
// an optional YAML frontmatter block carrying name and description:
//
//	---
//	name: Skill Creator
//	description: Guides writing new skills
//	---
//	Body text...
//
// Invariants:
//   - List is sorted by id; directories without SKILL.md are skipped.
//   - A missing name defaults to the directory id.
//   - Get on an unknown or malformed id wraps ErrNotFound.
package skills
