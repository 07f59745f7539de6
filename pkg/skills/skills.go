package skills

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a skill does not exist.
var ErrNotFound = errors.New("skill not found")

const (
	skillFile      = "SKILL.md"
	builtinCreator = "skill-creator"
)

const defaultSkillCreator = `---
name: skill-creator
description: Create a new skill directory with a SKILL.md describing when and how to use it.
---
# Skill Creator

Use this skill when the user asks to capture a repeatable workflow as a skill.

1. Pick a short kebab-case id and create skills/<id>/SKILL.md with the write tool.
2. Start the file with YAML frontmatter holding name and description.
3. Describe when the skill applies, then the steps, then any commands it relies on.
`

// Meta is the catalogue entry for a skill.
type Meta struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Detail is a skill with its body.
type Detail struct {
	Meta
	Body string `json:"body"`
}

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Store is a filesystem-backed skill catalogue.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// EnsureLayout creates the skills dir and seeds the built-in skill-creator.
func (s *Store) EnsureLayout() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create skills dir: %w", err)
	}

	creatorDir := filepath.Join(s.dir, builtinCreator)
	if _, err := os.Stat(creatorDir); err == nil {
		return nil
	}
	if err := os.MkdirAll(creatorDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", creatorDir, err)
	}
	if err := os.WriteFile(filepath.Join(creatorDir, skillFile), []byte(defaultSkillCreator), 0o644); err != nil {
		return fmt.Errorf("failed to seed %s: %w", builtinCreator, err)
	}

	log.Info().Str("skill_id", builtinCreator).Msg("Seeded built-in skill")
	return nil
}

// List returns every skill sorted by id.
func (s *Store) List() ([]Meta, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Meta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read skills dir: %w", err)
	}

	skills := make([]Meta, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		data, err := os.ReadFile(filepath.Join(s.dir, id, skillFile))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("skill_id", id).Msg("Failed to read SKILL.md, skipping")
			continue
		}

		meta, _ := parse(id, string(data))
		skills = append(skills, meta)
	}

	sort.Slice(skills, func(i, j int) bool { return skills[i].ID < skills[j].ID })
	return skills, nil
}

// Get returns a skill with its body.
func (s *Store) Get(id string) (*Detail, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return nil, fmt.Errorf("skill '%s' not found: %w", id, ErrNotFound)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, id, skillFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("skill '%s' not found: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read skill '%s': %w", id, err)
	}

	meta, body := parse(id, string(data))
	return &Detail{Meta: meta, Body: body}, nil
}

// parse splits SKILL.md into metadata and body. Content without a closed
// frontmatter block is all body. Malformed YAML leaves name and description
// at their defaults.
func parse(id, content string) (Meta, string) {
	meta := Meta{ID: id, Name: id}

	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	rest, ok := strings.CutPrefix(normalized, "---\n")
	if !ok {
		return meta, content
	}

	var header, body string
	if idx := strings.Index(rest, "\n---\n"); idx >= 0 {
		header, body = rest[:idx], strings.TrimLeft(rest[idx+5:], " \t\n")
	} else if strings.HasSuffix(rest, "\n---") {
		header, body = strings.TrimSuffix(rest, "\n---"), ""
	} else {
		return meta, content
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		log.Debug().Err(err).Str("skill_id", id).Msg("Invalid skill frontmatter")
		return meta, body
	}
	if name := strings.TrimSpace(fm.Name); name != "" {
		meta.Name = name
	}
	meta.Description = strings.TrimSpace(fm.Description)
	return meta, body
}
