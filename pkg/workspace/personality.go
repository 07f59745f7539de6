package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// PersonalityFiles lists the personality files in prompt order.
var PersonalityFiles = []string{"SOUL.md", "IDENTITY.md", "USER.md", "AGENTS.md"}

// Section is one loaded personality file.
type Section struct {
	Name    string
	Content string
	Hash    string
}

// PersonalityLoader renders the personality directory into a system prompt.
// Loaded sections are cached until Invalidate is called.
type PersonalityLoader struct {
	dir string

	mu       sync.RWMutex
	sections []Section
	cached   bool
}

// NewPersonalityLoader creates a loader for dir.
func NewPersonalityLoader(dir string) *PersonalityLoader {
	return &PersonalityLoader{dir: dir}
}

// Dir returns the personality directory.
func (l *PersonalityLoader) Dir() string {
	return l.dir
}

// Invalidate drops cached sections so the next call rereads the directory.
func (l *PersonalityLoader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sections = nil
	l.cached = false
}

// Sections returns the present personality files in prompt order.
func (l *PersonalityLoader) Sections(ctx context.Context) ([]Section, error) {
	l.mu.RLock()
	if l.cached {
		sections := append([]Section(nil), l.sections...)
		l.mu.RUnlock()
		return sections, nil
	}
	l.mu.RUnlock()

	sections := make([]Section, 0, len(PersonalityFiles))
	for _, name := range PersonalityFiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}

		sum := sha256.Sum256(data)
		sections = append(sections, Section{
			Name:    name,
			Content: string(data),
			Hash:    hex.EncodeToString(sum[:]),
		})
	}

	l.mu.Lock()
	l.sections = sections
	l.cached = true
	l.mu.Unlock()

	return append([]Section(nil), sections...), nil
}

// SystemPrompt renders each section as "## <name>\n<trimmed content>\n\n".
func (l *PersonalityLoader) SystemPrompt(ctx context.Context) (string, error) {
	sections, err := l.Sections(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "## %s\n%s\n\n", s.Name, strings.TrimSpace(s.Content))
	}
	return b.String(), nil
}
