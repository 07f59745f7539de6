package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MinchaoZhu/chaos-bot/internal/observability"
	"github.com/MinchaoZhu/chaos-bot/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// CuratedFileName is the relative name that GetFile maps to the curated file.
const CuratedFileName = "MEMORY.md"

const defaultCurated = "# Long-Term Memory\n"

// Hit is one matching line.
type Hit struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
}

// Config configures a Store.
type Config struct {
	Dir         string
	CuratedFile string
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Store is a file-backed memory.
type Store struct {
	dir         string
	curatedFile string
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates a Store. Nothing is touched on disk until EnsureLayout.
func New(cfg Config) *Store {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		dir:         cfg.Dir,
		curatedFile: cfg.CuratedFile,
		logger:      cfg.Logger.With().Str("component", "memory").Logger(),
		now:         now,
	}
}

// Dir returns the daily log directory.
func (s *Store) Dir() string { return s.dir }

// CuratedFile returns the curated file path.
func (s *Store) CuratedFile() string { return s.curatedFile }

// EnsureLayout creates the memory directory and seeds the curated file.
func (s *Store) EnsureLayout(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}
	if _, err := os.Stat(s.curatedFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(s.curatedFile), 0o755); err != nil {
			return fmt.Errorf("failed to create curated memory directory: %w", err)
		}
		if err := os.WriteFile(s.curatedFile, []byte(defaultCurated), 0o644); err != nil {
			return fmt.Errorf("failed to seed curated memory: %w", err)
		}
	}
	return nil
}

// ReadCurated returns the curated file content.
func (s *Store) ReadCurated(ctx context.Context) (string, error) {
	if err := s.EnsureLayout(ctx); err != nil {
		return "", err
	}
	data, err := os.ReadFile(s.curatedFile)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteCurated replaces the curated file content.
func (s *Store) WriteCurated(ctx context.Context, content string) error {
	if err := s.EnsureLayout(ctx); err != nil {
		return err
	}
	return os.WriteFile(s.curatedFile, []byte(content), 0o644)
}

// AppendDailyLog appends "- <summary>" to today's log and returns its path.
func (s *Store) AppendDailyLog(ctx context.Context, summary string) (string, error) {
	if err := s.EnsureLayout(ctx); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, s.now().UTC().Format("2006-01-02")+".md")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to open daily log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("- " + strings.TrimSpace(summary) + "\n"); err != nil {
		return "", fmt.Errorf("failed to append daily log: %w", err)
	}
	return path, nil
}

// GetFile reads MEMORY.md or a file under the memory directory. The line
// window is applied only when both bounds are given.
func (s *Store) GetFile(ctx context.Context, relPath string, start, end *int) (string, error) {
	path := filepath.Join(s.dir, relPath)
	if relPath == CuratedFileName {
		path = s.curatedFile
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("memory file not found: %s", relPath)
	}
	if err != nil {
		return "", err
	}
	content := string(data)

	if start == nil || end == nil {
		return content, nil
	}
	lines := splitLines(content)
	from := max(*start-1, 0)
	to := min(*end, len(lines))
	if from >= to {
		return "", nil
	}
	return strings.Join(lines[from:to], "\n"), nil
}

// Search returns every line containing keyword, case-insensitively.
func (s *Store) Search(ctx context.Context, keyword string) ([]Hit, error) {
	ctx, span := tracing.StartSpan(ctx, "chaos.memory", "memory.search", attribute.Int("keyword_len", len(keyword)))
	defer span.End()

	if err := s.EnsureLayout(ctx); err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(keyword))
	if needle == "" {
		return nil, nil
	}

	started := time.Now()
	files := s.files(ctx)

	var hits []Hit
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		for i, line := range splitLines(string(data)) {
			if strings.Contains(strings.ToLower(line), needle) {
				hits = append(hits, Hit{Path: path, Line: i + 1, Snippet: line})
			}
		}
	}

	observability.RecordMemorySearch(time.Since(started), len(files))
	log := tracing.LoggerFromContext(ctx, s.logger)
	log.Debug().
		Int("files", len(files)).
		Int("hits", len(hits)).
		Msg("Memory search completed")

	return hits, nil
}

// files lists the curated file first, then the memory directory in walk order.
func (s *Store) files(ctx context.Context) []string {
	var files []string
	if info, err := os.Stat(s.curatedFile); err == nil && !info.IsDir() {
		files = append(files, s.curatedFile)
	}
	_ = filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	return files
}

// splitLines splits on "\n", dropping a trailing "\r" per line and the empty
// element after a final newline.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
