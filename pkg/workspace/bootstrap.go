package workspace

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

//go:embed templates/*.md
var templates embed.FS

// SessionsDir is the session data directory relative to the working dir.
const SessionsDir = "data/sessions"

// BootstrapConfig locates the directories Bootstrap prepares.
type BootstrapConfig struct {
	PersonalityDir string
	WorkingDir     string
}

// DefaultPersonality returns the embedded default content for a personality file.
func DefaultPersonality(name string) (string, error) {
	data, err := templates.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("no default template for %s: %w", name, err)
	}
	return string(data), nil
}

// Bootstrap creates the personality and session directories and writes the
// default personality files that are missing. It returns how many files it
// created.
func Bootstrap(cfg BootstrapConfig) (int, error) {
	if cfg.PersonalityDir == "" {
		return 0, fmt.Errorf("personality dir is required")
	}
	if cfg.WorkingDir == "" {
		return 0, fmt.Errorf("working dir is required")
	}

	if err := os.MkdirAll(cfg.PersonalityDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create personality dir: %w", err)
	}

	created := 0
	for _, name := range PersonalityFiles {
		path := filepath.Join(cfg.PersonalityDir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return created, fmt.Errorf("failed to stat %s: %w", path, err)
		}

		content, err := DefaultPersonality(name)
		if err != nil {
			return created, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return created, fmt.Errorf("failed to write %s: %w", path, err)
		}
		created++
	}

	if created > 0 {
		log.Info().
			Int("created_files", created).
			Str("personality_dir", cfg.PersonalityDir).
			Msg("Bootstrapped default personality files")
	}

	sessionsDir := filepath.Join(cfg.WorkingDir, SessionsDir)
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return created, fmt.Errorf("failed to create sessions dir: %w", err)
	}
	log.Debug().Str("sessions_dir", sessionsDir).Msg("Ensured sessions directory")

	return created, nil
}
