package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/MinchaoZhu/chaos-bot/internal/config"
	"github.com/MinchaoZhu/chaos-bot/pkg/workspace"
	"github.com/rs/zerolog"
)

// startWatchers watches agent.json and the personality directory. Paths
// are bound at startup; moving personality_dir needs a restart.
func startWatchers(rt *ConfigRuntime, log zerolog.Logger) ([]*workspace.Watcher, error) {
	configWatcher, err := workspace.NewWatcher(workspace.WatcherConfig{
		Dir:   filepath.Dir(rt.Path()),
		Names: []string{filepath.Base(rt.Path())},
		OnChange: func(path string) {
			reloadFromFile(rt, log)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	personalityWatcher, err := workspace.NewWatcher(workspace.WatcherConfig{
		Dir:   rt.App().PersonalityDir,
		Names: workspace.PersonalityFiles,
		OnChange: func(path string) {
			rt.InvalidatePersonality()
			log.Info().Str("file", filepath.Base(path)).Msg("Personality changed, prompt cache invalidated")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create personality watcher: %w", err)
	}

	watchers := []*workspace.Watcher{configWatcher, personalityWatcher}
	for i, w := range watchers {
		if err := w.Start(); err != nil {
			for _, started := range watchers[:i] {
				started.Stop()
			}
			return nil, err
		}
	}
	return watchers, nil
}

func reloadFromFile(rt *ConfigRuntime, log zerolog.Logger) {
	before := rt.Version()
	if err := rt.Reload(context.Background()); err != nil {
		if errors.Is(err, config.ErrInvalid) {
			log.Warn().Err(err).Msg("Ignoring invalid agent.json edit; running config unchanged")
			return
		}
		log.Error().Err(err).Msg("Config reload failed")
		return
	}
	if rt.Version() != before {
		log.Info().Uint64("version", rt.Version()).Msg("Config reloaded from file")
	}
}
