package workspace

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ChangeCallback is called with the path of a changed file.
type ChangeCallback func(path string)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Dir is watched non-recursively.
	Dir string
	// Names restricts callbacks to these base names. Empty means every file.
	Names []string
	// StabilityThreshold is the debounce window (default 100ms).
	StabilityThreshold time.Duration
	OnChange           ChangeCallback
}

// Watcher reports debounced file changes in a single directory.
type Watcher struct {
	watcher            *fsnotify.Watcher
	dir                string
	names              map[string]struct{}
	stabilityThreshold time.Duration
	onChange           ChangeCallback

	done           chan struct{}
	debounceTimers map[string]*time.Timer
	debounceMu     sync.Mutex
	stopOnce       sync.Once
}

// NewWatcher creates a Watcher. Start must be called to begin watching.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watch dir is required")
	}
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("change callback is required")
	}
	if cfg.StabilityThreshold == 0 {
		cfg.StabilityThreshold = 100 * time.Millisecond
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	names := make(map[string]struct{}, len(cfg.Names))
	for _, n := range cfg.Names {
		names[n] = struct{}{}
	}

	return &Watcher{
		watcher:            fw,
		dir:                cfg.Dir,
		names:              names,
		stabilityThreshold: cfg.StabilityThreshold,
		onChange:           cfg.OnChange,
		done:               make(chan struct{}),
		debounceTimers:     make(map[string]*time.Timer),
	}, nil
}

// Start begins watching the directory.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	go w.eventLoop()

	log.Debug().Str("path", w.dir).Msg("Watcher started")
	return nil
}

// Stop stops the watcher and cancels pending callbacks. It is idempotent.
func (w *Watcher) Stop() error {
	var closeErr error
	w.stopOnce.Do(func() {
		close(w.done)

		w.debounceMu.Lock()
		for _, timer := range w.debounceTimers {
			timer.Stop()
		}
		clear(w.debounceTimers)
		w.debounceMu.Unlock()

		if err := w.watcher.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close watcher: %w", err)
		}
	})
	return closeErr
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event) {
				continue
			}
			w.debounce(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("path", w.dir).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) debounce(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[path]; exists {
		timer.Stop()
	}

	w.debounceTimers[path] = time.AfterFunc(w.stabilityThreshold, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
			w.onChange(path)
		}
	})
}

func (w *Watcher) shouldIgnore(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return true
	}

	base := filepath.Base(event.Name)
	// editor swap and temp files
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") {
		return true
	}

	if len(w.names) == 0 {
		return false
	}
	_, ok := w.names[base]
	return !ok
}
