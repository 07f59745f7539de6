package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MinchaoZhu/chaos-bot/internal/config"
	"github.com/MinchaoZhu/chaos-bot/internal/logger"
	"github.com/MinchaoZhu/chaos-bot/internal/observability"
	"github.com/MinchaoZhu/chaos-bot/pkg/chat"
	"github.com/MinchaoZhu/chaos-bot/pkg/gateway"
	"github.com/rs/zerolog"
)

const restartDelay = 250 * time.Millisecond

// Reload sources recorded in metrics and logs.
const (
	SourceStartup = "startup"
	SourceAPI     = "api"
	SourceFile    = "file"
	SourceReset   = "reset"
)

// snapshot is one immutable configuration generation.
type snapshot struct {
	version uint64
	file    config.FileConfig
	app     config.AppConfig
	parts   *Components
}

// ConfigRuntimeOptions wires a ConfigRuntime.
type ConfigRuntimeOptions struct {
	Loaded  *config.Loaded
	Env     config.EnvSecrets
	Factory AgentFactory
	// Restart is invoked after RequestRestart; nil disables restarts.
	Restart func()
	Logger  zerolog.Logger
}

// ConfigRuntime holds the running configuration and its agent, and applies
// mutations from the API and from edits to agent.json.
type ConfigRuntime struct {
	path    string
	root    string
	env     config.EnvSecrets
	factory AgentFactory
	restart func()
	logger  zerolog.Logger

	mu      sync.Mutex // serializes writers
	lastRaw string     // last content written or read, to skip self-triggered reloads
	current atomic.Pointer[snapshot]
}

// NewConfigRuntime builds the first snapshot from the loaded config.
func NewConfigRuntime(ctx context.Context, opts ConfigRuntimeOptions) (*ConfigRuntime, error) {
	if opts.Loaded == nil {
		return nil, fmt.Errorf("loaded config is required")
	}
	if opts.Factory == nil {
		return nil, fmt.Errorf("agent factory is required")
	}

	r := &ConfigRuntime{
		path:    opts.Loaded.Path,
		root:    filepath.Dir(opts.Loaded.Path),
		env:     opts.Env,
		factory: opts.Factory,
		restart: opts.Restart,
		logger:  opts.Logger.With().Str("component", "config_runtime").Logger(),
		lastRaw: opts.Loaded.Raw,
	}

	if err := opts.Loaded.App.Validate(); err != nil {
		observability.RecordConfigReload(SourceStartup, false)
		return nil, err
	}
	parts, err := r.factory.Build(ctx, opts.Loaded.App)
	if err != nil {
		observability.RecordConfigReload(SourceStartup, false)
		return nil, err
	}

	r.current.Store(&snapshot{
		version: 1,
		file:    opts.Loaded.File,
		app:     opts.Loaded.App,
		parts:   parts,
	})
	observability.RecordConfigReload(SourceStartup, true)
	return r, nil
}

// Path returns the agent.json path.
func (r *ConfigRuntime) Path() string {
	return r.path
}

// Version returns the running snapshot version.
func (r *ConfigRuntime) Version() uint64 {
	return r.current.Load().version
}

// App returns the running resolved configuration.
func (r *ConfigRuntime) App() config.AppConfig {
	return r.current.Load().app
}

// Components returns the running snapshot's components.
func (r *ConfigRuntime) Components() *Components {
	return r.current.Load().parts
}

// CurrentRunner implements chat.RunnerSource.
func (r *ConfigRuntime) CurrentRunner() (chat.Runner, error) {
	snap := r.current.Load()
	if snap == nil || snap.parts == nil || snap.parts.Runner == nil {
		return nil, chat.ErrUnavailable
	}
	return snap.parts.Runner, nil
}

// InvalidatePersonality drops the cached personality of the running snapshot.
func (r *ConfigRuntime) InvalidatePersonality() {
	if parts := r.Components(); parts != nil && parts.Personality != nil {
		parts.Personality.Invalidate()
	}
}

// State describes the running and on-disk configuration with secrets masked.
func (r *ConfigRuntime) State(ctx context.Context) (*gateway.ConfigState, error) {
	snap := r.current.Load()

	state := &gateway.ConfigState{
		Version:      snap.version,
		ConfigPath:   r.path,
		Backup1Path:  config.BackupPath(r.path, 1),
		Backup2Path:  config.BackupPath(r.path, 2),
		ConfigFormat: filepath.Base(r.path),
		Running:      snap.file.Redacted(),
	}

	disk, raw, err := config.ReadFile(r.path)
	if err != nil {
		fallback, mErr := config.Marshal(snap.file.Redacted())
		if mErr != nil {
			return nil, mErr
		}
		state.Disk = snap.file.Redacted()
		state.Raw = fallback
		state.DiskParseError = err.Error()
		return state, nil
	}

	state.Disk = disk.Redacted()
	state.Raw = logger.RedactRawJSON(raw)
	return state, nil
}

// Reset writes the running configuration back to disk, discarding edits made
// to agent.json since the last apply.
func (r *ConfigRuntime) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.current.Load()
	raw, err := config.WriteWithBackups(r.path, snap.file)
	if err != nil {
		return err
	}
	r.lastRaw = raw

	r.logger.Info().Str("config_path", r.path).Uint64("version", snap.version).Msg("Config reset to running snapshot")
	return nil
}

// Apply validates and applies exactly one of raw or file, persisting it to
// agent.json with backups. Errors wrapping config.ErrInvalid are caused by
// the payload.
func (r *ConfigRuntime) Apply(ctx context.Context, raw *string, file *config.FileConfig) error {
	switch {
	case raw != nil && file != nil, raw == nil && file == nil:
		return fmt.Errorf("%w: exactly one of raw/config must be set", config.ErrInvalid)
	case raw != nil:
		parsed, err := config.ParseFileConfig(*raw)
		if err != nil {
			return err
		}
		file = parsed
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.swap(ctx, *file, SourceAPI, true)
}

// Reload re-reads agent.json and applies it when it changed. Content this
// runtime wrote itself is skipped.
func (r *ConfigRuntime) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		observability.RecordConfigReload(SourceFile, false)
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if string(data) == r.lastRaw {
		return nil
	}

	file, raw, err := config.ReadFile(r.path)
	if err != nil {
		observability.RecordConfigReload(SourceFile, false)
		return fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	if err := r.swap(ctx, *file, SourceFile, false); err != nil {
		return err
	}
	r.lastRaw = raw
	return nil
}

// swap builds the next snapshot and publishes it. Callers hold r.mu.
func (r *ConfigRuntime) swap(ctx context.Context, file config.FileConfig, source string, persist bool) error {
	prev := r.current.Load()

	app := config.Resolve(file, r.env, r.root)
	app.ConfigPath = r.path
	if err := app.Validate(); err != nil {
		observability.RecordConfigReload(source, false)
		return err
	}

	parts, err := r.factory.Build(ctx, app)
	if err != nil {
		observability.RecordConfigReload(source, false)
		return err
	}

	if persist {
		raw, err := config.WriteWithBackups(r.path, file)
		if err != nil {
			observability.RecordConfigReload(source, false)
			return err
		}
		r.lastRaw = raw
	}

	next := &snapshot{version: prev.version + 1, file: file, app: app, parts: parts}
	r.current.Store(next)
	observability.RecordConfigReload(source, true)

	event := r.logger.Info().
		Str("source", source).
		Uint64("version", next.version).
		Str("provider", app.Provider).
		Str("model", app.Model)
	if changed := restartOnlyChanges(prev.app, app); len(changed) > 0 {
		event = event.Strs("restart_required", changed)
	}
	event.Msg("Config applied to runtime")
	return nil
}

// RequestRestart schedules a restart when one is configured.
func (r *ConfigRuntime) RequestRestart(ctx context.Context) (bool, error) {
	if r.restart == nil {
		r.logger.Info().Msg("Restart requested but disabled by runtime mode")
		return false, nil
	}

	r.logger.Warn().Msg("Restart requested")
	restart := r.restart
	time.AfterFunc(restartDelay, restart)
	return true, nil
}

// restartOnlyChanges lists settings that only take effect after a restart.
func restartOnlyChanges(prev, next config.AppConfig) []string {
	var changed []string
	if prev.Host != next.Host || prev.Port != next.Port {
		changed = append(changed, "server")
	}
	if prev.SessionBackend != next.SessionBackend || prev.WorkingDir != next.WorkingDir {
		changed = append(changed, "sessions")
	}
	if prev.TelegramEnabled != next.TelegramEnabled ||
		prev.TelegramAPIBaseURL != next.TelegramAPIBaseURL ||
		prev.TelegramBotToken != next.TelegramBotToken {
		changed = append(changed, "channels.telegram")
	}
	if prev.LogLevel != next.LogLevel || prev.LogDir != next.LogDir || prev.LogPretty != next.LogPretty {
		changed = append(changed, "logging")
	}
	if prev.PersonalityDir != next.PersonalityDir {
		changed = append(changed, "paths.personality_dir")
	}
	return changed
}

var (
	_ chat.RunnerSource     = (*ConfigRuntime)(nil)
	_ gateway.ConfigManager = (*ConfigRuntime)(nil)
)
