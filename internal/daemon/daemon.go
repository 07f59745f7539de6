package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MinchaoZhu/chaos-bot/internal/config"
	"github.com/MinchaoZhu/chaos-bot/internal/logger"
	"github.com/MinchaoZhu/chaos-bot/internal/metrics"
	"github.com/MinchaoZhu/chaos-bot/internal/observability"
	"github.com/MinchaoZhu/chaos-bot/internal/telegram"
	"github.com/MinchaoZhu/chaos-bot/internal/tracing"
	"github.com/MinchaoZhu/chaos-bot/pkg/channels"
	"github.com/MinchaoZhu/chaos-bot/pkg/chat"
	"github.com/MinchaoZhu/chaos-bot/pkg/gateway"
	"github.com/MinchaoZhu/chaos-bot/pkg/session"
	"github.com/MinchaoZhu/chaos-bot/pkg/skills"
	"github.com/MinchaoZhu/chaos-bot/pkg/workspace"
	"github.com/rs/zerolog"
)

const (
	serviceName         = "chaos-bot"
	channelReplyTimeout = 5 * time.Minute
)

// ErrRestart is returned by Wait when a restart was requested through the
// config API. The caller stops this daemon and builds a new one.
var ErrRestart = errors.New("restart requested")

// Options customizes a Daemon.
type Options struct {
	// Listener overrides listening on server.host:server.port.
	Listener net.Listener
	// Factory defaults to DefaultFactory.
	Factory AgentFactory
	// Metrics defaults to a fresh registry.
	Metrics *metrics.Metrics
	Version string
	// DisableRestart makes POST /api/config/restart report restart_scheduled=false.
	DisableRestart bool
	// DisableWatchers skips the agent.json and personality file watchers.
	DisableWatchers bool
}

// Status is a point-in-time view of a running daemon.
type Status struct {
	Running       bool
	PID           int
	StartedAt     time.Time
	Uptime        time.Duration
	Addr          string
	ConfigVersion uint64
	Provider      string
	Model         string
	Channels      []string
	Clients       int
}

// Daemon owns every long-lived component of a chaos-bot process.
type Daemon struct {
	logger   zerolog.Logger
	version  string
	app      config.AppConfig
	listener net.Listener
	watch    bool

	runtime     *ConfigRuntime
	sessions    session.Store
	skills      *skills.Store
	chat        *chat.Service
	channels    *channels.Registry
	gateway     *gateway.Server
	maintenance *Maintenance
	watchers    []*workspace.Watcher
	pid         *PIDFile

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	running   bool
	addr      string
	startedAt time.Time
	serveErr  chan error
	restartCh chan struct{}
}

// New bootstraps the workspace and wires every component. Nothing listens
// until Start.
func New(ctx context.Context, loaded *config.Loaded, log *logger.Logger, opts Options) (*Daemon, error) {
	if loaded == nil {
		return nil, fmt.Errorf("loaded config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts.Factory == nil {
		opts.Factory = DefaultFactory{Logger: log.Component("agent")}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	app := loaded.App
	d := &Daemon{
		logger:    log.Component("daemon"),
		version:   opts.Version,
		app:       app,
		listener:  opts.Listener,
		watch:     !opts.DisableWatchers,
		pid:       NewPIDFile(app.WorkingDir),
		serveErr:  make(chan error, 1),
		restartCh: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	created, err := workspace.Bootstrap(workspace.BootstrapConfig{
		PersonalityDir: app.PersonalityDir,
		WorkingDir:     app.WorkingDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap workspace: %w", err)
	}
	if created > 0 {
		d.logger.Info().Int("created", created).Str("personality_dir", app.PersonalityDir).Msg("Bootstrapped personality files")
	}

	d.skills = skills.NewStore(app.SkillsDir)
	if err := d.skills.EnsureLayout(); err != nil {
		return nil, err
	}

	dataDir := filepath.Join(app.WorkingDir, "data")
	if err := os.MkdirAll(filepath.Join(app.WorkingDir, workspace.SessionsDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	if err := observability.InitAuditLogger(filepath.Join(dataDir, "audit.log")); err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	if err := tracing.Init(serviceName, opts.Version); err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	env, err := config.LoadEnvSecrets(filepath.Join(filepath.Dir(loaded.Path), ".env"))
	if err != nil {
		return nil, err
	}

	var restart func()
	if !opts.DisableRestart {
		restart = d.requestRestart
	}
	d.runtime, err = NewConfigRuntime(ctx, ConfigRuntimeOptions{
		Loaded:  loaded,
		Env:     env,
		Factory: opts.Factory,
		Restart: restart,
		Logger:  log.GetZerolog(),
	})
	if err != nil {
		return nil, err
	}

	d.sessions, err = session.Open(app.SessionBackend, filepath.Join(app.WorkingDir, workspace.SessionsDir, "sessions.db"))
	if err != nil {
		return nil, err
	}

	d.channels = channels.NewRegistry()
	d.chat, err = chat.NewService(chat.Options{
		Sessions:   d.sessions,
		Runners:    d.runtime,
		Dispatcher: d.channels,
		Logger:     log.Component("chat"),
	})
	if err != nil {
		d.sessions.Close()
		return nil, err
	}

	if app.TelegramEnabled {
		tg, err := telegram.New(telegram.Config{
			BotToken:        app.TelegramBotToken,
			APIBaseURL:      app.TelegramAPIBaseURL,
			PollTimeoutSecs: app.TelegramPollTimeoutSecs,
			Handler:         d.handleInbound,
			Logger:          log.GetZerolog(),
		})
		if err != nil {
			d.sessions.Close()
			return nil, fmt.Errorf("failed to create telegram connector: %w", err)
		}
		if err := d.channels.Register(tg); err != nil {
			d.sessions.Close()
			return nil, err
		}
	}

	d.gateway, err = gateway.NewServer(gateway.Config{
		Host:          app.Host,
		Port:          app.Port,
		Chat:          d.chat,
		Sessions:      d.sessions,
		Skills:        d.skills,
		ConfigManager: d.runtime,
		Metrics:       opts.Metrics,
		Logger:        log.GetZerolog(),
	})
	if err != nil {
		d.sessions.Close()
		return nil, err
	}

	d.maintenance, err = NewMaintenance(MaintenanceConfig{
		Sessions: d.sessions,
		App:      d.runtime.App,
		Logger:   log.GetZerolog(),
	})
	if err != nil {
		d.sessions.Close()
		return nil, err
	}

	return d, nil
}

// Runtime returns the config runtime.
func (d *Daemon) Runtime() *ConfigRuntime {
	return d.runtime
}

// Chat returns the chat service.
func (d *Daemon) Chat() *chat.Service {
	return d.chat
}

// Sessions returns the session store.
func (d *Daemon) Sessions() session.Store {
	return d.sessions
}

// Start acquires the PID file, starts channels, watchers and maintenance,
// and begins serving the gateway in the background.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon already running")
	}

	if err := d.pid.Acquire(); err != nil {
		return err
	}

	ln := d.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", d.gateway.Addr())
		if err != nil {
			_ = d.pid.Release()
			return fmt.Errorf("failed to listen on %s: %w", d.gateway.Addr(), err)
		}
	}

	if err := d.channels.StartAll(d.ctx); err != nil {
		_ = ln.Close()
		_ = d.pid.Release()
		return err
	}

	if d.watch {
		watchers, err := startWatchers(d.runtime, d.logger)
		if err != nil {
			d.logger.Warn().Err(err).Msg("File watchers unavailable; hot reload disabled")
		}
		d.watchers = watchers
	}

	d.maintenance.Start(d.ctx)

	go func() {
		d.serveErr <- d.gateway.Serve(ln)
	}()

	d.running = true
	d.addr = ln.Addr().String()
	d.startedAt = time.Now()

	app := d.runtime.App()
	d.logger.Info().
		Str("addr", d.addr).
		Str("provider", app.Provider).
		Str("model", app.Model).
		Strs("channels", d.channels.Enabled()).
		Int("pid", os.Getpid()).
		Msg("Daemon started")
	return nil
}

// Wait blocks until ctx is done, the gateway fails or a restart is
// requested. A restart yields ErrRestart.
func (d *Daemon) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-d.serveErr:
		return err
	case <-d.restartCh:
		return ErrRestart
	}
}

// Stop shuts components down in reverse start order.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if d.running {
		if err := d.gateway.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		d.maintenance.Stop()
		for _, w := range d.watchers {
			if err := w.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		d.watchers = nil
		if err := d.channels.StopAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.cancel()

	if err := d.sessions.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close session store: %w", err))
	}
	if err := observability.GetAuditLogger().Close(); err != nil {
		errs = append(errs, err)
	}
	if err := tracing.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if d.running {
		if err := d.pid.Release(); err != nil {
			errs = append(errs, err)
		}
	}

	d.running = false
	d.logger.Info().Msg("Daemon stopped")
	return errors.Join(errs...)
}

// Status reports the daemon state.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	app := d.runtime.App()
	st := Status{
		Running:       d.running,
		PID:           os.Getpid(),
		StartedAt:     d.startedAt,
		Addr:          d.addr,
		ConfigVersion: d.runtime.Version(),
		Provider:      app.Provider,
		Model:         app.Model,
		Channels:      d.channels.Enabled(),
		Clients:       len(d.gateway.ConnectedClients()),
	}
	if d.running {
		st.Uptime = time.Since(d.startedAt)
	}
	return st
}

func (d *Daemon) requestRestart() {
	select {
	case d.restartCh <- struct{}{}:
	default:
	}
}

// handleInbound runs a channel message and logs failures; the poll loop
// keeps going either way.
func (d *Daemon) handleInbound(ctx context.Context, msg channels.InboundMessage) {
	ctx, cancel := context.WithTimeout(ctx, channelReplyTimeout)
	defer cancel()

	ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	log := tracing.LoggerFromContext(ctx, d.logger)

	result, err := d.chat.RunChannelMessage(ctx, msg)
	if err != nil {
		log.Error().Err(err).
			Str("channel", msg.Channel).
			Str("conversation_id", msg.ConversationID).
			Msg("Channel message failed")
		return
	}
	log.Info().
		Str("channel", msg.Channel).
		Str("session_id", result.SessionID).
		Msg("Channel message answered")
}
