package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/MinchaoZhu/chaos-bot/internal/config"
	"github.com/MinchaoZhu/chaos-bot/internal/logger"
	"github.com/MinchaoZhu/chaos-bot/internal/observability"
	"github.com/MinchaoZhu/chaos-bot/pkg/session"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Maintenance job names.
const (
	JobPruneSessions = "prune_sessions"
	JobCleanupLogs   = "cleanup_logs"
)

const (
	defaultPruneSchedule   = "@every 1h"
	defaultCleanupSchedule = "@daily"
)

// MaintenanceConfig configures the maintenance schedule.
type MaintenanceConfig struct {
	Sessions session.Store
	// App returns the current configuration so edits to idle or retention
	// settings apply without a restart.
	App             func() config.AppConfig
	PruneSchedule   string
	CleanupSchedule string
	Now             func() time.Time
	Logger          zerolog.Logger
}

// Maintenance runs periodic housekeeping on a cron schedule.
type Maintenance struct {
	cron     *cron.Cron
	sessions session.Store
	app      func() config.AppConfig
	now      func() time.Time
	logger   zerolog.Logger

	pruneSchedule   string
	cleanupSchedule string
}

// NewMaintenance validates cfg and registers the jobs.
func NewMaintenance(cfg MaintenanceConfig) (*Maintenance, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.App == nil {
		return nil, fmt.Errorf("config source is required")
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = defaultPruneSchedule
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = defaultCleanupSchedule
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Maintenance{
		cron:            cron.New(cron.WithLocation(time.UTC)),
		sessions:        cfg.Sessions,
		app:             cfg.App,
		now:             cfg.Now,
		logger:          cfg.Logger.With().Str("component", "maintenance").Logger(),
		pruneSchedule:   cfg.PruneSchedule,
		cleanupSchedule: cfg.CleanupSchedule,
	}

	if _, err := m.cron.AddFunc(cfg.PruneSchedule, func() { m.PruneSessions(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.PruneSchedule, err)
	}
	if _, err := m.cron.AddFunc(cfg.CleanupSchedule, func() { m.CleanupLogs() }); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.CleanupSchedule, err)
	}
	return m, nil
}

// Start runs both jobs once and then starts the schedule.
func (m *Maintenance) Start(ctx context.Context) {
	m.PruneSessions(ctx)
	m.CleanupLogs()
	m.cron.Start()
	m.logger.Info().
		Str("prune_schedule", m.pruneSchedule).
		Str("cleanup_schedule", m.cleanupSchedule).
		Msg("Maintenance schedule started")
}

// Stop stops the schedule and waits for running jobs.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

// PruneSessions deletes sessions idle longer than sessions.max_idle_hours.
// Zero disables pruning.
func (m *Maintenance) PruneSessions(ctx context.Context) int {
	hours := m.app().SessionMaxIdleHours
	if hours <= 0 {
		return 0
	}

	removed, err := session.PruneIdle(ctx, m.sessions, time.Duration(hours)*time.Hour, m.now())
	observability.RecordMaintenanceJob(JobPruneSessions, err == nil)
	if err != nil {
		m.logger.Error().Err(err).Msg("Session prune failed")
		return removed
	}
	return removed
}

// CleanupLogs removes daily log files older than logging.retention_days.
func (m *Maintenance) CleanupLogs() int {
	app := m.app()
	if app.LogDir == "" || app.LogRetentionDays <= 0 {
		return 0
	}

	removed, err := logger.CleanupOldLogs(app.LogDir, app.LogRetentionDays, m.now())
	observability.RecordMaintenanceJob(JobCleanupLogs, err == nil)
	if err != nil {
		m.logger.Error().Err(err).Msg("Log cleanup failed")
		return removed
	}
	if removed > 0 {
		m.logger.Info().Int("removed", removed).Int("retention_days", app.LogRetentionDays).Msg("Removed old log files")
	}
	return removed
}
