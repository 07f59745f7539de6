package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MinchaoZhu/chaos-bot/internal/observability"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a session or channel binding does not exist.
var ErrNotFound = errors.New("session not found")

// Store persists sessions.
type Store interface {
	Create(ctx context.Context) (*State, error)
	Get(ctx context.Context, id string) (*State, error)
	Upsert(ctx context.Context, s *State) error
	List(ctx context.Context) ([]*State, error)
	Delete(ctx context.Context, id string) error

	// BindChannel maps a channel conversation key to a session id.
	BindChannel(ctx context.Context, channelKey, sessionID string) error
	// SessionForChannel returns the session bound to channelKey.
	SessionForChannel(ctx context.Context, channelKey string) (*State, error)

	Close() error
}

// Open returns the store selected by backend: "memory" (default) or "sqlite".
func Open(backend, sqlitePath string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported session backend: %s", backend)
	}
}

// PruneIdle deletes sessions whose last update is older than maxIdle before now.
// It returns how many were removed.
func PruneIdle(ctx context.Context, store Store, maxIdle time.Duration, now time.Time) (int, error) {
	if maxIdle <= 0 {
		return 0, nil
	}
	sessions, err := store.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-maxIdle)
	removed := 0
	for _, s := range sessions {
		if !s.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := store.Delete(ctx, s.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return removed, fmt.Errorf("failed to prune session %s: %w", s.ID, err)
		}
		removed++
	}

	if removed > 0 {
		observability.RecordSessionsPruned(removed)
		log.Info().Int("removed", removed).Dur("max_idle", maxIdle).Msg("Pruned idle sessions")
	}
	return removed, nil
}
