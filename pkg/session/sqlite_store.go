package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MinchaoZhu/chaos-bot/internal/observability"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		messages_json TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS channel_sessions (
		channel_key TEXT PRIMARY KEY,
		session_id TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_channel_sessions_session ON channel_sessions(session_id);
`

// SQLiteStore persists sessions in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	observability.EnsureRegistered()
	store := &SQLiteStore{db: db}
	store.refreshCount(context.Background())
	return store, nil
}

func (s *SQLiteStore) Create(ctx context.Context) (*State, error) {
	state := New(uuid.New().String())
	if err := s.Upsert(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at, messages_json FROM sessions WHERE id = ?`, id)
	return scanState(row)
}

func (s *SQLiteStore) Upsert(ctx context.Context, state *State) error {
	messages, err := json.Marshal(state.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, updated_at, messages_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at = excluded.updated_at,
			messages_json = excluded.messages_json`,
		state.ID, state.CreatedAt.UnixNano(), state.UpdatedAt.UnixNano(), string(messages))
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	s.refreshCount(ctx)
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, updated_at, messages_json FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*State
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete channel bindings: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.refreshCount(ctx)
	return nil
}

func (s *SQLiteStore) BindChannel(ctx context.Context, channelKey, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_sessions (channel_key, session_id) VALUES (?, ?)
		ON CONFLICT(channel_key) DO UPDATE SET session_id = excluded.session_id`,
		channelKey, sessionID)
	if err != nil {
		return fmt.Errorf("failed to bind channel session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SessionForChannel(ctx context.Context, channelKey string) (*State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.created_at, s.updated_at, s.messages_json
		FROM channel_sessions c JOIN sessions s ON s.id = c.session_id
		WHERE c.channel_key = ?`, channelKey)
	return scanState(row)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) refreshCount(ctx context.Context) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err == nil {
		observability.SetActiveSessions(count)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (*State, error) {
	var (
		state            State
		created, updated int64
		messages         string
	)
	if err := row.Scan(&state.ID, &created, &updated, &messages); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if err := json.Unmarshal([]byte(messages), &state.Messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages for session %s: %w", state.ID, err)
	}
	state.CreatedAt = time.Unix(0, created).UTC()
	state.UpdatedAt = time.Unix(0, updated).UTC()
	return &state, nil
}
