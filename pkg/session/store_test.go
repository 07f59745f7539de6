package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MinchaoZhu/chaos-bot/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeBackends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions", "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestState(t *testing.T) {
	t.Run("should append and bump updated_at", func(t *testing.T) {
		s := New("s1")
		before := s.UpdatedAt
		time.Sleep(time.Millisecond)

		s.PushMessage(llm.UserMessage("hi"))

		require.Len(t, s.Messages, 1)
		assert.True(t, s.UpdatedAt.After(before))
		assert.Equal(t, s.CreatedAt, before)
	})

	t.Run("should clone independently", func(t *testing.T) {
		s := New("s1")
		s.PushMessage(llm.UserMessage("a"))
		clone := s.Clone()
		clone.PushMessage(llm.UserMessage("b"))

		assert.Len(t, s.Messages, 1)
		assert.Len(t, clone.Messages, 2)
	})
}

func TestStores(t *testing.T) {
	for name, store := range storeBackends(t) {
		ctx := context.Background()

		t.Run(name+" should create get and upsert", func(t *testing.T) {
			s, err := store.Create(ctx)
			require.NoError(t, err)
			assert.NotEmpty(t, s.ID)

			assistant := llm.AssistantMessage("")
			assistant.ToolCalls = []llm.ToolCall{{ID: "c1", Name: "read", Arguments: []byte(`{"path":"a"}`)}}
			s.PushMessage(llm.UserMessage("hello"))
			s.PushMessage(assistant)
			s.PushMessage(llm.ToolMessage("read", "c1", "out"))
			require.NoError(t, store.Upsert(ctx, s))

			got, err := store.Get(ctx, s.ID)
			require.NoError(t, err)
			require.Len(t, got.Messages, 3)
			assert.Equal(t, "hello", got.Messages[0].Content)
			assert.Equal(t, "c1", got.Messages[1].ToolCalls[0].ID)
			assert.Equal(t, "c1", got.Messages[2].ToolCallID)
		})

		t.Run(name+" should return ErrNotFound", func(t *testing.T) {
			_, err := store.Get(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))
			assert.True(t, errors.Is(store.Delete(ctx, "missing"), ErrNotFound))
		})

		t.Run(name+" should list newest first", func(t *testing.T) {
			older := New("older")
			older.UpdatedAt = time.Now().Add(-time.Hour).UTC()
			newer := New("newer")
			newer.UpdatedAt = time.Now().Add(time.Hour).UTC()
			require.NoError(t, store.Upsert(ctx, older))
			require.NoError(t, store.Upsert(ctx, newer))

			list, err := store.List(ctx)
			require.NoError(t, err)
			require.NotEmpty(t, list)
			assert.Equal(t, "newer", list[0].ID)
			assert.Equal(t, "older", list[len(list)-1].ID)
		})

		t.Run(name+" should bind channels and drop bindings on delete", func(t *testing.T) {
			s, err := store.Create(ctx)
			require.NoError(t, err)
			require.NoError(t, store.BindChannel(ctx, "telegram:1:2", s.ID))

			bound, err := store.SessionForChannel(ctx, "telegram:1:2")
			require.NoError(t, err)
			assert.Equal(t, s.ID, bound.ID)

			require.NoError(t, store.Delete(ctx, s.ID))
			_, err = store.SessionForChannel(ctx, "telegram:1:2")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestPruneIdle(t *testing.T) {
	t.Run("should delete sessions idle past the cutoff", func(t *testing.T) {
		ctx := context.Background()
		store := NewMemoryStore()
		now := time.Now().UTC()

		stale := New("stale")
		stale.UpdatedAt = now.Add(-48 * time.Hour)
		fresh := New("fresh")
		fresh.UpdatedAt = now.Add(-time.Hour)
		require.NoError(t, store.Upsert(ctx, stale))
		require.NoError(t, store.Upsert(ctx, fresh))

		removed, err := PruneIdle(ctx, store, 24*time.Hour, now)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		_, err = store.Get(ctx, "stale")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = store.Get(ctx, "fresh")
		assert.NoError(t, err)
	})

	t.Run("should do nothing when disabled", func(t *testing.T) {
		removed, err := PruneIdle(context.Background(), NewMemoryStore(), 0, time.Now())
		require.NoError(t, err)
		assert.Zero(t, removed)
	})
}

func TestOpen(t *testing.T) {
	t.Run("should select backends", func(t *testing.T) {
		store, err := Open("", "")
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, store)

		store, err = Open("sqlite", filepath.Join(t.TempDir(), "s.db"))
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &SQLiteStore{}, store)

		_, err = Open("redis", "")
		assert.Error(t, err)
	})
}
