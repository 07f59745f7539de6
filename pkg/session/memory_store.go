package session

import (
	"context"
	"sort"
	"sync"

	"github.com/MinchaoZhu/chaos-bot/internal/observability"
	"github.com/google/uuid"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*State
	channels map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	observability.EnsureRegistered()
	return &MemoryStore{
		sessions: make(map[string]*State),
		channels: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context) (*State, error) {
	s := New(uuid.New().String())

	m.mu.Lock()
	m.sessions[s.ID] = s.Clone()
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	return s, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Upsert(ctx context.Context, s *State) error {
	m.mu.Lock()
	m.sessions[s.ID] = s.Clone()
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*State, error) {
	m.mu.RLock()
	out := make([]*State, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.sessions[id]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.sessions, id)
	for key, sid := range m.channels {
		if sid == id {
			delete(m.channels, key)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	return nil
}

func (m *MemoryStore) BindChannel(ctx context.Context, channelKey, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[channelKey] = sessionID
	return nil
}

func (m *MemoryStore) SessionForChannel(ctx context.Context, channelKey string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.channels[channelKey]
	if !ok {
		return nil, ErrNotFound
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Close() error { return nil }
