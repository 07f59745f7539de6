package gateway

import (
	"slices"
	"sync"
	"time"
)

// A client with no frames for this long is reported idle.
const clientIdleAfter = 5 * time.Minute

// ClientRegistry tracks live WebSocket connections by client id.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client)}
}

func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()
}

// Remove reports whether id was registered.
func (r *ClientRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[id]
	delete(r.clients, id)
	return ok
}

// List returns the registered clients in no particular order.
func (r *ClientRegistry) List() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Touch bumps LastActivity for id; unknown ids are ignored.
func (r *ClientRegistry) Touch(id string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok {
		c.LastActivity = now
	}
}

// Snapshot describes every client, oldest connection first.
func (r *ClientRegistry) Snapshot(now time.Time) []ClientInfo {
	r.mu.RLock()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		infos = append(infos, ClientInfo{
			ID:           c.ID,
			ConnectedAt:  c.ConnectedAt,
			LastActivity: c.LastActivity,
			IPAddress:    c.IPAddress,
			Idle:         now.Sub(c.LastActivity) > clientIdleAfter,
		})
	}
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b ClientInfo) int {
		return a.ConnectedAt.Compare(b.ConnectedAt)
	})
	return infos
}
