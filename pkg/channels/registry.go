package channels

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/MinchaoZhu/chaos-bot/internal/observability"
	"github.com/rs/zerolog/log"
)

// Registry stores connectors by channel name. It implements Dispatcher.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	started    map[string]bool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	observability.EnsureRegistered()

	return &Registry{
		connectors: make(map[string]Connector),
		started:    make(map[string]bool),
	}
}

// Register adds or replaces the connector for its channel.
func (r *Registry) Register(c Connector) error {
	if c == nil {
		return fmt.Errorf("connector is required")
	}

	name := strings.TrimSpace(c.Channel())
	if name == "" {
		return fmt.Errorf("channel name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[name]; exists {
		log.Warn().Str("channel", name).Msg("Replacing registered connector")
	}
	r.connectors[name] = c
	return nil
}

// Enabled returns sorted channel names.
func (r *Registry) Enabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) connector(name string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	return c, ok
}

// Dispatch sends msg through the connector registered for msg.Channel.
func (r *Registry) Dispatch(ctx context.Context, msg OutboundMessage) (*Delivery, error) {
	c, ok := r.connector(msg.Channel)
	if !ok {
		return nil, fmt.Errorf("no connector registered for channel: %s", msg.Channel)
	}

	delivery, err := c.Send(ctx, msg)
	observability.RecordChannelSend(msg.Channel, err == nil)
	if err != nil {
		return nil, err
	}
	return delivery, nil
}

// StartAll starts every connector in name order, stopping at the first error.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, name := range r.Enabled() {
		r.mu.RLock()
		c, started := r.connectors[name], r.started[name]
		r.mu.RUnlock()
		if started {
			continue
		}

		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("failed to start channel %q: %w", name, err)
		}

		r.mu.Lock()
		r.started[name] = true
		r.mu.Unlock()
	}
	return nil
}

// StopAll stops started connectors in reverse order and returns the first error.
func (r *Registry) StopAll(ctx context.Context) error {
	var firstErr error
	names := r.Enabled()
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		r.mu.RLock()
		c, started := r.connectors[name], r.started[name]
		r.mu.RUnlock()
		if !started {
			continue
		}

		if err := c.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to stop channel %q: %w", name, err)
		}

		r.mu.Lock()
		delete(r.started, name)
		r.mu.Unlock()
	}
	return firstErr
}

// Health returns each connector's health sorted by channel.
func (r *Registry) Health(ctx context.Context) ([]Health, error) {
	names := r.Enabled()
	items := make([]Health, 0, len(names))
	for _, name := range names {
		c, ok := r.connector(name)
		if !ok {
			continue
		}
		h, err := c.Health(ctx)
		if err != nil {
			return nil, fmt.Errorf("health check for %q failed: %w", name, err)
		}
		items = append(items, h)
	}
	return items, nil
}
