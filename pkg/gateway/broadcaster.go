package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventBroadcaster fans server events (config.*, server.shutdown) out to
// every WebSocket client. Envelopes carry a process-wide sequence number.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     atomic.Int64
}

func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{clients: clients, logger: logger}
}

// Broadcast returns the number of clients the event was written to.
func (b *EventBroadcaster) Broadcast(event string, data any) int {
	env := Envelope{
		Event:     event,
		Data:      data,
		Seq:       b.seq.Add(1),
		Timestamp: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		b.logger.Error().Err(err).Str("event", event).Msg("Failed to encode broadcast")
		return 0
	}

	targets := b.clients.List()
	sent := 0
	for _, c := range targets {
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			b.logger.Warn().Err(err).Str("client_id", c.ID).Str("event", event).Msg("Broadcast write failed")
			continue
		}
		sent++
	}

	b.logger.Debug().
		Str("event", event).
		Int64("seq", env.Seq).
		Int("sent", sent).
		Int("targets", len(targets)).
		Msg("Broadcast delivered")
	return sent
}
