// Package channels connects the agent to external messaging platforms.
//
// A Connector owns one platform (telegram, ...). The Registry fans outbound
// replies to the connector named by the message's channel and manages the
// connectors' lifecycle.
package channels

import (
	"context"
	"encoding/json"
	"fmt"
)

// InboundMessage is a normalized message received from a channel.
type InboundMessage struct {
	Channel        string          `json:"channel"`
	UserID         string          `json:"user_id"`
	ConversationID string          `json:"conversation_id"`
	MessageID      string          `json:"message_id,omitempty"`
	Text           string          `json:"text"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// SessionKey binds a channel conversation to one session.
func (m InboundMessage) SessionKey() string {
	return fmt.Sprintf("%s:%s:%s", m.Channel, m.ConversationID, m.UserID)
}

// OutboundMessage is a reply addressed to a channel conversation.
type OutboundMessage struct {
	Channel          string          `json:"channel"`
	ConversationID   string          `json:"conversation_id"`
	Text             string          `json:"text"`
	ReplyToMessageID string          `json:"reply_to_message_id,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// Delivery acknowledges a sent message.
type Delivery struct {
	Channel           string `json:"channel"`
	ExternalMessageID string `json:"external_message_id,omitempty"`
}

// Health reports a connector's state.
type Health struct {
	Channel string         `json:"channel"`
	Status  string         `json:"status"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Connector is a single channel integration.
type Connector interface {
	Channel() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (Health, error)
	Send(ctx context.Context, msg OutboundMessage) (*Delivery, error)
}

// Dispatcher routes outbound messages to connectors.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg OutboundMessage) (*Delivery, error)
	StartAll(ctx context.Context) error
	StopAll(ctx context.Context) error
	Health(ctx context.Context) ([]Health, error)
	Enabled() []string
}
