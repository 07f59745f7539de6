package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/MinchaoZhu/chaos-bot/internal/config"
	"github.com/MinchaoZhu/chaos-bot/pkg/llm"
	"github.com/gorilla/websocket"
)

// Stream event names shared by SSE and WebSocket clients.
const (
	EventSession  = "session"
	EventDelta    = "delta"
	EventToolCall = "tool_call"
	EventDone     = "done"
	EventError    = "error"
)

// ChatRequest is the body of POST /api/chat and of each WebSocket frame.
// RequestID is only echoed on WebSocket envelopes.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status string    `json:"status"`
	Now    time.Time `json:"now"`
}

// SessionPayload is the session_id carrying payload of "session" events.
type SessionPayload struct {
	SessionID string `json:"session_id"`
}

// ToolCallPayload is the payload of "tool_call" events.
type ToolCallPayload struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Args    json.RawMessage `json:"args"`
	Output  string          `json:"output"`
	IsError bool            `json:"is_error"`
}

// DonePayload is the payload of "done" events.
type DonePayload struct {
	SessionID    string     `json:"session_id"`
	Usage        *llm.Usage `json:"usage"`
	FinishReason *string    `json:"finish_reason"`
}

// Envelope carries one event over the WebSocket.
type Envelope struct {
	Event     string `json:"event"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data"`
	Seq       int64  `json:"seq,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ConfigMutationRequest is the body of apply and restart. At most one of Raw
// and Config may be set.
type ConfigMutationRequest struct {
	Raw    *string            `json:"raw,omitempty"`
	Config *config.FileConfig `json:"config,omitempty"`
}

// ConfigState describes the running and on-disk configuration. Secrets are
// redacted by the ConfigManager.
type ConfigState struct {
	Version        uint64            `json:"version"`
	ConfigPath     string            `json:"config_path"`
	Backup1Path    string            `json:"backup1_path"`
	Backup2Path    string            `json:"backup2_path"`
	ConfigFormat   string            `json:"config_format"`
	Running        config.FileConfig `json:"running"`
	Disk           config.FileConfig `json:"disk"`
	Raw            string            `json:"raw"`
	DiskParseError string            `json:"disk_parse_error,omitempty"`
}

// ConfigMutationResponse is returned by reset, apply and restart.
type ConfigMutationResponse struct {
	OK               bool         `json:"ok"`
	Action           string       `json:"action"`
	RestartScheduled bool         `json:"restart_scheduled"`
	State            *ConfigState `json:"state"`
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID           string    `json:"id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	IPAddress    string    `json:"ip_address"`
	Idle         bool      `json:"idle"`
}

// Client represents a connected WebSocket client
type Client struct {
	ID           string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string
	RateLimiter  *ClientRateLimiter

	writeMu sync.Mutex
}

const clientWriteTimeout = 10 * time.Second

// WriteMessage serializes writes; gorilla connections allow one writer.
func (c *Client) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.Conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
	return c.Conn.WriteMessage(messageType, data)
}

// WriteJSON encodes v and writes it as a text frame.
func (c *Client) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, data)
}
