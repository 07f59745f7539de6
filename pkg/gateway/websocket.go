package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/MinchaoZhu/chaos-bot/pkg/chat"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const maxFrameBytes = 1 << 20

// handleWebSocket upgrades the connection and serves chat frames on it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		writeError(w, Unavailable("server is shutting down"))
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		writeError(w, Internal("failed to allocate client id"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		RateLimiter:  NewClientRateLimiter(s.wsPerMin, s.wsMaxConc),
	}
	s.clients.Add(client)
	s.metrics.WebSocketClients.Inc()

	s.logger.Info().
		Str("client_id", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if err := client.WriteJSON(Envelope{
		Event:     "connected",
		Data:      map[string]string{"client_id": clientID},
		Timestamp: now.UnixMilli(),
	}); err != nil {
		s.logger.Error().Err(err).Str("client_id", clientID).Msg("Failed to greet client")
		s.dropClient(client)
		return
	}

	ctx := withClientID(context.WithoutCancel(r.Context()), clientID)
	go s.handleClient(ctx, client)
}

func (s *Server) dropClient(client *Client) {
	_ = client.Conn.Close()
	s.clients.Remove(client.ID)
	s.metrics.WebSocketClients.Dec()
}

// handleClient reads frames until the connection closes. Runs started from
// this connection are cancelled when it goes away.
func (s *Server) handleClient(ctx context.Context, client *Client) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.dropClient(client)
		s.logger.Info().Str("client_id", client.ID).Msg("Client disconnected")
	}()

	client.Conn.SetReadLimit(maxFrameBytes)
	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.Touch(client.ID, time.Now())
		s.handleFrame(ctx, client, message)
	}
}

func (s *Server) handleFrame(ctx context.Context, client *Client, message []byte) {
	var req ChatRequest
	if err := json.Unmarshal(message, &req); err != nil {
		s.metrics.RecordFrame("invalid")
		s.sendError(client, "", BadRequest("invalid frame: "+err.Error()))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.metrics.RecordFrame("invalid")
		s.sendError(client, req.RequestID, BadRequest("message is required"))
		return
	}

	if !s.beginRun() {
		s.metrics.RecordFrame("rejected")
		s.sendError(client, req.RequestID, Unavailable("server is shutting down"))
		return
	}

	allowed, reason := client.RateLimiter.Acquire()
	if !allowed {
		s.inFlight.Done()
		s.metrics.RecordFrame("rejected")
		s.sendError(client, req.RequestID, &APIError{
			Code:    CodeRateLimited,
			Message: reason,
			Status:  http.StatusTooManyRequests,
		})
		return
	}
	s.metrics.RecordFrame("accepted")

	go func() {
		defer s.inFlight.Done()
		defer client.RateLimiter.Release()
		s.runFrame(ctx, client, req)
	}()
}

func (s *Server) runFrame(ctx context.Context, client *Client, req ChatRequest) {
	log := requestLogger(ctx, s.logger)
	send := func(name string, payload any) {
		if err := client.WriteJSON(Envelope{
			Event:     name,
			RequestID: req.RequestID,
			Data:      payload,
			Timestamp: time.Now().UnixMilli(),
		}); err != nil {
			log.Debug().Err(err).Str("event", name).Msg("Failed to write event to client")
		}
	}

	result, err := s.chat.RunStream(ctx, chat.Command{
		SessionID: strings.TrimSpace(req.SessionID),
		Message:   req.Message,
	}, func(ev chat.Event) {
		send(encodeEvent(ev))
	})
	if err != nil {
		apiErr := ToAPIError(err)
		log.Warn().Err(err).Str("code", apiErr.Code).Msg("WebSocket chat failed")
		send(EventError, apiErr)
		return
	}
	send(EventDone, donePayload(result))
}

func (s *Server) sendError(client *Client, requestID string, apiErr *APIError) {
	if err := client.WriteJSON(Envelope{
		Event:     EventError,
		RequestID: requestID,
		Data:      apiErr,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		s.logger.Error().
			Err(err).
			Str("client_id", client.ID).
			Msg("Failed to send error frame")
	}
}
