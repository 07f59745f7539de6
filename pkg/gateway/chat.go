package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MinchaoZhu/chaos-bot/pkg/chat"
)

// encodeEvent maps a chat event onto its wire name and payload. Delta
// payloads are the raw text; everything else is a struct.
func encodeEvent(ev chat.Event) (string, any) {
	switch ev.Kind {
	case chat.EventSession:
		return EventSession, SessionPayload{SessionID: ev.SessionID}
	case chat.EventDelta:
		return EventDelta, ev.Delta
	case chat.EventTool:
		args := ev.Tool.Call.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		return EventToolCall, ToolCallPayload{
			ID:      ev.Tool.Call.ID,
			Name:    ev.Tool.Call.Name,
			Args:    args,
			Output:  ev.Tool.Result.Output,
			IsError: ev.Tool.Result.IsError,
		}
	default:
		return string(ev.Kind), nil
	}
}

func donePayload(result *chat.Result) DonePayload {
	payload := DonePayload{SessionID: result.SessionID, Usage: result.Usage}
	if result.FinishReason != "" {
		reason := result.FinishReason
		payload.FinishReason = &reason
	}
	return payload
}

func decodeChatRequest(body io.Reader) (ChatRequest, error) {
	var req ChatRequest
	dec := json.NewDecoder(io.LimitReader(body, maxRequestBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return req, BadRequest(fmt.Sprintf("invalid chat request: %v", err))
	}
	if strings.TrimSpace(req.Message) == "" {
		return req, BadRequest("message is required")
	}
	return req, nil
}

// sseWriter frames server-sent events. Writes are serialized so keep-alive
// comments never interleave with events.
type sseWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	err     error
}

func (s *sseWriter) event(name string, payload any) {
	var data string
	switch v := payload.(type) {
	case string:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			encoded, _ = json.Marshal(Internal(err.Error()))
			name = EventError
		}
		data = string(encoded)
	}

	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(name)
	b.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	s.write(b.String())
}

func (s *sseWriter) comment(text string) {
	s.write(": " + text + "\n\n")
}

func (s *sseWriter) write(frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return
	}
	if _, err := io.WriteString(s.w, frame); err != nil {
		s.err = err
		return
	}
	s.flusher.Flush()
}

// keepAlive writes a comment every interval until the returned func is called.
func (s *sseWriter) keepAlive(interval time.Duration) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.comment("keepalive")
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, Internal("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.metrics.SSEStreamsActive.Inc()
	defer s.metrics.SSEStreamsActive.Dec()

	stream := &sseWriter{w: w, flusher: flusher}
	stop := stream.keepAlive(s.keepAlive)
	defer stop()

	ctx := r.Context()
	log := requestLogger(ctx, s.logger)

	result, err := s.chat.RunStream(ctx, chat.Command{
		SessionID: strings.TrimSpace(req.SessionID),
		Message:   req.Message,
	}, func(ev chat.Event) {
		name, payload := encodeEvent(ev)
		stream.event(name, payload)
	})
	if err != nil {
		apiErr := ToAPIError(err)
		if errors.Is(err, ctx.Err()) {
			log.Info().Msg("Chat stream cancelled by client")
		} else {
			log.Warn().Err(err).Str("code", apiErr.Code).Msg("Chat stream failed")
		}
		stream.event(EventError, apiErr)
		return
	}

	stream.event(EventDone, donePayload(result))
}
