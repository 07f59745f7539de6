package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultOpenAIBaseURL is used when neither config nor OPENAI_BASE_URL set one.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// ErrNotImplemented is returned by scaffold providers.
var ErrNotImplemented = errors.New("not implemented")

// Provider is a model service adapter.
type Provider interface {
	// Name returns the provider identifier ("openai", "anthropic", ...).
	Name() string

	// Chat performs a single non-streaming completion.
	Chat(ctx context.Context, req Request) (*Response, error)

	// ChatStream starts a streaming completion. The returned Stream must be closed.
	ChatStream(ctx context.Context, req Request) (Stream, error)
}

// Stream is a forward-only sequence of normalized events.
// Next returns io.EOF once the sequence is exhausted.
type Stream interface {
	Next() (StreamEvent, error)
	Close() error
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	Name            string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	GeminiAPIKey    string
}

// NewProvider builds the provider named in cfg. Unknown names and missing
// credentials fail here rather than on first use.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when provider=openai")
		}
		baseURL := cfg.OpenAIBaseURL
		if baseURL == "" {
			baseURL = os.Getenv("OPENAI_BASE_URL")
		}
		return NewOpenAIProvider(cfg.OpenAIAPIKey, baseURL), nil
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required when provider=anthropic")
		}
		return NewAnthropicProvider(cfg.AnthropicAPIKey), nil
	case "gemini":
		return NewGeminiProvider(cfg.GeminiAPIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Name)
	}
}

// EventStream replays a fixed list of events. It backs providers without a
// native streaming path and test doubles.
type EventStream struct {
	events []StreamEvent
	pos    int
}

// NewEventStream returns a Stream over events. A terminal Done event is
// appended when the list does not already end with one.
func NewEventStream(events []StreamEvent) *EventStream {
	if len(events) == 0 || !events[len(events)-1].Done {
		events = append(events, StreamEvent{Done: true})
	}
	return &EventStream{events: events}
}

// Next returns the next event or io.EOF.
func (s *EventStream) Next() (StreamEvent, error) {
	if s.pos >= len(s.events) {
		return StreamEvent{}, io.EOF
	}
	event := s.events[s.pos]
	s.pos++
	return event, nil
}

// Close is a no-op.
func (s *EventStream) Close() error {
	return nil
}

// responseEvents converts a complete response into the normalized event order:
// text, then tool calls, then done.
func responseEvents(resp *Response) []StreamEvent {
	var events []StreamEvent
	if resp.Message.Content != "" {
		events = append(events, StreamEvent{Delta: resp.Message.Content})
	}
	for i := range resp.ToolCalls {
		call := resp.ToolCalls[i]
		events = append(events, StreamEvent{ToolCall: &call})
	}
	return append(events, StreamEvent{Done: true, Usage: resp.Usage})
}
