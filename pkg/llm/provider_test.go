package llm

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	t.Run("should build openai with explicit base url", func(t *testing.T) {
		provider, err := NewProvider(ProviderConfig{Name: "OpenAI", OpenAIAPIKey: "k", OpenAIBaseURL: "http://localhost:9999/v1/"})
		require.NoError(t, err)
		assert.Equal(t, "openai", provider.Name())
		assert.Equal(t, "http://localhost:9999/v1", provider.(*OpenAIProvider).BaseURL())
	})

	t.Run("should fall back to OPENAI_BASE_URL", func(t *testing.T) {
		t.Setenv("OPENAI_BASE_URL", "http://proxy.local/v1")
		provider, err := NewProvider(ProviderConfig{Name: "openai", OpenAIAPIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "http://proxy.local/v1", provider.(*OpenAIProvider).BaseURL())
	})

	t.Run("should use default base url", func(t *testing.T) {
		t.Setenv("OPENAI_BASE_URL", "")
		provider, err := NewProvider(ProviderConfig{Name: "openai", OpenAIAPIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, DefaultOpenAIBaseURL, provider.(*OpenAIProvider).BaseURL())
	})

	t.Run("should require api keys", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Name: "openai"})
		assert.ErrorContains(t, err, "OPENAI_API_KEY")

		_, err = NewProvider(ProviderConfig{Name: "anthropic"})
		assert.ErrorContains(t, err, "ANTHROPIC_API_KEY")
	})

	t.Run("should build anthropic", func(t *testing.T) {
		provider, err := NewProvider(ProviderConfig{Name: "anthropic", AnthropicAPIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, "anthropic", provider.Name())
	})

	t.Run("should return gemini scaffold", func(t *testing.T) {
		provider, err := NewProvider(ProviderConfig{Name: "gemini"})
		require.NoError(t, err)

		_, err = provider.Chat(context.Background(), Request{})
		assert.True(t, errors.Is(err, ErrNotImplemented))
		_, err = provider.ChatStream(context.Background(), Request{})
		assert.True(t, errors.Is(err, ErrNotImplemented))
	})

	t.Run("should reject unknown provider", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Name: "mystery"})
		assert.EqualError(t, err, "unsupported provider: mystery")
	})
}

func TestEventStream(t *testing.T) {
	t.Run("should append done when missing", func(t *testing.T) {
		stream := NewEventStream([]StreamEvent{{Delta: "a"}})

		first, err := stream.Next()
		require.NoError(t, err)
		assert.Equal(t, "a", first.Delta)

		last, err := stream.Next()
		require.NoError(t, err)
		assert.True(t, last.Done)

		_, err = stream.Next()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("should order response events text tools done", func(t *testing.T) {
		usage := &Usage{TotalTokens: 9}
		events := responseEvents(&Response{
			Message:   AssistantMessage("text"),
			ToolCalls: []ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}},
			Usage:     usage,
		})

		require.Len(t, events, 4)
		assert.Equal(t, "text", events[0].Delta)
		assert.Equal(t, "1", events[1].ToolCall.ID)
		assert.Equal(t, "2", events[2].ToolCall.ID)
		assert.True(t, events[3].Done)
		assert.Same(t, usage, events[3].Usage)
	})
}

func TestBuildAnthropicParams(t *testing.T) {
	t.Run("should lift system messages and map tools", func(t *testing.T) {
		assistant := AssistantMessage("")
		assistant.ToolCalls = []ToolCall{{ID: "tu_1", Name: "read", Arguments: []byte(`{"path":"a"}`)}}

		params, err := buildAnthropicParams(Request{
			Model:     "claude",
			MaxTokens: 100,
			Messages: []Message{
				SystemMessage("be nice"),
				UserMessage("hi"),
				assistant,
				ToolMessage("read", "tu_1", "data"),
			},
			Tools: []ToolSpec{{
				Name:       "read",
				Parameters: map[string]any{"type": "object", "properties": map[string]any{}, "required": []any{"path"}},
			}},
		})
		require.NoError(t, err)
		require.Len(t, params.System, 1)
		assert.Equal(t, "be nice", params.System[0].Text)
		assert.Len(t, params.Messages, 3)
		require.Len(t, params.Tools, 1)
		assert.Equal(t, []string{"path"}, params.Tools[0].OfTool.InputSchema.Required)
	})
}
