package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func collect(t *testing.T, stream Stream) ([]StreamEvent, error) {
	t.Helper()
	defer stream.Close()

	var events []StreamEvent
	for {
		event, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

func TestOpenAIProviderChatStream(t *testing.T) {
	t.Run("should post a streaming request and decode events", func(t *testing.T) {
		var body []byte
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			body, _ = io.ReadAll(r.Body)

			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
			w.(http.Flusher).Flush()
			_, _ = io.WriteString(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":1,\"completion_tokens\":2,\"total_tokens\":3}}\n\ndata: [DONE]\n\n")
		}))
		defer server.Close()

		provider := NewOpenAIProvider("sk-test", server.URL+"/")
		stream, err := provider.ChatStream(context.Background(), Request{
			Model:       "gpt-4o-mini",
			Messages:    []Message{SystemMessage("sys"), UserMessage("hello")},
			Tools:       []ToolSpec{{Name: "read", Description: "Read", Parameters: map[string]any{"type": "object"}}},
			Temperature: 0.2,
			MaxTokens:   64,
		})
		require.NoError(t, err)

		events, err := collect(t, stream)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "Hi", events[0].Delta)
		assert.True(t, events[1].Done)
		require.NotNil(t, events[1].Usage)
		assert.Equal(t, 3, events[1].Usage.TotalTokens)

		parsed := gjson.ParseBytes(body)
		assert.True(t, parsed.Get("stream").Bool())
		assert.True(t, parsed.Get("stream_options.include_usage").Bool())
		assert.Equal(t, "auto", parsed.Get("tool_choice").String())
		assert.Equal(t, "gpt-4o-mini", parsed.Get("model").String())
		assert.Equal(t, "read", parsed.Get("tools.0.function.name").String())
		assert.Equal(t, int64(2), parsed.Get("messages.#").Int())
	})

	t.Run("should synthesize done when body ends without sentinel", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n")
		}))
		defer server.Close()

		stream, err := NewOpenAIProvider("k", server.URL).ChatStream(context.Background(), Request{Model: "m"})
		require.NoError(t, err)

		events, err := collect(t, stream)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.True(t, events[1].Done)
	})

	t.Run("should surface non-2xx status with body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"bad key"}`)
		}))
		defer server.Close()

		_, err := NewOpenAIProvider("k", server.URL).ChatStream(context.Background(), Request{Model: "m"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OpenAI API stream error 401")
		assert.Contains(t, err.Error(), "bad key")
	})

	t.Run("should omit tool_choice without tools", func(t *testing.T) {
		body, err := buildStreamBody(Request{Model: "m", Messages: []Message{UserMessage("hi")}})
		require.NoError(t, err)
		assert.False(t, gjson.GetBytes(body, "tool_choice").Exists())
	})
}

func TestOpenAIProviderChat(t *testing.T) {
	t.Run("should map content tool calls and usage", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{
				"id":"c1","object":"chat.completion","created":1,"model":"m",
				"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"thinking",
					"tool_calls":[{"id":"call_1","type":"function","function":{"name":"read","arguments":"{\"path\":\"a\"}"}}]}}],
				"usage":{"prompt_tokens":5,"completion_tokens":6,"total_tokens":11}
			}`)
		}))
		defer server.Close()

		resp, err := NewOpenAIProvider("k", server.URL).Chat(context.Background(), Request{Model: "m", Messages: []Message{UserMessage("hi")}})
		require.NoError(t, err)
		assert.Equal(t, "thinking", resp.Message.Content)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
		assert.JSONEq(t, `{"path":"a"}`, string(resp.ToolCalls[0].Arguments))
		require.NotNil(t, resp.Usage)
		assert.Equal(t, 11, resp.Usage.TotalTokens)
		assert.Equal(t, "tool_calls", resp.FinishReason)
	})

	t.Run("should fail when response has no choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[]}`)
		}))
		defer server.Close()

		_, err := NewOpenAIProvider("k", server.URL).Chat(context.Background(), Request{Model: "m"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not contain choices")
	})
}

func TestBuildChatParams(t *testing.T) {
	t.Run("should carry assistant tool calls and tool results", func(t *testing.T) {
		assistant := AssistantMessage("")
		assistant.ToolCalls = []ToolCall{{ID: "call_1", Name: "read", Arguments: []byte(`{"path":"a"}`)}}

		body, err := buildStreamBody(Request{
			Model: "m",
			Messages: []Message{
				UserMessage("hi"),
				assistant,
				ToolMessage("read", "call_1", "contents"),
			},
		})
		require.NoError(t, err)

		parsed := gjson.ParseBytes(body)
		assert.Equal(t, "call_1", parsed.Get("messages.1.tool_calls.0.id").String())
		assert.Equal(t, "tool", parsed.Get("messages.2.role").String())
		assert.Equal(t, "call_1", parsed.Get("messages.2.tool_call_id").String())
	})

	t.Run("should reject unknown roles", func(t *testing.T) {
		_, err := buildChatParams(Request{Model: "m", Messages: []Message{{Role: "narrator", Content: "x"}}})
		assert.Error(t, err)
	})
}
