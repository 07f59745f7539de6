package llm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(d *sseDecoder) ([]StreamEvent, error) {
	var events []StreamEvent
	for {
		item, ok := d.pop()
		if !ok {
			return events, nil
		}
		if item.err != nil {
			return events, item.err
		}
		events = append(events, item.event)
	}
}

func TestDrainSSEPayloads(t *testing.T) {
	t.Run("should return complete frames and keep the partial tail", func(t *testing.T) {
		buffer := "data: one\n\ndata: two\n\ndata: thr"
		payloads := drainSSEPayloads(&buffer)

		assert.Equal(t, []string{"one", "two"}, payloads)
		assert.Equal(t, "data: thr", buffer)
	})

	t.Run("should join multiple data lines with newline", func(t *testing.T) {
		buffer := "data: a\ndata: b\n\n"
		payloads := drainSSEPayloads(&buffer)

		assert.Equal(t, []string{"a\nb"}, payloads)
		assert.Empty(t, buffer)
	})

	t.Run("should skip frames without data lines", func(t *testing.T) {
		buffer := ": keepalive\nevent: ping\n\ndata: x\n\n"
		payloads := drainSSEPayloads(&buffer)

		assert.Equal(t, []string{"x"}, payloads)
	})

	t.Run("should never leave a complete frame behind", func(t *testing.T) {
		buffer := "data: 1\n\n\n\ndata: 2\n\ndata"
		_ = drainSSEPayloads(&buffer)

		assert.NotContains(t, buffer, "\n\n")
	})
}

func TestSSEDecoder(t *testing.T) {
	t.Run("should emit deltas and a single done on sentinel", func(t *testing.T) {
		d := newSSEDecoder()
		d.feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n"))
		d.feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\ndata: [DONE]\n\n"))
		d.feed([]byte("data: [DONE]\n\n"))
		d.finish()

		events, err := drain(d)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, "Hel", events[0].Delta)
		assert.Equal(t, "lo", events[1].Delta)
		assert.True(t, events[2].Done)
	})

	t.Run("should handle CRLF framing and chunk splits", func(t *testing.T) {
		d := newSSEDecoder()
		raw := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\r\n\r\ndata: [DONE]\r\n\r\n"
		for i := 0; i < len(raw); i += 3 {
			end := min(i+3, len(raw))
			d.feed([]byte(raw[i:end]))
		}

		events, err := drain(d)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "hi", events[0].Delta)
		assert.True(t, events[1].Done)
	})

	t.Run("should reassemble fragmented tool calls in index order", func(t *testing.T) {
		d := newSSEDecoder()
		chunks := []string{
			`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"grep","arguments":"{\"pat"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"read","arguments":"{\"path\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"arguments":"tern\":\"x\"}"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.txt\"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
			`[DONE]`,
		}
		for _, chunk := range chunks {
			d.feed([]byte("data: " + chunk + "\n\n"))
		}

		events, err := drain(d)
		require.NoError(t, err)
		require.Len(t, events, 3)

		require.NotNil(t, events[0].ToolCall)
		assert.Equal(t, "call_a", events[0].ToolCall.ID)
		assert.Equal(t, "read", events[0].ToolCall.Name)
		assert.JSONEq(t, `{"path":"a.txt"}`, string(events[0].ToolCall.Arguments))

		require.NotNil(t, events[1].ToolCall)
		assert.Equal(t, "call_b", events[1].ToolCall.ID)
		assert.JSONEq(t, `{"pattern":"x"}`, string(events[1].ToolCall.Arguments))

		assert.True(t, events[2].Done)
	})

	t.Run("should default missing id name and arguments", func(t *testing.T) {
		d := newSSEDecoder()
		d.feed([]byte(`data: {"choices":[{"delta":{"tool_calls":[{"index":2}]},"finish_reason":"tool_calls"}]}` + "\n\n"))

		events, err := drain(d)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "tool_call_2", events[0].ToolCall.ID)
		assert.Equal(t, "unknown", events[0].ToolCall.Name)
		assert.JSONEq(t, `{}`, string(events[0].ToolCall.Arguments))
	})

	t.Run("should keep index-only fragments beside complete calls", func(t *testing.T) {
		d := newSSEDecoder()
		d.feed([]byte(`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"read","arguments":"{}"}},{"index":1}]}}]}` + "\n\n"))
		d.feed([]byte(`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}` + "\n\n"))

		events, err := drain(d)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "call_a", events[0].ToolCall.ID)
		assert.Equal(t, "tool_call_1", events[1].ToolCall.ID)
		assert.Equal(t, "unknown", events[1].ToolCall.Name)
		assert.JSONEq(t, `{}`, string(events[1].ToolCall.Arguments))
	})

	t.Run("should wrap invalid arguments as raw", func(t *testing.T) {
		d := newSSEDecoder()
		d.feed([]byte(`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"c","function":{"name":"bash","arguments":"not json"}}]},"finish_reason":"tool_calls"}]}` + "\n\n"))

		events, err := drain(d)
		require.NoError(t, err)
		require.Len(t, events, 1)

		var args map[string]string
		require.NoError(t, json.Unmarshal(events[0].ToolCall.Arguments, &args))
		assert.Equal(t, "not json", args["raw"])
	})

	t.Run("should synthesize done at end of body", func(t *testing.T) {
		d := newSSEDecoder()
		d.feed([]byte(`data: {"choices":[{"delta":{"content":"x"}}]}` + "\n\n"))
		d.finish()
		d.finish()

		events, err := drain(d)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.True(t, events[1].Done)
	})

	t.Run("should attach usage to done", func(t *testing.T) {
		d := newSSEDecoder()
		d.feed([]byte(`data: {"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}` + "\n\n"))
		d.feed([]byte("data: [DONE]\n\n"))

		events, err := drain(d)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.NotNil(t, events[0].Usage)
		assert.Equal(t, 7, events[0].Usage.TotalTokens)
	})

	t.Run("should ignore partial usage", func(t *testing.T) {
		d := newSSEDecoder()
		d.feed([]byte(`data: {"choices":[],"usage":{"prompt_tokens":3}}` + "\n\n"))
		d.finish()

		events, err := drain(d)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Nil(t, events[0].Usage)
	})

	t.Run("should fail on malformed payload and stop", func(t *testing.T) {
		d := newSSEDecoder()
		d.feed([]byte(`data: {"choices":[{"delta":{"content":"ok"}}]}` + "\n\ndata: {broken\n\n"))
		d.finish()

		events, err := drain(d)
		require.Error(t, err)
		assert.True(t, strings.HasPrefix(err.Error(), "failed to decode OpenAI stream payload"))
		require.Len(t, events, 1)
		assert.Equal(t, "ok", events[0].Delta)

		_, ok := d.pop()
		assert.False(t, ok)
	})
}

func TestDecodeArguments(t *testing.T) {
	t.Run("should keep valid json", func(t *testing.T) {
		assert.JSONEq(t, `{"a":1}`, string(DecodeArguments(`{"a":1}`)))
	})

	t.Run("should wrap invalid json", func(t *testing.T) {
		assert.JSONEq(t, `{"raw":"{oops"}`, string(DecodeArguments(`{oops`)))
	})
}
