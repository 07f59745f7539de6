package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct {
	name   string
	output string
	err    error
	noop   bool
	seen   *ExecutionContext
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echo " + t.name }
func (t *echoTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}
}

func (t *echoTool) Execute(_ context.Context, args json.RawMessage, ec *ExecutionContext) (*Execution, error) {
	t.seen = ec
	if t.err != nil || t.noop {
		return nil, t.err
	}
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	return &Execution{Output: t.output + in.Text}, nil
}

func TestRegistry(t *testing.T) {
	t.Run("should list specs sorted by name", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(&echoTool{name: "zeta"}))
		require.NoError(t, reg.Register(&echoTool{name: "alpha"}))

		specs := reg.Specs()
		require.Len(t, specs, 2)
		assert.Equal(t, "alpha", specs[0].Name)
		assert.Equal(t, "zeta", specs[1].Name)
		assert.Equal(t, "object", specs[0].Parameters["type"])
		assert.Equal(t, []string{"alpha", "zeta"}, reg.Names())
	})

	t.Run("should let the last registration win", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(&echoTool{name: "echo", output: "first:"}))
		require.NoError(t, reg.Register(&echoTool{name: "echo", output: "second:"}))

		assert.Equal(t, 1, reg.Len())
		result, err := reg.Dispatch(context.Background(), "c1", "echo", json.RawMessage(`{"text":"x"}`), nil)
		require.NoError(t, err)
		assert.Equal(t, "second:x", result.Output)
	})

	t.Run("should reject empty names", func(t *testing.T) {
		assert.Error(t, New().Register(&echoTool{name: " "}))
	})
}

func TestDispatch(t *testing.T) {
	t.Run("should return result tagged with call id", func(t *testing.T) {
		reg := New()
		tool := &echoTool{name: "echo"}
		require.NoError(t, reg.Register(tool))

		ec := &ExecutionContext{RootDir: "/tmp"}
		result, err := reg.Dispatch(context.Background(), "call_9", "echo", json.RawMessage(`{"text":"hi"}`), ec)
		require.NoError(t, err)

		assert.Equal(t, "call_9", result.ToolCallID)
		assert.Equal(t, "echo", result.Name)
		assert.Equal(t, "hi", result.Output)
		assert.False(t, result.IsError)
		assert.Same(t, ec, tool.seen)
	})

	t.Run("should report unknown tools", func(t *testing.T) {
		_, err := New().Dispatch(context.Background(), "c", "missing", nil, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrToolNotFound))
		assert.Equal(t, "tool not found: missing", err.Error())
	})

	t.Run("should validate arguments against schema", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(&echoTool{name: "echo"}))

		_, err := reg.Dispatch(context.Background(), "c", "echo", json.RawMessage(`{"text":5}`), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid arguments for echo")

		_, err = reg.Dispatch(context.Background(), "c", "echo", nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "text")
	})

	t.Run("should return handler errors", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(&echoTool{name: "echo", err: errors.New("boom")}))

		_, err := reg.Dispatch(context.Background(), "c", "echo", json.RawMessage(`{"text":"x"}`), nil)
		assert.EqualError(t, err, "boom")
	})

	t.Run("should fail when a tool returns neither result nor error", func(t *testing.T) {
		reg := New()
		require.NoError(t, reg.Register(&echoTool{name: "silent", noop: true}))

		require.NotPanics(t, func() {
			result, err := reg.Dispatch(context.Background(), "c", "silent", json.RawMessage(`{"text":"x"}`), nil)
			assert.Nil(t, result)
			assert.True(t, errors.Is(err, ErrNoExecution))
			assert.EqualError(t, err, "tool returned no result: silent")
		})
	})
}
