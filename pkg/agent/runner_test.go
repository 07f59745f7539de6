package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MinchaoZhu/chaos-bot/pkg/llm"
	"github.com/MinchaoZhu/chaos-bot/pkg/memory"
	"github.com/MinchaoZhu/chaos-bot/pkg/session"
	"github.com/MinchaoZhu/chaos-bot/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	mu       sync.Mutex
	turns    [][]llm.StreamEvent
	always   []llm.StreamEvent
	err      error
	requests []llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return nil, llm.ErrNotImplemented
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if p.always != nil {
		return llm.NewEventStream(p.always), nil
	}
	if len(p.turns) == 0 {
		return llm.NewEventStream([]llm.StreamEvent{{Done: true}}), nil
	}
	next := p.turns[0]
	p.turns = p.turns[1:]
	return llm.NewEventStream(next), nil
}

type failingStream struct{ sent bool }

func (s *failingStream) Next() (llm.StreamEvent, error) {
	if !s.sent {
		s.sent = true
		return llm.StreamEvent{Delta: "partial"}, nil
	}
	return llm.StreamEvent{}, errors.New("connection reset")
}

func (s *failingStream) Close() error { return nil }

type brokenStreamProvider struct{ scriptedProvider }

func (p *brokenStreamProvider) ChatStream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	return &failingStream{}, nil
}

type staticPersonality struct {
	prompt string
	err    error
}

func (s staticPersonality) SystemPrompt(ctx context.Context) (string, error) {
	return s.prompt, s.err
}

type fakeMemory struct {
	hits      []memory.Hit
	searchErr error
	logs      []string
}

func (m *fakeMemory) Search(ctx context.Context, keyword string) ([]memory.Hit, error) {
	return m.hits, m.searchErr
}

func (m *fakeMemory) AppendDailyLog(ctx context.Context, summary string) (string, error) {
	m.logs = append(m.logs, summary)
	return "daily.md", nil
}

func (m *fakeMemory) GetFile(ctx context.Context, relPath string, start, end *int) (string, error) {
	return "", nil
}

type echoTools struct {
	calls []string
	fail  bool
}

func (e *echoTools) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{{Name: "echo", Description: "echo", Parameters: map[string]any{"type": "object"}}}
}

func (e *echoTools) Dispatch(ctx context.Context, callID, name string, args json.RawMessage, ec *toolexecutor.ExecutionContext) (*llm.ToolResult, error) {
	e.calls = append(e.calls, name)
	if e.fail {
		return nil, errors.New("boom")
	}
	return &llm.ToolResult{ToolCallID: callID, Name: name, Output: "echo:" + string(args)}, nil
}

func toolCallEvent(id string) llm.StreamEvent {
	return llm.StreamEvent{ToolCall: &llm.ToolCall{ID: id, Name: "echo", Arguments: json.RawMessage(`{"x":1}`)}}
}

func newTestRunner(t *testing.T, provider llm.Provider, tools ToolRegistry, mem *fakeMemory, personality PersonalitySource) *Runner {
	t.Helper()
	runner, err := NewRunner(Options{
		Provider:    provider,
		Tools:       tools,
		Personality: personality,
		Memory:      mem,
		Config: Config{
			Model:         "test-model",
			MaxIterations: 3,
			TokenBudget:   100000,
			WorkingDir:    t.TempDir(),
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return runner
}

func TestNewRunner(t *testing.T) {
	t.Run("should require every dependency", func(t *testing.T) {
		_, err := NewRunner(Options{})
		assert.EqualError(t, err, "provider is required")

		_, err = NewRunner(Options{Provider: &scriptedProvider{}})
		assert.EqualError(t, err, "tool registry is required")

		_, err = NewRunner(Options{Provider: &scriptedProvider{}, Tools: &echoTools{}})
		assert.EqualError(t, err, "personality source is required")

		_, err = NewRunner(Options{Provider: &scriptedProvider{}, Tools: &echoTools{}, Personality: staticPersonality{}})
		assert.EqualError(t, err, "memory is required")
	})
}

func TestRunStream(t *testing.T) {
	t.Run("should concatenate deltas into the final answer", func(t *testing.T) {
		provider := &scriptedProvider{turns: [][]llm.StreamEvent{{
			{Delta: "A"},
			{Delta: "B"},
			{Done: true, Usage: &llm.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}},
		}}}
		mem := &fakeMemory{}
		runner := newTestRunner(t, provider, &echoTools{}, mem, staticPersonality{prompt: "  be kind  "})
		sess := session.New("s1")

		var deltas []string
		out, err := runner.RunStream(context.Background(), sess, "hello", func(ev Event) {
			if ev.Kind == EventDelta {
				deltas = append(deltas, ev.Delta)
			}
		})
		require.NoError(t, err)
		assert.Equal(t, "AB", out.AssistantMessage.Content)
		assert.Equal(t, "stop", out.FinishReason)
		assert.Equal(t, []string{"A", "B"}, deltas)
		require.NotNil(t, out.Usage)
		assert.Equal(t, 5, out.Usage.TotalTokens)

		require.Len(t, sess.Messages, 2)
		assert.Equal(t, llm.RoleUser, sess.Messages[0].Role)
		assert.Equal(t, llm.RoleAssistant, sess.Messages[1].Role)

		require.Len(t, provider.requests, 1)
		assert.Equal(t, "be kind", provider.requests[0].Messages[0].Content)
		assert.Equal(t, "test-model", provider.requests[0].Model)

		require.Len(t, mem.logs, 1)
		assert.Equal(t, "User: hello | Assistant: AB", mem.logs[0])
	})

	t.Run("should run tools then answer", func(t *testing.T) {
		provider := &scriptedProvider{turns: [][]llm.StreamEvent{
			{toolCallEvent("call_1"), {Done: true}},
			{{Delta: "done"}, {Done: true}},
		}}
		tools := &echoTools{}
		runner := newTestRunner(t, provider, tools, &fakeMemory{}, staticPersonality{prompt: "p"})
		sess := session.New("s1")

		var toolEvents int
		out, err := runner.RunStream(context.Background(), sess, "use a tool", func(ev Event) {
			if ev.Kind == EventTool {
				toolEvents++
			}
		})
		require.NoError(t, err)
		assert.Equal(t, "done", out.AssistantMessage.Content)
		require.Len(t, out.ToolEvents, 1)
		assert.Equal(t, 1, toolEvents)
		assert.Equal(t, []string{"echo"}, tools.calls)
		assert.Equal(t, `echo:{"x":1}`, out.ToolEvents[0].Result.Output)

		// user, assistant(tool_calls), tool, assistant
		require.Len(t, sess.Messages, 4)
		assert.Len(t, sess.Messages[1].ToolCalls, 1)
		assert.Equal(t, llm.RoleTool, sess.Messages[2].Role)
		assert.Equal(t, "call_1", sess.Messages[2].ToolCallID)

		// second request carries the tool exchange
		require.Len(t, provider.requests, 2)
		assert.Len(t, provider.requests[1].Messages, 4)
	})

	t.Run("should stop at max iterations without error", func(t *testing.T) {
		provider := &scriptedProvider{always: []llm.StreamEvent{toolCallEvent("call_x"), {Done: true}}}
		runner := newTestRunner(t, provider, &echoTools{}, &fakeMemory{}, staticPersonality{prompt: "p"})
		sess := session.New("s1")

		out, err := runner.Run(context.Background(), sess, "loop")
		require.NoError(t, err)
		assert.Contains(t, strings.ToLower(out.AssistantMessage.Content), "max iterations")
		assert.Len(t, provider.requests, 3)
		assert.Len(t, out.ToolEvents, 3)
		for _, ev := range out.ToolEvents {
			assert.Equal(t, ev.Call.ID, ev.Result.ToolCallID)
		}
		assert.Equal(t, MaxIterationsMessage, sess.Messages[len(sess.Messages)-1].Content)
	})

	t.Run("should turn dispatch errors into error results", func(t *testing.T) {
		provider := &scriptedProvider{turns: [][]llm.StreamEvent{
			{toolCallEvent("call_1"), {Done: true}},
			{{Delta: "ok"}, {Done: true}},
		}}
		runner := newTestRunner(t, provider, &echoTools{fail: true}, &fakeMemory{}, staticPersonality{prompt: "p"})

		out, err := runner.Run(context.Background(), session.New("s1"), "x")
		require.NoError(t, err)
		require.Len(t, out.ToolEvents, 1)
		result := out.ToolEvents[0].Result
		assert.True(t, result.IsError)
		assert.Equal(t, "tool error: boom", result.Output)
		assert.Equal(t, "call_1", result.ToolCallID)
	})

	t.Run("should abort when the personality cannot load", func(t *testing.T) {
		provider := &scriptedProvider{}
		runner := newTestRunner(t, provider, &echoTools{}, &fakeMemory{}, staticPersonality{err: errors.New("missing SOUL.md")})
		sess := session.New("s1")

		_, err := runner.Run(context.Background(), sess, "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing SOUL.md")
		assert.Empty(t, provider.requests)
		assert.Empty(t, sess.Messages)
	})

	t.Run("should ignore memory search failures", func(t *testing.T) {
		provider := &scriptedProvider{turns: [][]llm.StreamEvent{{{Delta: "fine"}, {Done: true}}}}
		mem := &fakeMemory{searchErr: errors.New("disk gone")}
		runner := newTestRunner(t, provider, &echoTools{}, mem, staticPersonality{prompt: "p"})

		out, err := runner.Run(context.Background(), session.New("s1"), "hi")
		require.NoError(t, err)
		assert.Equal(t, "fine", out.AssistantMessage.Content)
		assert.Equal(t, "p", provider.requests[0].Messages[0].Content)
	})

	t.Run("should include memory hits in the system prompt", func(t *testing.T) {
		provider := &scriptedProvider{turns: [][]llm.StreamEvent{{{Delta: "ok"}, {Done: true}}}}
		mem := &fakeMemory{hits: []memory.Hit{{Path: "MEMORY.md", Line: 2, Snippet: "likes tea"}}}
		runner := newTestRunner(t, provider, &echoTools{}, mem, staticPersonality{prompt: "p"})

		_, err := runner.Run(context.Background(), session.New("s1"), "tea")
		require.NoError(t, err)
		assert.Contains(t, provider.requests[0].Messages[0].Content, "- MEMORY.md:2: likes tea")
	})

	t.Run("should wrap stream errors with the iteration", func(t *testing.T) {
		provider := &brokenStreamProvider{}
		runner := newTestRunner(t, provider, &echoTools{}, &fakeMemory{}, staticPersonality{prompt: "p"})

		_, err := runner.Run(context.Background(), session.New("s1"), "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "iteration 1")
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("should wrap provider errors with the iteration", func(t *testing.T) {
		provider := &scriptedProvider{err: errors.New("unauthorized")}
		runner := newTestRunner(t, provider, &echoTools{}, &fakeMemory{}, staticPersonality{prompt: "p"})

		_, err := runner.Run(context.Background(), session.New("s1"), "hi")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model call failed at iteration 1")
	})
}

func TestPromptHelpers(t *testing.T) {
	t.Run("should keep system and latest message under a tiny budget", func(t *testing.T) {
		msgs := []llm.Message{
			llm.SystemMessage(strings.Repeat("s", 400)),
			llm.UserMessage(strings.Repeat("a", 400)),
			llm.AssistantMessage(strings.Repeat("b", 400)),
			llm.UserMessage("latest"),
		}
		out := EnforceTokenBudget(msgs, 1)
		require.Len(t, out, 2)
		assert.Equal(t, llm.RoleSystem, out[0].Role)
		assert.Equal(t, "latest", out[1].Content)
	})

	t.Run("should not modify the caller's slice", func(t *testing.T) {
		orig := []llm.Message{
			llm.SystemMessage("s"),
			llm.UserMessage(strings.Repeat("a", 40)),
			llm.AssistantMessage("b"),
			llm.UserMessage("c"),
		}
		out := EnforceTokenBudget(orig, 20)
		require.Len(t, out, 2)
		assert.Equal(t, "c", out[1].Content)

		require.Len(t, orig, 4)
		assert.Equal(t, strings.Repeat("a", 40), orig[1].Content)
		assert.Equal(t, "b", orig[2].Content)
		assert.Equal(t, "c", orig[3].Content)
	})

	t.Run("should leave messages alone within budget", func(t *testing.T) {
		msgs := []llm.Message{llm.SystemMessage("s"), llm.UserMessage("u")}
		assert.Len(t, EnforceTokenBudget(msgs, 1000), 2)
		assert.Equal(t, 2*8, EstimateTokens(msgs))
	})

	t.Run("should cap memory context at six hits", func(t *testing.T) {
		hits := make([]memory.Hit, 10)
		for i := range hits {
			hits[i] = memory.Hit{Path: "a.md", Line: i + 1, Snippet: "x"}
		}
		prompt := BuildSystemPrompt(" base ", hits)
		assert.True(t, strings.HasPrefix(prompt, "base\n\n# Relevant Memory Context\n"))
		assert.Equal(t, 6, strings.Count(prompt, "- a.md:"))
		assert.Equal(t, "base", BuildSystemPrompt("base", nil))
	})
}
