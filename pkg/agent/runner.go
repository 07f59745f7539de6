package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MinchaoZhu/chaos-bot/internal/observability"
	"github.com/MinchaoZhu/chaos-bot/internal/tracing"
	"github.com/MinchaoZhu/chaos-bot/pkg/llm"
	"github.com/MinchaoZhu/chaos-bot/pkg/session"
	"github.com/MinchaoZhu/chaos-bot/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const dailyLogReplyRunes = 160

// ToolRegistry is the tool surface the runner needs.
type ToolRegistry interface {
	Specs() []llm.ToolSpec
	Dispatch(ctx context.Context, callID, name string, args json.RawMessage, ec *toolexecutor.ExecutionContext) (*llm.ToolResult, error)
}

// Options wires a Runner.
type Options struct {
	Provider    llm.Provider
	Tools       ToolRegistry
	Personality PersonalitySource
	Memory      toolexecutor.MemoryPort
	Config      Config
	Logger      zerolog.Logger
}

// Runner drives the model/tool loop. It is safe for concurrent runs on
// different sessions.
type Runner struct {
	provider    llm.Provider
	tools       ToolRegistry
	personality PersonalitySource
	memory      toolexecutor.MemoryPort
	config      Config
	logger      zerolog.Logger
}

// NewRunner validates opts and builds a Runner.
func NewRunner(opts Options) (*Runner, error) {
	observability.EnsureRegistered()

	if opts.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if opts.Tools == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if opts.Personality == nil {
		return nil, fmt.Errorf("personality source is required")
	}
	if opts.Memory == nil {
		return nil, fmt.Errorf("memory is required")
	}

	return &Runner{
		provider:    opts.Provider,
		tools:       opts.Tools,
		personality: opts.Personality,
		memory:      opts.Memory,
		config:      opts.Config,
		logger:      opts.Logger.With().Str("component", "agent").Logger(),
	}, nil
}

// Config returns the runner's model settings.
func (r *Runner) Config() Config {
	return r.config
}

// ProviderName returns the backing provider's name.
func (r *Runner) ProviderName() string {
	return r.provider.Name()
}

// Run is RunStream without a callback.
func (r *Runner) Run(ctx context.Context, sess *session.State, input string) (*RunOutput, error) {
	return r.RunStream(ctx, sess, input, nil)
}

// RunStream handles one user turn against sess, appending every message it
// produces. onEvent, when set, receives deltas and tool events in order.
func (r *Runner) RunStream(ctx context.Context, sess *session.State, input string, onEvent func(Event)) (out *RunOutput, err error) {
	if sess == nil {
		return nil, fmt.Errorf("session is required")
	}
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	ctx = tracing.NewRequestContext(ctx)
	ctx = tracing.WithRunID(ctx, tracing.NewRunID())
	ctx = tracing.WithSessionID(ctx, sess.ID)
	ctx, span := tracing.StartSpan(ctx, "chaos.agent", "agent.run",
		attribute.String("session_id", sess.ID),
		attribute.String("provider", r.provider.Name()),
		attribute.String("model", r.config.Model),
	)
	logger := tracing.LoggerFromContext(ctx, r.logger)

	started := time.Now()
	iterations := 0
	defer func() {
		observability.RecordAgentRun(r.provider.Name(), time.Since(started), iterations, err == nil)
		if out != nil {
			span.SetAttributes(attribute.String("finish_reason", out.FinishReason))
		}
		tracing.EndSpan(span, err)
	}()

	personality, err := r.personality.SystemPrompt(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load personality: %w", err)
	}

	hits, searchErr := r.memory.Search(ctx, input)
	if searchErr != nil {
		logger.Debug().Err(searchErr).Msg("Memory search failed, continuing without context")
		hits = nil
	}

	sess.PushMessage(llm.UserMessage(input))

	messages := make([]llm.Message, 0, len(sess.Messages)+1)
	messages = append(messages, llm.SystemMessage(BuildSystemPrompt(personality, hits)))
	messages = append(messages, sess.Messages...)

	out = &RunOutput{}
	execCtx := &toolexecutor.ExecutionContext{RootDir: r.config.WorkingDir, Memory: r.memory}

	for iteration := 1; iteration <= r.config.MaxIterations; iteration++ {
		iterations = iteration
		messages = EnforceTokenBudget(messages, r.config.TokenBudget)

		logger.Debug().
			Int("iteration", iteration).
			Int("messages", len(messages)).
			Int("estimated_tokens", EstimateTokens(messages)).
			Msg("Calling model")

		content, calls, usage, err := r.consume(ctx, llm.Request{
			Model:       r.config.Model,
			Messages:    messages,
			Tools:       r.tools.Specs(),
			Temperature: r.config.Temperature,
			MaxTokens:   r.config.MaxTokens,
		}, onEvent)
		if usage != nil {
			out.Usage = usage
		}
		if err != nil {
			return nil, fmt.Errorf("model call failed at iteration %d: %w", iteration, err)
		}

		assistant := llm.AssistantMessage(content)
		assistant.ToolCalls = calls
		sess.PushMessage(assistant)
		messages = append(messages, assistant)

		if len(calls) == 0 {
			out.AssistantMessage = assistant
			out.FinishReason = "stop"
			r.appendDailyLog(ctx, logger, input, content)
			return out, nil
		}

		out.FinishReason = "tool_calls"
		for _, call := range calls {
			result := r.dispatch(ctx, logger, call, execCtx)

			toolMsg := llm.ToolMessage(call.Name, call.ID, result.Output)
			sess.PushMessage(toolMsg)
			messages = append(messages, toolMsg)

			event := ToolEvent{Call: call, Result: result}
			out.ToolEvents = append(out.ToolEvents, event)
			onEvent(Event{Kind: EventTool, Tool: &event})
		}
	}

	logger.Warn().Int("max_iterations", r.config.MaxIterations).Msg("Agent reached max iterations")
	final := llm.AssistantMessage(MaxIterationsMessage)
	sess.PushMessage(final)
	out.AssistantMessage = final
	return out, nil
}

// consume opens one stream and drains it, forwarding deltas as they arrive.
func (r *Runner) consume(ctx context.Context, req llm.Request, onEvent func(Event)) (string, []llm.ToolCall, *llm.Usage, error) {
	stream, err := r.provider.ChatStream(ctx, req)
	if err != nil {
		return "", nil, nil, err
	}
	defer stream.Close()

	var (
		content []byte
		calls   []llm.ToolCall
		usage   *llm.Usage
	)
	for {
		event, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return string(content), calls, usage, nil
		}
		if err != nil {
			return string(content), calls, usage, err
		}

		if event.Delta != "" {
			observability.RecordStreamEvent("delta")
			content = append(content, event.Delta...)
			onEvent(Event{Kind: EventDelta, Delta: event.Delta})
		}
		if event.ToolCall != nil {
			observability.RecordStreamEvent("tool_call")
			calls = append(calls, *event.ToolCall)
		}
		if event.Done {
			observability.RecordStreamEvent("done")
			usage = event.Usage
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, logger zerolog.Logger, call llm.ToolCall, ec *toolexecutor.ExecutionContext) llm.ToolResult {
	result, err := r.tools.Dispatch(ctx, call.ID, call.Name, call.Arguments, ec)
	if err != nil {
		logger.Warn().Str("tool", call.Name).Str("tool_call_id", call.ID).Err(err).Msg("Tool dispatch failed")
		return llm.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Output:     "tool error: " + err.Error(),
			IsError:    true,
		}
	}

	logger.Debug().Str("tool", call.Name).Str("tool_call_id", call.ID).Bool("is_error", result.IsError).Msg("Tool dispatched")
	return *result
}

func (r *Runner) appendDailyLog(ctx context.Context, logger zerolog.Logger, input, reply string) {
	runes := []rune(reply)
	if len(runes) > dailyLogReplyRunes {
		runes = runes[:dailyLogReplyRunes]
	}
	summary := fmt.Sprintf("User: %s | Assistant: %s", input, string(runes))
	if _, err := r.memory.AppendDailyLog(ctx, summary); err != nil {
		logger.Warn().Err(err).Msg("Failed to append daily log")
	}
}
