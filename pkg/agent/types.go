package agent

import (
	"context"

	"github.com/MinchaoZhu/chaos-bot/pkg/llm"
)

// MaxIterationsMessage is the reply recorded when the loop gives up.
const MaxIterationsMessage = "Agent reached max iterations without a final answer."

// Config holds the per-runner model settings.
type Config struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxIterations int
	TokenBudget   int
	WorkingDir    string
}

// PersonalitySource supplies the base system prompt.
type PersonalitySource interface {
	SystemPrompt(ctx context.Context) (string, error)
}

// ToolEvent pairs a tool call with its result.
type ToolEvent struct {
	Call   llm.ToolCall   `json:"call"`
	Result llm.ToolResult `json:"result"`
}

// EventKind distinguishes streamed events.
type EventKind string

const (
	EventDelta EventKind = "delta"
	EventTool  EventKind = "tool"
)

// Event is delivered to the RunStream callback.
type Event struct {
	Kind  EventKind
	Delta string
	Tool  *ToolEvent
}

// RunOutput is the outcome of a run. FinishReason is empty when no model
// call completed.
type RunOutput struct {
	AssistantMessage llm.Message `json:"assistant_message"`
	ToolEvents       []ToolEvent `json:"tool_events"`
	Usage            *llm.Usage  `json:"usage,omitempty"`
	FinishReason     string      `json:"finish_reason,omitempty"`
}
