package agent

import (
	"fmt"
	"slices"
	"strings"

	"github.com/MinchaoZhu/chaos-bot/pkg/llm"
	"github.com/MinchaoZhu/chaos-bot/pkg/memory"
)

const maxMemoryContextHits = 6

// BuildSystemPrompt appends up to six memory hits to the trimmed personality.
func BuildSystemPrompt(personality string, hits []memory.Hit) string {
	prompt := strings.TrimSpace(personality)
	if len(hits) == 0 {
		return prompt
	}

	lines := make([]string, 0, maxMemoryContextHits)
	for i, hit := range hits {
		if i == maxMemoryContextHits {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s:%d: %s", hit.Path, hit.Line, hit.Snippet))
	}
	return prompt + "\n\n# Relevant Memory Context\n" + strings.Join(lines, "\n")
}

// EstimateTokens approximates the prompt size as len(content)/4 + 8 per message.
func EstimateTokens(messages []llm.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content)/4 + 8
	}
	return total
}

// EnforceTokenBudget drops the oldest non-system message until the estimate
// fits the budget or only two messages remain. The input slice is never modified.
func EnforceTokenBudget(messages []llm.Message, budget int) []llm.Message {
	if EstimateTokens(messages) <= budget || len(messages) <= 2 {
		return messages
	}
	trimmed := slices.Clone(messages)
	for EstimateTokens(trimmed) > budget && len(trimmed) > 2 {
		trimmed = slices.Delete(trimmed, 1, 2)
	}
	return trimmed
}
