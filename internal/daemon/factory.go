package daemon

import (
	"context"
	"fmt"

	"github.com/MinchaoZhu/chaos-bot/internal/config"
	"github.com/MinchaoZhu/chaos-bot/pkg/agent"
	"github.com/MinchaoZhu/chaos-bot/pkg/coretools"
	"github.com/MinchaoZhu/chaos-bot/pkg/llm"
	"github.com/MinchaoZhu/chaos-bot/pkg/memory"
	"github.com/MinchaoZhu/chaos-bot/pkg/toolexecutor"
	"github.com/MinchaoZhu/chaos-bot/pkg/workspace"
	"github.com/rs/zerolog"
)

// Components is everything one configuration snapshot runs with.
type Components struct {
	Runner      *agent.Runner
	Personality *workspace.PersonalityLoader
	Memory      *memory.Store
}

// AgentFactory builds the agent for a resolved configuration.
type AgentFactory interface {
	Build(ctx context.Context, app config.AppConfig) (*Components, error)
}

// DefaultFactory builds the production agent: the configured LLM provider,
// every core tool, the file memory store and the personality loader.
type DefaultFactory struct {
	Logger zerolog.Logger
}

func (f DefaultFactory) Build(ctx context.Context, app config.AppConfig) (*Components, error) {
	provider, err := llm.NewProvider(llm.ProviderConfig{
		Name:            app.Provider,
		OpenAIAPIKey:    app.OpenAIAPIKey,
		OpenAIBaseURL:   app.BaseURL,
		AnthropicAPIKey: app.AnthropicAPIKey,
		GeminiAPIKey:    app.GeminiAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}

	mem := memory.New(memory.Config{
		Dir:         app.MemoryDir,
		CuratedFile: app.MemoryFile,
		Logger:      f.Logger,
	})
	if err := mem.EnsureLayout(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare memory: %w", err)
	}

	tools := toolexecutor.New()
	if err := coretools.RegisterDefaultTools(tools); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	personality := workspace.NewPersonalityLoader(app.PersonalityDir)

	runner, err := agent.NewRunner(agent.Options{
		Provider:    provider,
		Tools:       tools,
		Personality: personality,
		Memory:      mem,
		Config: agent.Config{
			Model:         app.Model,
			Temperature:   app.Temperature,
			MaxTokens:     app.MaxTokens,
			MaxIterations: app.MaxIterations,
			TokenBudget:   app.TokenBudget,
			WorkingDir:    app.WorkingDir,
		},
		Logger: f.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent runner: %w", err)
	}

	return &Components{Runner: runner, Personality: personality, Memory: mem}, nil
}
