package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func clearSecretEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "TELEGRAM_BOT_TOKEN", ConfigPathEnv} {
		t.Setenv(key, "")
	}
}

func TestDefaults(t *testing.T) {
	t.Run("should match the documented defaults", func(t *testing.T) {
		cfg := Defaults("/srv/bot")
		assert.Equal(t, "0.0.0.0", cfg.Host)
		assert.Equal(t, 3000, cfg.Port)
		assert.Equal(t, "openai", cfg.Provider)
		assert.Equal(t, "gpt-4o-mini", cfg.Model)
		assert.InDelta(t, 0.2, cfg.Temperature, 1e-9)
		assert.Equal(t, 1024, cfg.MaxTokens)
		assert.Equal(t, 6, cfg.MaxIterations)
		assert.Equal(t, 12000, cfg.TokenBudget)
		assert.Equal(t, "/srv/bot", cfg.WorkingDir)
		assert.Equal(t, filepath.Join("/srv/bot", "personality"), cfg.PersonalityDir)
		assert.Equal(t, filepath.Join("/srv/bot", "MEMORY.md"), cfg.MemoryFile)
		assert.Equal(t, filepath.Join("/srv/bot", "logs"), cfg.LogDir)
		assert.NoError(t, cfg.Validate())
	})
}

func TestResolve(t *testing.T) {
	t.Run("should let file secrets win over env secrets", func(t *testing.T) {
		file := FileConfig{Secrets: SecretsFileConfig{OpenAIAPIKey: ptr("file-key")}}
		cfg := Resolve(file, EnvSecrets{OpenAIAPIKey: "env-key", AnthropicAPIKey: "env-ant"}, "/root")
		assert.Equal(t, "file-key", cfg.OpenAIAPIKey)
		assert.Equal(t, "env-ant", cfg.AnthropicAPIKey)
	})

	t.Run("should ignore blank file secrets", func(t *testing.T) {
		file := FileConfig{Secrets: SecretsFileConfig{OpenAIAPIKey: ptr("  ")}}
		cfg := Resolve(file, EnvSecrets{OpenAIAPIKey: "env-key"}, "/root")
		assert.Equal(t, "env-key", cfg.OpenAIAPIKey)
	})

	t.Run("should resolve relative paths against the root", func(t *testing.T) {
		file := FileConfig{Paths: PathsFileConfig{
			WorkingDir: ptr("work"),
			SkillsDir:  ptr("/abs/skills"),
		}}
		cfg := Resolve(file, EnvSecrets{}, "/root")
		assert.Equal(t, filepath.Join("/root", "work"), cfg.WorkingDir)
		assert.Equal(t, "/abs/skills", cfg.SkillsDir)
		assert.Equal(t, filepath.Join("/root", "memory"), cfg.MemoryDir)
	})

	t.Run("should normalize provider and log settings", func(t *testing.T) {
		file := FileConfig{
			LLM:     LLMFileConfig{Provider: ptr(" Anthropic ")},
			Logging: LoggingFileConfig{Level: ptr("WARNING"), RetentionDays: ptr(0)},
			Channels: ChannelsFileConfig{Telegram: TelegramFileConfig{
				APIBaseURL: ptr("https://tg.example/"),
			}},
		}
		cfg := Resolve(file, EnvSecrets{AnthropicAPIKey: "a"}, "/root")
		assert.Equal(t, "anthropic", cfg.Provider)
		assert.Equal(t, "a", cfg.APIKey())
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, 1, cfg.LogRetentionDays)
		assert.Equal(t, "https://tg.example", cfg.TelegramAPIBaseURL)
	})
}

func TestRedacted(t *testing.T) {
	t.Run("should mask only present secrets", func(t *testing.T) {
		cfg := Defaults("/r")
		cfg.OpenAIAPIKey = "sk-live"
		out := cfg.Redacted()
		assert.Equal(t, "***REDACTED***", out.OpenAIAPIKey)
		assert.Empty(t, out.AnthropicAPIKey)
		assert.Equal(t, "sk-live", cfg.OpenAIAPIKey)
	})

	t.Run("should mask file secrets without touching the original", func(t *testing.T) {
		file := FileConfig{}
		file.Secrets.TelegramBotToken = ptr("123:abc")
		out := file.Redacted()
		require.NotNil(t, out.Secrets.TelegramBotToken)
		assert.Equal(t, "***REDACTED***", *out.Secrets.TelegramBotToken)
		assert.Nil(t, out.Secrets.OpenAIAPIKey)
		assert.Equal(t, "123:abc", *file.Secrets.TelegramBotToken)
	})
}

func TestValidate(t *testing.T) {
	t.Run("should collect every problem", func(t *testing.T) {
		cfg := Defaults("/r")
		cfg.Port = 0
		cfg.Provider = "mistral"
		cfg.Temperature = 3
		cfg.MaxIterations = 0
		cfg.SessionBackend = "redis"

		err := cfg.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalid)
		for _, want := range []string{"server.port", "llm.provider", "llm.temperature", "llm.max_iterations", "sessions.backend"} {
			assert.Contains(t, err.Error(), want)
		}
	})

	t.Run("should require a bot token when telegram is enabled", func(t *testing.T) {
		cfg := Defaults("/r")
		cfg.TelegramEnabled = true
		assert.ErrorContains(t, cfg.Validate(), "no bot token")

		cfg.TelegramBotToken = "123:abc"
		assert.NoError(t, cfg.Validate())
	})
}
