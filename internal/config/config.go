// Package config loads agent.json, merges it with defaults and environment
// secrets, and writes it back with rotating backups.
package config

import (
	"path/filepath"
	"strings"
)

const (
	// DefaultConfigFile is used when neither a flag nor AGENT_CONFIG_PATH is set.
	DefaultConfigFile = "agent.json"
	// ConfigPathEnv overrides the config file location.
	ConfigPathEnv = "AGENT_CONFIG_PATH"
	// EnvPrefix is the viper environment prefix.
	EnvPrefix = "CHAOS"

	redacted = "***REDACTED***"
)

// FileConfig mirrors agent.json. Every field is optional; nil means "use the
// default".
type FileConfig struct {
	Server   ServerFileConfig   `json:"server" mapstructure:"server"`
	LLM      LLMFileConfig      `json:"llm" mapstructure:"llm"`
	Paths    PathsFileConfig    `json:"paths" mapstructure:"paths"`
	Secrets  SecretsFileConfig  `json:"secrets" mapstructure:"secrets"`
	Channels ChannelsFileConfig `json:"channels" mapstructure:"channels"`
	Sessions SessionsFileConfig `json:"sessions" mapstructure:"sessions"`
	Logging  LoggingFileConfig  `json:"logging" mapstructure:"logging"`
}

// ServerFileConfig holds HTTP listener settings.
type ServerFileConfig struct {
	Host *string `json:"host,omitempty" mapstructure:"host"`
	Port *int    `json:"port,omitempty" mapstructure:"port"`
}

// LLMFileConfig holds model settings.
type LLMFileConfig struct {
	Provider      *string  `json:"provider,omitempty" mapstructure:"provider"`
	Model         *string  `json:"model,omitempty" mapstructure:"model"`
	BaseURL       *string  `json:"base_url,omitempty" mapstructure:"base_url"`
	Temperature   *float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens     *int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
	MaxIterations *int     `json:"max_iterations,omitempty" mapstructure:"max_iterations"`
	TokenBudget   *int     `json:"token_budget,omitempty" mapstructure:"token_budget"`
}

// PathsFileConfig holds runtime directories, relative to the config root.
type PathsFileConfig struct {
	WorkingDir     *string `json:"working_dir,omitempty" mapstructure:"working_dir"`
	PersonalityDir *string `json:"personality_dir,omitempty" mapstructure:"personality_dir"`
	MemoryDir      *string `json:"memory_dir,omitempty" mapstructure:"memory_dir"`
	MemoryFile     *string `json:"memory_file,omitempty" mapstructure:"memory_file"`
	SkillsDir      *string `json:"skills_dir,omitempty" mapstructure:"skills_dir"`
	LogDir         *string `json:"log_dir,omitempty" mapstructure:"log_dir"`
}

// SecretsFileConfig holds credentials. File values win over the environment.
type SecretsFileConfig struct {
	OpenAIAPIKey     *string `json:"openai_api_key,omitempty" mapstructure:"openai_api_key"`
	AnthropicAPIKey  *string `json:"anthropic_api_key,omitempty" mapstructure:"anthropic_api_key"`
	GeminiAPIKey     *string `json:"gemini_api_key,omitempty" mapstructure:"gemini_api_key"`
	TelegramBotToken *string `json:"telegram_bot_token,omitempty" mapstructure:"telegram_bot_token"`
}

// ChannelsFileConfig holds channel connector settings.
type ChannelsFileConfig struct {
	Telegram TelegramFileConfig `json:"telegram" mapstructure:"telegram"`
}

// TelegramFileConfig holds Telegram connector settings.
type TelegramFileConfig struct {
	Enabled         *bool   `json:"enabled,omitempty" mapstructure:"enabled"`
	APIBaseURL      *string `json:"api_base_url,omitempty" mapstructure:"api_base_url"`
	PollTimeoutSecs *int    `json:"poll_timeout_secs,omitempty" mapstructure:"poll_timeout_secs"`
}

// SessionsFileConfig holds session store settings.
type SessionsFileConfig struct {
	Backend      *string `json:"backend,omitempty" mapstructure:"backend"`
	MaxIdleHours *int    `json:"max_idle_hours,omitempty" mapstructure:"max_idle_hours"`
}

// LoggingFileConfig holds logging settings.
type LoggingFileConfig struct {
	Level         *string `json:"level,omitempty" mapstructure:"level"`
	RetentionDays *int    `json:"retention_days,omitempty" mapstructure:"retention_days"`
	Pretty        *bool   `json:"pretty,omitempty" mapstructure:"pretty"`
}

// AppConfig is the resolved runtime configuration.
type AppConfig struct {
	ConfigPath string `json:"config_path"`
	Root       string `json:"root"`

	Host string `json:"host"`
	Port int    `json:"port"`

	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	BaseURL       string  `json:"base_url,omitempty"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	MaxIterations int     `json:"max_iterations"`
	TokenBudget   int     `json:"token_budget"`

	OpenAIAPIKey     string `json:"openai_api_key,omitempty"`
	AnthropicAPIKey  string `json:"anthropic_api_key,omitempty"`
	GeminiAPIKey     string `json:"gemini_api_key,omitempty"`
	TelegramBotToken string `json:"telegram_bot_token,omitempty"`

	WorkingDir     string `json:"working_dir"`
	PersonalityDir string `json:"personality_dir"`
	MemoryDir      string `json:"memory_dir"`
	MemoryFile     string `json:"memory_file"`
	SkillsDir      string `json:"skills_dir"`
	LogDir         string `json:"log_dir"`

	TelegramEnabled         bool   `json:"telegram_enabled"`
	TelegramAPIBaseURL      string `json:"telegram_api_base_url"`
	TelegramPollTimeoutSecs int    `json:"telegram_poll_timeout_secs"`

	SessionBackend      string `json:"session_backend"`
	SessionMaxIdleHours int    `json:"session_max_idle_hours"`

	LogLevel         string `json:"log_level"`
	LogRetentionDays int    `json:"log_retention_days"`
	LogPretty        bool   `json:"log_pretty"`
}

// EnvSecrets are credentials sourced from the environment or .env.
type EnvSecrets struct {
	OpenAIAPIKey     string
	AnthropicAPIKey  string
	GeminiAPIKey     string
	TelegramBotToken string
}

// Defaults returns the default configuration rooted at root.
func Defaults(root string) AppConfig {
	return AppConfig{
		Root:                    root,
		ConfigPath:              filepath.Join(root, DefaultConfigFile),
		Host:                    "0.0.0.0",
		Port:                    3000,
		Provider:                "openai",
		Model:                   "gpt-4o-mini",
		Temperature:             0.2,
		MaxTokens:               1024,
		MaxIterations:           6,
		TokenBudget:             12000,
		WorkingDir:              root,
		PersonalityDir:          filepath.Join(root, "personality"),
		MemoryDir:               filepath.Join(root, "memory"),
		MemoryFile:              filepath.Join(root, "MEMORY.md"),
		SkillsDir:               filepath.Join(root, "skills"),
		LogDir:                  filepath.Join(root, "logs"),
		TelegramAPIBaseURL:      "https://api.telegram.org",
		TelegramPollTimeoutSecs: 30,
		SessionBackend:          "memory",
		SessionMaxIdleHours:     168,
		LogLevel:                "info",
		LogRetentionDays:        7,
	}
}

// Resolve merges defaults < env secrets < file values. Relative paths in the
// file are resolved against root.
func Resolve(file FileConfig, env EnvSecrets, root string) AppConfig {
	cfg := Defaults(root)

	cfg.OpenAIAPIKey = env.OpenAIAPIKey
	cfg.AnthropicAPIKey = env.AnthropicAPIKey
	cfg.GeminiAPIKey = env.GeminiAPIKey
	cfg.TelegramBotToken = env.TelegramBotToken

	setString(&cfg.Host, file.Server.Host)
	setInt(&cfg.Port, file.Server.Port)

	setString(&cfg.Provider, file.LLM.Provider)
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	setString(&cfg.Model, file.LLM.Model)
	setString(&cfg.BaseURL, file.LLM.BaseURL)
	if file.LLM.Temperature != nil {
		cfg.Temperature = *file.LLM.Temperature
	}
	setInt(&cfg.MaxTokens, file.LLM.MaxTokens)
	setInt(&cfg.MaxIterations, file.LLM.MaxIterations)
	setInt(&cfg.TokenBudget, file.LLM.TokenBudget)

	if file.Paths.WorkingDir != nil {
		cfg.WorkingDir = resolvePath(root, *file.Paths.WorkingDir)
	}
	setPath(&cfg.PersonalityDir, root, file.Paths.PersonalityDir)
	setPath(&cfg.MemoryDir, root, file.Paths.MemoryDir)
	setPath(&cfg.MemoryFile, root, file.Paths.MemoryFile)
	setPath(&cfg.SkillsDir, root, file.Paths.SkillsDir)
	setPath(&cfg.LogDir, root, file.Paths.LogDir)

	setString(&cfg.OpenAIAPIKey, file.Secrets.OpenAIAPIKey)
	setString(&cfg.AnthropicAPIKey, file.Secrets.AnthropicAPIKey)
	setString(&cfg.GeminiAPIKey, file.Secrets.GeminiAPIKey)
	setString(&cfg.TelegramBotToken, file.Secrets.TelegramBotToken)

	if file.Channels.Telegram.Enabled != nil {
		cfg.TelegramEnabled = *file.Channels.Telegram.Enabled
	}
	setString(&cfg.TelegramAPIBaseURL, file.Channels.Telegram.APIBaseURL)
	cfg.TelegramAPIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.TelegramAPIBaseURL), "/")
	if cfg.TelegramAPIBaseURL == "" {
		cfg.TelegramAPIBaseURL = "https://api.telegram.org"
	}
	setInt(&cfg.TelegramPollTimeoutSecs, file.Channels.Telegram.PollTimeoutSecs)

	setString(&cfg.SessionBackend, file.Sessions.Backend)
	setInt(&cfg.SessionMaxIdleHours, file.Sessions.MaxIdleHours)

	if file.Logging.Level != nil {
		cfg.LogLevel = normalizeLogLevel(*file.Logging.Level)
	}
	if file.Logging.RetentionDays != nil {
		cfg.LogRetentionDays = max(*file.Logging.RetentionDays, 1)
	}
	if file.Logging.Pretty != nil {
		cfg.LogPretty = *file.Logging.Pretty
	}

	return cfg
}

// Redacted returns a copy with secrets masked.
func (c AppConfig) Redacted() AppConfig {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.OpenAIAPIKey)
	mask(&c.AnthropicAPIKey)
	mask(&c.GeminiAPIKey)
	mask(&c.TelegramBotToken)
	return c
}

// Redacted returns a copy with secret values masked. Unset secrets stay unset.
func (f FileConfig) Redacted() FileConfig {
	mask := func(s *string) *string {
		if s == nil || *s == "" {
			return s
		}
		v := redacted
		return &v
	}
	f.Secrets.OpenAIAPIKey = mask(f.Secrets.OpenAIAPIKey)
	f.Secrets.AnthropicAPIKey = mask(f.Secrets.AnthropicAPIKey)
	f.Secrets.GeminiAPIKey = mask(f.Secrets.GeminiAPIKey)
	f.Secrets.TelegramBotToken = mask(f.Secrets.TelegramBotToken)
	return f
}

// APIKey returns the key for the configured provider.
func (c AppConfig) APIKey() string {
	switch c.Provider {
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return c.OpenAIAPIKey
	}
}

func setString(dst *string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = strings.TrimSpace(*v)
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setPath(dst *string, root string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = resolvePath(root, *v)
	}
}

func resolvePath(root, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return root
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

func normalizeLogLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return "debug"
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return "info"
	}
}
