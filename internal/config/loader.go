package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const defaultTemplate = `{
  "server": {
    "host": "0.0.0.0",
    "port": 3000
  },
  "llm": {
    "provider": "openai",
    "model": "gpt-4o-mini",
    "temperature": 0.2,
    "max_tokens": 1024,
    "max_iterations": 6,
    "token_budget": 12000
  },
  "paths": {
    "working_dir": ".",
    "personality_dir": "personality",
    "memory_dir": "memory",
    "memory_file": "MEMORY.md",
    "skills_dir": "skills",
    "log_dir": "logs"
  },
  "secrets": {},
  "channels": {
    "telegram": {
      "enabled": false,
      "api_base_url": "https://api.telegram.org",
      "poll_timeout_secs": 30
    }
  },
  "sessions": {
    "backend": "memory",
    "max_idle_hours": 168
  },
  "logging": {
    "level": "info",
    "retention_days": 7,
    "pretty": false
  }
}
`

const defaultEnvExample = `OPENAI_API_KEY=
ANTHROPIC_API_KEY=
GEMINI_API_KEY=
TELEGRAM_BOT_TOKEN=
`

// Loaded is the result of Load.
type Loaded struct {
	App  AppConfig
	File FileConfig
	Raw  string
	Path string
}

// DefaultTemplate returns the file written when agent.json is missing.
func DefaultTemplate() string {
	return defaultTemplate
}

// ResolvePath picks the config path: explicit, then AGENT_CONFIG_PATH, then
// ./agent.json. The result is absolute.
func ResolvePath(explicit string) (string, error) {
	path := strings.TrimSpace(explicit)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(ConfigPathEnv))
	}
	if path == "" {
		path = DefaultConfigFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}
	return abs, nil
}

// Load reads the config at path (see ResolvePath), writing the default
// template first when the file is missing.
func Load(path string) (*Loaded, error) {
	configPath, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	root := filepath.Dir(configPath)

	if err := ensureFile(configPath, defaultTemplate); err != nil {
		return nil, err
	}
	if err := ensureFile(filepath.Join(root, ".env.example"), defaultEnvExample); err != nil {
		return nil, err
	}

	file, raw, err := ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	env, err := LoadEnvSecrets(filepath.Join(root, ".env"))
	if err != nil {
		return nil, err
	}

	app := Resolve(*file, env, root)
	app.ConfigPath = configPath

	return &Loaded{App: app, File: *file, Raw: raw, Path: configPath}, nil
}

// ReadFile parses the config file with viper. CHAOS_-prefixed environment
// variables override keys present in the file (CHAOS_LLM_MODEL for llm.model).
func ReadFile(path string) (*FileConfig, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	if !json.Valid(data) {
		return nil, string(data), fmt.Errorf("invalid config json: %s", path)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, string(data), fmt.Errorf("failed to read config file: %w", err)
	}

	var file FileConfig
	if err := v.Unmarshal(&file); err != nil {
		return nil, string(data), fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &file, string(data), nil
}

// ParseFileConfig decodes a raw agent.json payload.
func ParseFileConfig(raw string) (*FileConfig, error) {
	var file FileConfig
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: invalid config json in raw payload: %w", ErrInvalid, err)
	}
	return &file, nil
}

// LoadEnvSecrets reads secrets from the process environment, falling back to
// the .env file at envPath when present.
func LoadEnvSecrets(envPath string) (EnvSecrets, error) {
	values := map[string]string{}
	if envPath != "" {
		parsed, err := godotenv.Read(envPath)
		switch {
		case err == nil:
			values = parsed
		case errors.Is(err, fs.ErrNotExist):
		default:
			return EnvSecrets{}, fmt.Errorf("failed to read %s: %w", envPath, err)
		}
	}

	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(values[key])
	}

	return EnvSecrets{
		OpenAIAPIKey:     lookup("OPENAI_API_KEY"),
		AnthropicAPIKey:  lookup("ANTHROPIC_API_KEY"),
		GeminiAPIKey:     lookup("GEMINI_API_KEY"),
		TelegramBotToken: lookup("TELEGRAM_BOT_TOKEN"),
	}, nil
}

// Marshal renders file as pretty JSON with a trailing newline.
func Marshal(file FileConfig) (string, error) {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data) + "\n", nil
}

// BackupPath returns "<path>.bak<level>".
func BackupPath(path string, level int) string {
	return fmt.Sprintf("%s.bak%d", path, level)
}

// WriteWithBackups rotates .bak1 to .bak2, copies the current file to .bak1
// and writes file as pretty JSON. It returns the written text.
func WriteWithBackups(path string, file FileConfig) (string, error) {
	if err := rotateBackups(path); err != nil {
		return "", err
	}

	raw, err := Marshal(file)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return raw, nil
}

func rotateBackups(path string) error {
	current, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config for backup: %w", err)
	}

	bak1, bak2 := BackupPath(path, 1), BackupPath(path, 2)
	if err := os.Remove(bak2); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove old backup file %s: %w", bak2, err)
	}
	if err := os.Rename(bak1, bak2); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to rotate config backup from %s to %s: %w", bak1, bak2, err)
	}
	if err := os.WriteFile(bak1, current, 0o644); err != nil {
		return fmt.Errorf("failed to create config backup %s: %w", bak1, err)
	}
	return nil
}

func ensureFile(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("Wrote default config file")
	return nil
}
