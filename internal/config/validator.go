package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid marks configuration rejected by parsing or validation.
var ErrInvalid = errors.New("invalid config")

var (
	supportedProviders = []string{"openai", "anthropic", "gemini"}
	supportedBackends  = []string{"memory", "sqlite"}
)

// Validate checks the resolved configuration and returns every problem found.
func (c AppConfig) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Port))
	}
	if !contains(supportedProviders, c.Provider) {
		errs = append(errs, fmt.Errorf("llm.provider must be one of %s, got %q", strings.Join(supportedProviders, ", "), c.Provider))
	}
	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2, got %g", c.Temperature))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must be positive, got %d", c.MaxTokens))
	}
	if c.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_iterations must be positive, got %d", c.MaxIterations))
	}
	if c.TokenBudget <= 0 {
		errs = append(errs, fmt.Errorf("llm.token_budget must be positive, got %d", c.TokenBudget))
	}
	if !contains(supportedBackends, c.SessionBackend) {
		errs = append(errs, fmt.Errorf("sessions.backend must be one of %s, got %q", strings.Join(supportedBackends, ", "), c.SessionBackend))
	}
	if c.SessionMaxIdleHours < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_idle_hours must not be negative, got %d", c.SessionMaxIdleHours))
	}
	if c.TelegramEnabled {
		if c.TelegramBotToken == "" {
			errs = append(errs, errors.New("telegram is enabled but no bot token found; set TELEGRAM_BOT_TOKEN or secrets.telegram_bot_token"))
		}
		if c.TelegramPollTimeoutSecs <= 0 {
			errs = append(errs, fmt.Errorf("channels.telegram.poll_timeout_secs must be positive, got %d", c.TelegramPollTimeoutSecs))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
