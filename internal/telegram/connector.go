package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MinchaoZhu/chaos-bot/pkg/channels"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	// ChannelName is the channel identifier used in session keys.
	ChannelName = "telegram"
	// DefaultAPIBaseURL is the public Bot API host.
	DefaultAPIBaseURL = "https://api.telegram.org"

	sendMaxAttempts  = 3
	sendBaseBackoff  = 100 * time.Millisecond
	pollErrorBackoff = time.Second
	mockScheme       = "mock://"
)

// botAPI is the subset of *tgbotapi.BotAPI the connector uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// InboundHandler receives normalized inbound messages.
type InboundHandler func(ctx context.Context, msg channels.InboundMessage)

// Config configures a Connector.
type Config struct {
	BotToken        string
	APIBaseURL      string
	PollTimeoutSecs int
	Handler         InboundHandler
	Logger          zerolog.Logger
}

// Connector is the Telegram channels.Connector.
type Connector struct {
	token       string
	apiBaseURL  string
	pollTimeout int
	handler     InboundHandler
	logger      zerolog.Logger

	newAPI func(token, baseURL string) (botAPI, string, error)
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	api      botAPI
	username string
	cancel   context.CancelFunc
	done     chan struct{}
}

// New validates cfg and builds a stopped connector.
func New(cfg Config) (*Connector, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if cfg.PollTimeoutSecs <= 0 {
		cfg.PollTimeoutSecs = 30
	}

	return &Connector{
		token:       strings.TrimSpace(cfg.BotToken),
		apiBaseURL:  NormalizeAPIBaseURL(cfg.APIBaseURL),
		pollTimeout: cfg.PollTimeoutSecs,
		handler:     cfg.Handler,
		logger:      cfg.Logger.With().Str("component", "telegram").Logger(),
		newAPI:      newBotAPI,
		sleep:       sleepContext,
	}, nil
}

// NormalizeAPIBaseURL trims the base URL and applies the default.
func NormalizeAPIBaseURL(v string) string {
	v = strings.TrimRight(strings.TrimSpace(v), "/")
	if v == "" {
		return DefaultAPIBaseURL
	}
	return v
}

func newBotAPI(token, baseURL string) (botAPI, string, error) {
	if strings.HasPrefix(baseURL, mockScheme) {
		return newMockAPI(), "mock_bot", nil
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, baseURL+"/bot%s/%s")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create bot API: %w", err)
	}
	return api, api.Self.UserName, nil
}

// Channel returns "telegram".
func (c *Connector) Channel() string {
	return ChannelName
}

// Start authenticates and, when a handler is set, begins long polling.
func (c *Connector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.api != nil {
		return nil
	}

	api, username, err := c.newAPI(c.token, c.apiBaseURL)
	if err != nil {
		return err
	}
	c.api = api
	c.username = username

	if c.handler != nil {
		pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.cancel = cancel
		c.done = make(chan struct{})
		go c.pollLoop(pollCtx, api, c.done)
	}

	c.logger.Info().
		Str("username", username).
		Str("api_base_url", c.apiBaseURL).
		Bool("polling", c.handler != nil).
		Msg("Telegram connector started")
	return nil
}

// Stop ends polling and waits for the loop to exit or ctx to expire.
func (c *Connector) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.api, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.logger.Info().Msg("Telegram connector stopped")
	return nil
}

// Health reports whether the connector is running.
func (c *Connector) Health(context.Context) (channels.Health, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := "stopped"
	if c.api != nil {
		status = "ok"
	}
	return channels.Health{
		Channel: ChannelName,
		Status:  status,
		Detail: map[string]any{
			"api_base_url": c.apiBaseURL,
			"mock_mode":    strings.HasPrefix(c.apiBaseURL, mockScheme),
			"polling":      c.cancel != nil,
			"username":     c.username,
		},
	}, nil
}

// Send delivers msg, retrying transient failures.
func (c *Connector) Send(ctx context.Context, msg channels.OutboundMessage) (*channels.Delivery, error) {
	c.mu.Lock()
	api := c.api
	c.mu.Unlock()
	if api == nil {
		return nil, fmt.Errorf("telegram connector is not started")
	}

	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.ConversationID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", msg.ConversationID, err)
	}

	out := tgbotapi.NewMessage(chatID, msg.Text)
	if replyTo, err := strconv.Atoi(msg.ReplyToMessageID); err == nil {
		out.ReplyToMessageID = replyTo
	}

	var lastErr error
	for attempt := 1; attempt <= sendMaxAttempts; attempt++ {
		sent, err := api.Send(out)
		if err == nil {
			if attempt > 1 {
				c.logger.Info().Int("attempt", attempt).Msg("Telegram send recovered after retry")
			}
			return &channels.Delivery{
				Channel:           ChannelName,
				ExternalMessageID: strconv.Itoa(sent.MessageID),
			}, nil
		}

		if !IsTransient(err) {
			return nil, fmt.Errorf("telegram api error: %w", err)
		}
		lastErr = err

		if attempt < sendMaxAttempts {
			backoff := Backoff(attempt)
			c.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Telegram send transient error, retrying")
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("telegram send failed after %d attempts: %w", sendMaxAttempts, lastErr)
}

// Backoff returns the delay after a failed attempt: 100ms * 2^(attempt-1).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return sendBaseBackoff << (attempt - 1)
}

// IsTransient reports whether a send error is worth retrying. API errors are
// transient only for 429 and 5xx; transport and decode failures always are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
