package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/MinchaoZhu/chaos-bot/internal/logger"
	"github.com/MinchaoZhu/chaos-bot/internal/observability"
	"github.com/MinchaoZhu/chaos-bot/internal/tracing"
	"github.com/MinchaoZhu/chaos-bot/pkg/agent"
	"github.com/MinchaoZhu/chaos-bot/pkg/channels"
	"github.com/MinchaoZhu/chaos-bot/pkg/llm"
	"github.com/MinchaoZhu/chaos-bot/pkg/session"
	"github.com/rs/zerolog"
)

// ErrUnavailable is returned when no runner is loaded.
var ErrUnavailable = errors.New("agent runtime unavailable")

// Runner runs one user turn against a session.
type Runner interface {
	RunStream(ctx context.Context, sess *session.State, input string, onEvent func(agent.Event)) (*agent.RunOutput, error)
}

// RunnerSource hands out the runner of the current configuration snapshot.
type RunnerSource interface {
	CurrentRunner() (Runner, error)
}

// ChannelContext identifies the channel conversation a command came from.
type ChannelContext struct {
	Channel        string
	ConversationID string
	UserID         string
}

// Key returns "<channel>:<conversation>:<user>".
func (c ChannelContext) Key() string {
	return fmt.Sprintf("%s:%s:%s", c.Channel, c.ConversationID, c.UserID)
}

// Command is one user turn.
type Command struct {
	SessionID string
	Message   string
	Channel   *ChannelContext
}

// EventKind distinguishes streamed chat events.
type EventKind string

const (
	EventSession EventKind = "session"
	EventDelta   EventKind = "delta"
	EventTool    EventKind = "tool"
)

// Event is delivered to the RunStream callback.
type Event struct {
	Kind      EventKind
	SessionID string
	Delta     string
	Tool      *agent.ToolEvent
}

// Result summarizes a completed run.
type Result struct {
	SessionID        string     `json:"session_id"`
	Usage            *llm.Usage `json:"usage,omitempty"`
	FinishReason     string     `json:"finish_reason,omitempty"`
	AssistantMessage string     `json:"assistant_message"`
}

// Options wires a Service.
type Options struct {
	Sessions   session.Store
	Runners    RunnerSource
	Dispatcher channels.Dispatcher
	Logger     zerolog.Logger
}

// Service runs chat turns.
type Service struct {
	sessions   session.Store
	runners    RunnerSource
	dispatcher channels.Dispatcher
	logger     zerolog.Logger
}

// NewService validates opts. Dispatcher is optional.
func NewService(opts Options) (*Service, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if opts.Runners == nil {
		return nil, fmt.Errorf("runner source is required")
	}

	return &Service{
		sessions:   opts.Sessions,
		runners:    opts.Runners,
		dispatcher: opts.Dispatcher,
		logger:     opts.Logger.With().Str("component", "chat").Logger(),
	}, nil
}

// RunStream runs cmd and reports progress through onEvent.
func (s *Service) RunStream(ctx context.Context, cmd Command, onEvent func(Event)) (*Result, error) {
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	ctx = tracing.NewRequestContext(ctx)
	channelName := "web"
	if cmd.Channel != nil {
		channelName = cmd.Channel.Channel
	}
	log := tracing.LoggerFromContext(ctx, s.logger)
	log.Info().
		Bool("has_session_id", cmd.SessionID != "").
		Str("channel", channelName).
		Int("message_chars", utf8.RuneCountInString(cmd.Message)).
		Msg("Chat request")

	runner, err := s.runners.CurrentRunner()
	if err != nil {
		return nil, err
	}

	sess, err := s.resolveSession(ctx, cmd)
	if err != nil {
		return nil, err
	}
	ctx = tracing.WithSessionID(ctx, sess.ID)
	log = tracing.LoggerFromContext(ctx, s.logger)

	onEvent(Event{Kind: EventSession, SessionID: sess.ID})

	out, runErr := runner.RunStream(ctx, sess, cmd.Message, func(ev agent.Event) {
		switch ev.Kind {
		case agent.EventDelta:
			onEvent(Event{Kind: EventDelta, SessionID: sess.ID, Delta: ev.Delta})
		case agent.EventTool:
			s.auditTool(ctx, log, sess.ID, ev.Tool)
			onEvent(Event{Kind: EventTool, SessionID: sess.ID, Tool: ev.Tool})
		}
	})

	// persist even on failure so the user turn is kept
	if err := s.sessions.Upsert(context.WithoutCancel(ctx), sess); err != nil {
		log.Error().Err(err).Msg("Failed to persist chat session")
		if runErr == nil {
			return nil, fmt.Errorf("failed to persist session: %w", err)
		}
	}

	if runErr != nil {
		log.Warn().Err(runErr).Msg("Chat run failed")
		return nil, runErr
	}

	result := &Result{
		SessionID:        sess.ID,
		Usage:            out.Usage,
		FinishReason:     out.FinishReason,
		AssistantMessage: out.AssistantMessage.Content,
	}

	event := log.Info().Str("finish_reason", result.FinishReason)
	if result.Usage != nil {
		event = event.Int("usage_total_tokens", result.Usage.TotalTokens)
	}
	event.Msg("Chat completed")

	return result, nil
}

// RunChannelMessage runs an inbound channel message in its bound session and
// sends the reply back through the dispatcher.
func (s *Service) RunChannelMessage(ctx context.Context, inbound channels.InboundMessage) (*Result, error) {
	result, err := s.RunStream(ctx, Command{
		Message: inbound.Text,
		Channel: &ChannelContext{
			Channel:        inbound.Channel,
			ConversationID: inbound.ConversationID,
			UserID:         inbound.UserID,
		},
	}, nil)
	if err != nil {
		return nil, err
	}

	if s.dispatcher == nil {
		return result, nil
	}

	inboundMeta := inbound.Metadata
	if len(inboundMeta) == 0 {
		inboundMeta = json.RawMessage("null")
	}
	metadata, err := json.Marshal(map[string]any{
		"source":           "agent",
		"session_id":       result.SessionID,
		"inbound_message":  inbound.Text,
		"inbound_metadata": inboundMeta,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode channel metadata: %w", err)
	}

	if _, err := s.dispatcher.Dispatch(ctx, channels.OutboundMessage{
		Channel:          inbound.Channel,
		ConversationID:   inbound.ConversationID,
		Text:             result.AssistantMessage,
		ReplyToMessageID: inbound.MessageID,
		Metadata:         metadata,
	}); err != nil {
		return nil, fmt.Errorf("channel dispatch failed: %w", err)
	}

	return result, nil
}

func (s *Service) resolveSession(ctx context.Context, cmd Command) (*session.State, error) {
	log := tracing.LoggerFromContext(ctx, s.logger)

	if cmd.SessionID != "" {
		existing, err := s.sessions.Get(ctx, cmd.SessionID)
		if err == nil {
			log.Debug().Str("session_id", existing.ID).Msg("Chat using existing session")
			return existing, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		log.Info().Str("session_id", cmd.SessionID).Msg("Chat created missing session id")
		return session.New(cmd.SessionID), nil
	}

	if cmd.Channel != nil {
		key := cmd.Channel.Key()
		existing, err := s.sessions.SessionForChannel(ctx, key)
		if err == nil {
			log.Info().Str("channel_key", key).Str("session_id", existing.ID).Msg("Chat reusing mapped channel session")
			return existing, nil
		}
		if !errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("failed to look up channel session: %w", err)
		}

		created, err := s.sessions.Create(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		if err := s.sessions.BindChannel(ctx, key, created.ID); err != nil {
			return nil, fmt.Errorf("failed to bind channel session: %w", err)
		}
		log.Info().Str("channel_key", key).Str("session_id", created.ID).Msg("Chat mapped new channel session")
		return created, nil
	}

	created, err := s.sessions.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	log.Info().Str("session_id", created.ID).Msg("Chat auto-created session")
	return created, nil
}

func (s *Service) auditTool(ctx context.Context, log zerolog.Logger, sessionID string, ev *agent.ToolEvent) {
	if ev == nil {
		return
	}
	args := logger.RedactJSON(ev.Call.Arguments)
	log.Info().
		Str("tool_call_id", ev.Call.ID).
		Str("tool_name", ev.Call.Name).
		RawJSON("tool_args", args).
		Bool("is_error", ev.Result.IsError).
		Msg("Tool call audit")
	observability.RecordToolAudit(ctx, sessionID, ev.Call.Name, ev.Result.IsError, args)
}
