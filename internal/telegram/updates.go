package telegram

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/MinchaoZhu/chaos-bot/pkg/channels"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ToInbound converts an update into an inbound message. Updates without text
// and whitespace-only messages are skipped.
func ToInbound(update tgbotapi.Update) (channels.InboundMessage, bool) {
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.Chat == nil {
		return channels.InboundMessage{}, false
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return channels.InboundMessage{}, false
	}

	conversationID := strconv.FormatInt(msg.Chat.ID, 10)
	userID := conversationID
	if msg.From != nil {
		userID = strconv.FormatInt(msg.From.ID, 10)
	}

	metadata, _ := json.Marshal(map[string]int{
		"update_id":  update.UpdateID,
		"message_id": msg.MessageID,
	})

	return channels.InboundMessage{
		Channel:        ChannelName,
		UserID:         userID,
		ConversationID: conversationID,
		MessageID:      strconv.Itoa(msg.MessageID),
		Text:           text,
		Metadata:       metadata,
	}, true
}

func (c *Connector) pollLoop(ctx context.Context, api botAPI, done chan struct{}) {
	defer close(done)

	offset := 0
	for {
		if ctx.Err() != nil {
			return
		}

		cfg := tgbotapi.NewUpdate(offset)
		cfg.Timeout = c.pollTimeout
		updates, err := api.GetUpdates(cfg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Msg("Telegram getUpdates failed")
			if c.sleep(ctx, pollErrorBackoff) != nil {
				return
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			inbound, ok := ToInbound(update)
			if !ok {
				continue
			}
			c.logger.Debug().
				Int("update_id", update.UpdateID).
				Str("conversation_id", inbound.ConversationID).
				Msg("Telegram message received")
			c.handler(ctx, inbound)
		}
	}
}
