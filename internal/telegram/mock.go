package telegram

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var retryMarker = regexp.MustCompile(`\[telegram-retry:\s*(\d+)\]`)

// mockAPI fakes the Bot API for offline end-to-end runs.
type mockAPI struct {
	mu       sync.Mutex
	attempts map[string]int
	nextID   int
}

func newMockAPI() *mockAPI {
	return &mockAPI{attempts: make(map[string]int), nextID: 1}
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, &tgbotapi.Error{Code: 400, Message: "mock supports text messages only"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case strings.Contains(msg.Text, "[telegram-outage]"):
		return tgbotapi.Message{}, &tgbotapi.Error{Code: 503, Message: "mock telegram outage marker requested"}
	case strings.Contains(msg.Text, "[telegram-permanent]"):
		return tgbotapi.Message{}, &tgbotapi.Error{Code: 400, Message: "mock telegram permanent error marker requested"}
	}

	if match := retryMarker.FindStringSubmatch(msg.Text); match != nil {
		failures, _ := strconv.Atoi(match[1])
		m.attempts[msg.Text]++
		if m.attempts[msg.Text] <= failures {
			return tgbotapi.Message{}, &tgbotapi.Error{Code: 502, Message: "mock telegram transient failure"}
		}
		delete(m.attempts, msg.Text)
	}

	id := m.nextID
	m.nextID++
	return tgbotapi.Message{
		MessageID: id,
		Chat:      &tgbotapi.Chat{ID: msg.ChatID},
		Text:      msg.Text,
	}, nil
}

func (m *mockAPI) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	// mimic an empty long poll
	time.Sleep(50 * time.Millisecond)
	return nil, nil
}
