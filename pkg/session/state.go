package session

import (
	"time"

	"github.com/MinchaoZhu/chaos-bot/pkg/llm"
)

// State is one conversation.
type State struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []llm.Message `json:"messages"`
}

// New returns an empty session with the given id.
func New(id string) *State {
	now := time.Now().UTC()
	return &State{ID: id, CreatedAt: now, UpdatedAt: now, Messages: []llm.Message{}}
}

// PushMessage appends msg and bumps UpdatedAt.
func (s *State) PushMessage(msg llm.Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy of the message list header and state fields.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Messages = append([]llm.Message(nil), s.Messages...)
	return &clone
}
