package channels

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConnector struct {
	name       string
	startCalls int
	stopCalls  int
	sendErr    error
	sent       []OutboundMessage
}

func (c *testConnector) Channel() string { return c.name }

func (c *testConnector) Start(context.Context) error {
	c.startCalls++
	return nil
}

func (c *testConnector) Stop(context.Context) error {
	c.stopCalls++
	return nil
}

func (c *testConnector) Health(context.Context) (Health, error) {
	return Health{Channel: c.name, Status: "ok"}, nil
}

func (c *testConnector) Send(_ context.Context, msg OutboundMessage) (*Delivery, error) {
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	c.sent = append(c.sent, msg)
	return &Delivery{Channel: c.name, ExternalMessageID: "m1"}, nil
}

func TestRegistry(t *testing.T) {
	t.Run("should register start dispatch and stop", func(t *testing.T) {
		reg := NewRegistry()
		tg := &testConnector{name: "telegram"}
		require.NoError(t, reg.Register(tg))
		assert.Equal(t, []string{"telegram"}, reg.Enabled())

		require.NoError(t, reg.StartAll(context.Background()))
		require.NoError(t, reg.StartAll(context.Background()))
		assert.Equal(t, 1, tg.startCalls)

		delivery, err := reg.Dispatch(context.Background(), OutboundMessage{Channel: "telegram", ConversationID: "42", Text: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "m1", delivery.ExternalMessageID)
		require.Len(t, tg.sent, 1)

		require.NoError(t, reg.StopAll(context.Background()))
		require.NoError(t, reg.StopAll(context.Background()))
		assert.Equal(t, 1, tg.stopCalls)
	})

	t.Run("should reject unknown channels", func(t *testing.T) {
		_, err := NewRegistry().Dispatch(context.Background(), OutboundMessage{Channel: "slack"})
		assert.EqualError(t, err, "no connector registered for channel: slack")
	})

	t.Run("should propagate send failures", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(&testConnector{name: "telegram", sendErr: errors.New("down")}))
		_, err := reg.Dispatch(context.Background(), OutboundMessage{Channel: "telegram"})
		assert.EqualError(t, err, "down")
	})

	t.Run("should validate connectors", func(t *testing.T) {
		reg := NewRegistry()
		assert.EqualError(t, reg.Register(nil), "connector is required")
		assert.EqualError(t, reg.Register(&testConnector{name: " "}), "channel name is required")
	})

	t.Run("should report health sorted by channel", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(&testConnector{name: "zulip"}))
		require.NoError(t, reg.Register(&testConnector{name: "discord"}))

		health, err := reg.Health(context.Background())
		require.NoError(t, err)
		require.Len(t, health, 2)
		assert.Equal(t, "discord", health[0].Channel)
		assert.Equal(t, "zulip", health[1].Channel)
	})
}

func TestInboundMessage_SessionKey(t *testing.T) {
	t.Run("should join channel conversation and user", func(t *testing.T) {
		msg := InboundMessage{Channel: "telegram", ConversationID: "100", UserID: "7", Metadata: json.RawMessage(`{}`)}
		assert.Equal(t, "telegram:100:7", msg.SessionKey())
	})
}
