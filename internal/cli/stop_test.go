package cli

import (
	"testing"

	"github.com/MinchaoZhu/chaos-bot/internal/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopCommand(t *testing.T) {
	t.Run("should fail when nothing is running", func(t *testing.T) {
		path := writeConfig(t, `{}`)

		_, err := execute(t, "stop", "--config", path)
		assert.ErrorIs(t, err, daemon.ErrNotRunning)
	})

	t.Run("should document the timeout flag", func(t *testing.T) {
		out, err := execute(t, "stop", "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Stop the chaos-bot gateway")
		assert.Contains(t, out, "timeout")
	})
}
