package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("should count tool executions by status", func(t *testing.T) {
		m := getMetrics()
		before := testutil.ToFloat64(m.toolExecutionTotal.WithLabelValues("read", "error"))

		RecordToolExecution("read", 10*time.Millisecond, false)

		after := testutil.ToFloat64(m.toolExecutionTotal.WithLabelValues("read", "error"))
		assert.Equal(t, before+1, after)
	})

	t.Run("should expose metrics over http", func(t *testing.T) {
		RecordAgentRun("openai", time.Second, 2, true)

		rec := httptest.NewRecorder()
		MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

		assert.Equal(t, 200, rec.Code)
		assert.Contains(t, rec.Body.String(), "agent_run_total")
	})
}

func TestAuditLogger(t *testing.T) {
	t.Run("should write json lines with payload", func(t *testing.T) {
		var buf bytes.Buffer
		SetAuditLogger(NewAuditLogger(&buf))
		defer SetAuditLogger(nil)

		RecordToolAudit(context.Background(), "s1", "bash", true, json.RawMessage(`{"command":"ls"}`))

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "tool", line["event_type"])
		assert.Equal(t, "execute:bash", line["action"])
		assert.Equal(t, "failure", line["status"])
		assert.Equal(t, "s1", line["session_id"])
		assert.Equal(t, map[string]any{"command": "ls"}, line["payload"])
	})

	t.Run("should record config version", func(t *testing.T) {
		var buf bytes.Buffer
		SetAuditLogger(NewAuditLogger(&buf))
		defer SetAuditLogger(nil)

		RecordConfigAudit(context.Background(), "config.apply", 3)
		assert.Contains(t, buf.String(), `"version":3`)
	})
}
