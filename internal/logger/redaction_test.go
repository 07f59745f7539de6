package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestRedactor(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name   string
		input  string
		secret string
	}{
		{name: "openai key", input: "key=sk-proj-abcdefghijklmnopqrstuvwxyz", secret: "abcdefghijklmnopqrstuvwxyz"},
		{name: "anthropic key", input: "sk-ant-REDACTED", secret: "abcdefghijklmnopqrstuvwxyz"},
		{name: "bearer token", input: "Authorization: Bearer abc.def-123", secret: "abc.def-123"},
		{name: "telegram token", input: "https://api.telegram.org/bot123456789:AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw/getUpdates", secret: "AAHdqTcvCH1vGWJxfSeofSAs0K5PALDsaw"},
		{name: "json password", input: `{"password":"hunter2hunter2"}`, secret: "hunter2hunter2"},
	}

	for _, tt := range tests {
		t.Run("should mask "+tt.name, func(t *testing.T) {
			out := r.Redact(tt.input)
			assert.NotContains(t, out, tt.secret)
			assert.Contains(t, out, "[REDACTED]")
		})
	}

	t.Run("should leave plain text alone", func(t *testing.T) {
		assert.Equal(t, "nothing to see", r.Redact("nothing to see"))
	})

	t.Run("should support custom patterns", func(t *testing.T) {
		custom := NewRedactor()
		require.NoError(t, custom.AddPattern(`internal-\d+`))
		assert.Equal(t, "id [REDACTED]", custom.Redact("id internal-42"))
		assert.Error(t, custom.AddPattern(`(`))
	})

	t.Run("should report the full length when wrapping", func(t *testing.T) {
		var buf bytes.Buffer
		w := r.Wrap(&buf)
		input := []byte("sk-abcdefghijklmnopqrstuvwxyz")
		n, err := w.Write(input)
		require.NoError(t, err)
		assert.Equal(t, len(input), n)
		assert.Equal(t, "[REDACTED]", buf.String())
	})
}

func TestRedactJSON(t *testing.T) {
	t.Run("should mask sensitive keys at any depth", func(t *testing.T) {
		raw := []byte(`{"path":"a.txt","OpenAI_API_Key":"sk-1","nested":{"Bot_Token":"t","keep":1},"list":[{"password":"p"},{"x":"y"}]}`)
		out := RedactJSON(raw)

		parsed := gjson.ParseBytes(out)
		assert.Equal(t, "a.txt", parsed.Get("path").String())
		assert.Equal(t, Redacted, parsed.Get("OpenAI_API_Key").String())
		assert.Equal(t, Redacted, parsed.Get("nested.Bot_Token").String())
		assert.Equal(t, int64(1), parsed.Get("nested.keep").Int())
		assert.Equal(t, Redacted, parsed.Get("list.0.password").String())
		assert.Equal(t, "y", parsed.Get("list.1.x").String())
	})

	t.Run("should mask whole objects under sensitive keys", func(t *testing.T) {
		out := RedactJSON([]byte(`{"secrets":{"a":"b"}}`))
		assert.JSONEq(t, `{"secrets":"***REDACTED***"}`, string(out))
	})

	t.Run("should handle keys with path characters", func(t *testing.T) {
		out := RedactJSON([]byte(`{"a.b":{"token":"x"}}`))
		assert.JSONEq(t, `{"a.b":{"token":"***REDACTED***"}}`, string(out))
	})

	t.Run("should replace invalid json", func(t *testing.T) {
		assert.Equal(t, `"<non-json payload redacted>"`, string(RedactJSON([]byte("not json"))))
		assert.Equal(t, "null", string(RedactJSON(nil)))
	})

	t.Run("should redact marshalled values", func(t *testing.T) {
		out := RedactValue(map[string]any{"apikey": "k", "model": "m"})
		assert.JSONEq(t, `{"apikey":"***REDACTED***","model":"m"}`, string(out))
	})
}

func TestRedactRawJSON(t *testing.T) {
	t.Run("should pretty print with a trailing newline", func(t *testing.T) {
		out := RedactRawJSON(`{"token":"x","a":1}`)
		assert.Equal(t, "{\n  \"token\": \"***REDACTED***\",\n  \"a\": 1\n}\n", out)
	})

	t.Run("should keep empty input empty", func(t *testing.T) {
		assert.Empty(t, RedactRawJSON("   "))
	})

	t.Run("should replace non-json input", func(t *testing.T) {
		assert.Equal(t, "<non-json payload redacted>\n", RedactRawJSON("{oops"))
	})
}

func TestIsSensitiveKey(t *testing.T) {
	t.Run("should match case-insensitively", func(t *testing.T) {
		assert.True(t, IsSensitiveKey("Authorization"))
		assert.True(t, IsSensitiveKey("client_secret"))
		assert.False(t, IsSensitiveKey("path"))
	})
}
