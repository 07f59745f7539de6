package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Redacted replaces sensitive JSON values.
const Redacted = "***REDACTED***"

const nonJSONPayload = "<non-json payload redacted>"

var sensitiveKeyParts = []string{"api_key", "apikey", "secret", "token", "password", "authorization"}

// Redactor masks secrets in free-form log lines.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with the default patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// OpenAI / Anthropic keys
			regexp.MustCompile(`sk-(?:ant-)?[a-zA-Z0-9_-]{20,}`),
			// Gemini keys
			regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),
			// Telegram bot tokens, bare or inside /bot<token>/ URLs
			regexp.MustCompile(`\d{8,10}:[a-zA-Z0-9_-]{30,}`),
			regexp.MustCompile(`(?i)(api_key|apikey|secret|token|password)"?\s*[:=]\s*"?[^\s",}]{6,}`),
		},
	}
}

// AddPattern adds a custom redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact masks every pattern match in s.
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Wrap returns a writer that redacts before writing to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	// report the caller's length so zerolog does not see a short write
	return len(p), nil
}

// IsSensitiveKey reports whether a JSON key names a credential.
func IsSensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lowered, part) {
			return true
		}
	}
	return false
}

// RedactJSON masks the values of sensitive keys at any depth, preserving key
// order. Invalid JSON is replaced by a JSON string placeholder.
func RedactJSON(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if !gjson.ValidBytes(trimmed) {
		return json.RawMessage(strconv.Quote(nonJSONPayload))
	}

	var paths []string
	collectSensitivePaths(gjson.ParseBytes(trimmed), "", &paths)

	out := append([]byte(nil), trimmed...)
	for _, path := range paths {
		updated, err := sjson.SetBytes(out, path, Redacted)
		if err != nil {
			return json.RawMessage(strconv.Quote(Redacted))
		}
		out = updated
	}
	return out
}

// RedactValue marshals v and redacts it.
func RedactValue(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(strconv.Quote(Redacted))
	}
	return RedactJSON(data)
}

// RedactRawJSON redacts a raw payload and pretty-prints it with a trailing
// newline. Empty input stays empty.
func RedactRawJSON(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	if !gjson.Valid(raw) {
		return nonJSONPayload + "\n"
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, RedactJSON([]byte(raw)), "", "  "); err != nil {
		return Redacted + "\n"
	}
	buf.WriteByte('\n')
	return buf.String()
}

func collectSensitivePaths(value gjson.Result, prefix string, paths *[]string) {
	switch {
	case value.IsObject():
		value.ForEach(func(key, child gjson.Result) bool {
			path := joinPath(prefix, escapePathKey(key.String()))
			if IsSensitiveKey(key.String()) {
				*paths = append(*paths, path)
			} else {
				collectSensitivePaths(child, path, paths)
			}
			return true
		})
	case value.IsArray():
		i := 0
		value.ForEach(func(_, child gjson.Result) bool {
			collectSensitivePaths(child, joinPath(prefix, strconv.Itoa(i)), paths)
			i++
			return true
		})
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

var pathEscaper = strings.NewReplacer(`\`, `\\`, ".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`, "!", `\!`, "=", `\=`, "<", `\<`, ">", `\>`, "%", `\%`, ":", `\:`)

func escapePathKey(key string) string {
	return pathEscaper.Replace(key)
}
