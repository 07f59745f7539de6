package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// sseDecoder holds the per-stream state of the OpenAI SSE protocol: the
// unframed text buffer, events ready for the consumer, and tool-call
// fragments keyed by their positional index.
type sseDecoder struct {
	buffer  string
	pending []decoded

	toolIDs   map[int]string
	toolNames map[int]string
	toolArgs  map[int]*strings.Builder
	toolSeen  map[int]struct{}

	usage       *Usage
	done        bool
	emittedDone bool
}

type decoded struct {
	event StreamEvent
	err   error
}

func newSSEDecoder() *sseDecoder {
	return &sseDecoder{
		toolIDs:   make(map[int]string),
		toolNames: make(map[int]string),
		toolArgs:  make(map[int]*strings.Builder),
		toolSeen:  make(map[int]struct{}),
	}
}

// drainSSEPayloads removes every complete frame from buffer and returns the
// data payload of each, in order. A trailing partial frame is left in place.
func drainSSEPayloads(buffer *string) []string {
	var payloads []string
	for {
		idx := strings.Index(*buffer, "\n\n")
		if idx < 0 {
			return payloads
		}
		frame := (*buffer)[:idx]
		*buffer = (*buffer)[idx+2:]

		var data strings.Builder
		for _, line := range strings.Split(frame, "\n") {
			rest, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimLeft(rest, " \t"))
		}
		if data.Len() > 0 {
			payloads = append(payloads, data.String())
		}
	}
}

// feed appends a raw chunk and processes every frame it completes. The first
// malformed payload queues an error and stops the decoder.
func (d *sseDecoder) feed(chunk []byte) {
	if d.done {
		return
	}
	d.buffer = strings.ReplaceAll(d.buffer+string(chunk), "\r\n", "\n")

	for _, payload := range drainSSEPayloads(&d.buffer) {
		if err := d.process(payload); err != nil {
			d.fail(err)
			return
		}
	}
}

// finish is called at end of body. It guarantees a terminal event unless the
// stream already ended, either through the sentinel or an error.
func (d *sseDecoder) finish() {
	if d.done {
		return
	}
	d.done = true
	d.emitDone()
}

// fail ends the stream with err queued behind any pending events.
func (d *sseDecoder) fail(err error) {
	d.done = true
	d.pending = append(d.pending, decoded{err: err})
}

func (d *sseDecoder) emitDone() {
	if d.emittedDone {
		return
	}
	d.emittedDone = true
	d.pending = append(d.pending, decoded{event: StreamEvent{Done: true, Usage: d.usage}})
}

// pop returns the next queued item.
func (d *sseDecoder) pop() (decoded, bool) {
	if len(d.pending) == 0 {
		return decoded{}, false
	}
	item := d.pending[0]
	d.pending = d.pending[1:]
	return item, true
}

func (d *sseDecoder) process(payload string) error {
	if strings.TrimSpace(payload) == "[DONE]" {
		d.done = true
		d.emitDone()
		return nil
	}

	if !gjson.Valid(payload) {
		return fmt.Errorf("failed to decode OpenAI stream payload: %s", payload)
	}
	data := gjson.Parse(payload)

	if usage := parseUsage(data.Get("usage")); usage != nil {
		d.usage = usage
	}

	choice := data.Get("choices.0")
	delta := choice.Get("delta")

	if content := delta.Get("content"); content.Type == gjson.String && content.Str != "" {
		d.pending = append(d.pending, decoded{event: StreamEvent{Delta: content.Str}})
	}

	for _, call := range delta.Get("tool_calls").Array() {
		index := int(call.Get("index").Int())
		d.toolSeen[index] = struct{}{}

		if id := call.Get("id"); id.Type == gjson.String {
			d.toolIDs[index] = id.Str
		}
		if name := call.Get("function.name"); name.Type == gjson.String {
			d.toolNames[index] = name.Str
		}
		if args := call.Get("function.arguments"); args.Type == gjson.String {
			b, ok := d.toolArgs[index]
			if !ok {
				b = &strings.Builder{}
				d.toolArgs[index] = b
			}
			b.WriteString(args.Str)
		}
	}

	if choice.Get("finish_reason").Str == "tool_calls" {
		d.flushToolCalls()
	}
	return nil
}

// flushToolCalls emits one event per accumulated index in ascending order and
// resets the fragment state.
func (d *sseDecoder) flushToolCalls() {
	indexes := make([]int, 0, len(d.toolSeen))
	for idx := range d.toolSeen {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		id, ok := d.toolIDs[idx]
		if !ok {
			id = fmt.Sprintf("tool_call_%d", idx)
		}
		name, ok := d.toolNames[idx]
		if !ok {
			name = "unknown"
		}
		raw := "{}"
		if b, ok := d.toolArgs[idx]; ok {
			raw = b.String()
		}

		d.pending = append(d.pending, decoded{event: StreamEvent{
			ToolCall: &ToolCall{ID: id, Name: name, Arguments: DecodeArguments(raw)},
		}})
	}

	clear(d.toolIDs)
	clear(d.toolNames)
	clear(d.toolArgs)
	clear(d.toolSeen)
}

// parseUsage requires all three counters, matching what the API sends on the
// final usage chunk.
func parseUsage(v gjson.Result) *Usage {
	if !v.IsObject() {
		return nil
	}
	prompt := v.Get("prompt_tokens")
	completion := v.Get("completion_tokens")
	total := v.Get("total_tokens")
	if prompt.Type != gjson.Number || completion.Type != gjson.Number || total.Type != gjson.Number {
		return nil
	}
	return &Usage{
		PromptTokens:     int(prompt.Int()),
		CompletionTokens: int(completion.Int()),
		TotalTokens:      int(total.Int()),
	}
}
