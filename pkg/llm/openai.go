package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"
)

const streamReadSize = 4096

// OpenAIProvider talks to an OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client     openai.Client
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewOpenAIProvider creates a provider for baseURL, or the public API when empty.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")

	return &OpenAIProvider{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL+"/"),
			option.WithMaxRetries(0),
		),
		httpClient: http.DefaultClient,
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// BaseURL returns the resolved endpoint root.
func (p *OpenAIProvider) BaseURL() string {
	return p.baseURL
}

// Chat performs a non-streaming completion.
func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	params, err := buildChatParams(req)
	if err != nil {
		return nil, err
	}

	var opts []option.RequestOption
	if len(req.Tools) > 0 {
		opts = append(opts, option.WithJSONSet("tool_choice", "auto"))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("OpenAI API error %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to call OpenAI chat completions: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI response does not contain choices")
	}
	choice := completion.Choices[0]

	toolCalls := make([]ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "tool_call"
		}
		name := tc.Function.Name
		if name == "" {
			name = "unknown"
		}
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		toolCalls = append(toolCalls, ToolCall{ID: id, Name: name, Arguments: DecodeArguments(args)})
	}

	var usage *Usage
	if u := completion.Usage; u.TotalTokens > 0 || u.PromptTokens > 0 || u.CompletionTokens > 0 {
		usage = &Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		}
	}

	msg := AssistantMessage(choice.Message.Content)
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}

	return &Response{
		Message:      msg,
		ToolCalls:    toolCalls,
		Usage:        usage,
		FinishReason: string(choice.FinishReason),
	}, nil
}

// ChatStream opens a streaming completion and returns its event sequence.
// The SSE body is decoded incrementally as the caller pulls events.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req Request) (Stream, error) {
	body, err := buildStreamBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build OpenAI stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call OpenAI chat completions (stream): %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("OpenAI API stream error %s: %s", resp.Status, string(text))
	}

	log.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("OpenAI stream opened")

	return &openAIStream{
		body:    resp.Body,
		decoder: newSSEDecoder(),
		buf:     make([]byte, streamReadSize),
	}, nil
}

type openAIStream struct {
	body    io.ReadCloser
	decoder *sseDecoder
	buf     []byte
}

// Next pulls bytes from the body until the decoder has something to hand out.
func (s *openAIStream) Next() (StreamEvent, error) {
	for {
		if item, ok := s.decoder.pop(); ok {
			if item.err != nil {
				return StreamEvent{}, item.err
			}
			return item.event, nil
		}
		if s.decoder.done {
			return StreamEvent{}, io.EOF
		}

		n, err := s.body.Read(s.buf)
		if n > 0 {
			s.decoder.feed(s.buf[:n])
		}
		switch {
		case errors.Is(err, io.EOF):
			s.decoder.finish()
		case err != nil:
			if !s.decoder.done {
				s.decoder.fail(fmt.Errorf("OpenAI streaming read error: %w", err))
			}
		}
	}
}

func (s *openAIStream) Close() error {
	return s.body.Close()
}

// buildChatParams maps a Request onto the SDK parameter type.
func buildChatParams(req Request) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			assistant := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistant.ToParam())
		case RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, spec := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        spec.Name,
					Description: openai.String(spec.Description),
					Parameters:  openai.FunctionParameters(spec.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}

// buildStreamBody serializes the request and adds the streaming switches.
func buildStreamBody(req Request) ([]byte, error) {
	params, err := buildChatParams(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode OpenAI request: %w", err)
	}

	if body, err = sjson.SetBytes(body, "stream", true); err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "stream_options.include_usage", true); err != nil {
		return nil, err
	}
	if len(req.Tools) > 0 {
		if body, err = sjson.SetBytes(body, "tool_choice", "auto"); err != nil {
			return nil, err
		}
	}
	return body, nil
}
