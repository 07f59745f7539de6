package llm

import (
	"context"
	"fmt"
)

// GeminiProvider is a placeholder until a Gemini adapter lands.
type GeminiProvider struct {
	apiKey string
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(apiKey string) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey}
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Chat is not available yet.
func (p *GeminiProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	return nil, fmt.Errorf("Gemini provider scaffold %w yet", ErrNotImplemented)
}

// ChatStream is not available yet.
func (p *GeminiProvider) ChatStream(ctx context.Context, req Request) (Stream, error) {
	return nil, fmt.Errorf("Gemini streaming scaffold %w yet", ErrNotImplemented)
}
