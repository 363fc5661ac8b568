package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/flowmind/flowmind/internal/llm"
)

const (
	grokBaseURL      = "https://api.x.ai/v1"
	grokDefaultModel = "grok-beta"
)

// GrokProvider implements the Grok (xAI) provider
type GrokProvider struct {
	*BaseProvider
}

// NewGrokProvider creates a new Grok provider
func NewGrokProvider(cfg llm.ProviderConfig) llm.Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = grokBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = grokDefaultModel
	}
	return &GrokProvider{
		BaseProvider: &BaseProvider{
			Config: cfg,
			client: &http.Client{},
		},
	}
}

// Name returns the provider name
func (g *GrokProvider) Name() llm.ProviderType {
	return llm.ProviderGrok
}

// Validate checks if the provider configuration is valid
func (g *GrokProvider) Validate() error {
	if g.Config.APIKey == "" {
		return fmt.Errorf("API key is required for Grok provider")
	}
	return nil
}

// Chat generates a non-streaming chat completion
func (g *GrokProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return g.chat(ctx, llm.ProviderGrok, req)
}
