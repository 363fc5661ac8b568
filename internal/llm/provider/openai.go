package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/flowmind/flowmind/internal/llm"
)

const (
	openAIBaseURL      = "https://api.openai.com/v1"
	openAIDefaultModel = "gpt-4-turbo-preview"
)

// OpenAIProvider implements the OpenAI provider
type OpenAIProvider struct {
	*BaseProvider
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg llm.ProviderConfig) llm.Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	return &OpenAIProvider{
		BaseProvider: &BaseProvider{
			Config: cfg,
			client: &http.Client{},
		},
	}
}

// Name returns the provider name
func (o *OpenAIProvider) Name() llm.ProviderType {
	return llm.ProviderOpenAI
}

// Validate checks if the provider configuration is valid
func (o *OpenAIProvider) Validate() error {
	if o.Config.APIKey == "" {
		return fmt.Errorf("API key is required for OpenAI provider")
	}
	return nil
}

// Chat generates a non-streaming chat completion
func (o *OpenAIProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return o.chat(ctx, llm.ProviderOpenAI, req)
}
