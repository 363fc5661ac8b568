// Package llm defines the AI completion types shared by providers and
// the client that selects between them.
package llm

import (
	"context"
	"errors"
)

// ErrServiceUnavailable is returned for any transport failure, non-2xx
// response, timeout or empty completion. Callers decide whether to
// retry; the client never retries internally.
var ErrServiceUnavailable = errors.New("ai service unavailable")

// ProviderType identifies a completion backend
type ProviderType string

const (
	ProviderGrok   ProviderType = "grok"
	ProviderOpenAI ProviderType = "openai"
)

// Role represents the role of a message sender
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-agnostic completion request
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Choice is one completion alternative
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token consumption for a completion
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is a provider-agnostic completion response
type ChatResponse struct {
	ID       string       `json:"id"`
	Object   string       `json:"object"`
	Created  int64        `json:"created"`
	Model    string       `json:"model"`
	Choices  []Choice     `json:"choices"`
	Usage    Usage        `json:"usage"`
	Provider ProviderType `json:"provider"`
}

// ProviderConfig holds the settings a provider needs
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Provider is a completion backend
type Provider interface {
	Name() ProviderType
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Validate() error
}
