// Package client selects a completion provider at startup and exposes a
// single Complete call on top of it.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowmind/flowmind/internal/config"
	"github.com/flowmind/flowmind/internal/llm"
	"github.com/flowmind/flowmind/internal/llm/provider"
)

// ErrNoCredentials is returned by New when neither provider has an API key.
var ErrNoCredentials = errors.New("no AI credentials configured")

// Options tune a single completion call
type Options struct {
	// Temperature overrides the configured default when non-nil.
	Temperature *float64
	// MaxTokens overrides the configured default when positive.
	MaxTokens int
}

// Client wraps the selected provider with timeouts and defaults.
//
// Provider selection happens once at construction: Grok when its key is
// present, otherwise OpenAI. There is no per-request fallback and no
// internal retry; callers own retry policy.
type Client struct {
	provider    llm.Provider
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *slog.Logger
}

// New builds a client from configuration.
func New(cfg config.AIConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var p llm.Provider
	switch {
	case cfg.GrokAPIKey != "":
		p = provider.NewGrokProvider(llm.ProviderConfig{
			APIKey:  cfg.GrokAPIKey,
			BaseURL: cfg.GrokBaseURL,
			Model:   cfg.GrokModel,
		})
	case cfg.OpenAIAPIKey != "":
		logger.Warn("GROK_API_KEY not set, falling back to OpenAI")
		p = provider.NewOpenAIProvider(llm.ProviderConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		})
	default:
		return nil, ErrNoCredentials
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}

	return &Client{
		provider:    p,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

// NewWithProvider builds a client over an explicit provider.
func NewWithProvider(p llm.Provider, maxTokens int, temperature float64, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		provider:    p,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		logger:      logger,
	}
}

// ProviderName reports which backend was selected.
func (c *Client) ProviderName() llm.ProviderType {
	return c.provider.Name()
}

// Complete sends the messages to the provider and returns the first
// choice's content. All failures surface as ErrServiceUnavailable; the
// underlying cause is logged, never the credentials.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, opts Options) (string, llm.Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := c.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	resp, err := c.provider.Chat(ctx, &llm.ChatRequest{
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		c.logger.Error("completion failed",
			"provider", c.provider.Name(),
			"error", err)
		return "", llm.Usage{}, fmt.Errorf("%w: %s", llm.ErrServiceUnavailable, c.provider.Name())
	}
	if len(resp.Choices) == 0 {
		c.logger.Error("completion returned no choices", "provider", c.provider.Name())
		return "", resp.Usage, fmt.Errorf("%w: empty completion", llm.ErrServiceUnavailable)
	}

	return resp.Choices[0].Message.Content, resp.Usage, nil
}
