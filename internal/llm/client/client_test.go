package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowmind/flowmind/internal/config"
	"github.com/flowmind/flowmind/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubServer(status int, content string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "upstream error", status)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	}))
}

func TestNewPrefersGrok(t *testing.T) {
	c, err := New(config.AIConfig{GrokAPIKey: "gk", OpenAIAPIKey: "ok"}, nil)
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderGrok, c.ProviderName())
}

func TestNewFallsBackToOpenAI(t *testing.T) {
	c, err := New(config.AIConfig{OpenAIAPIKey: "ok"}, nil)
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderOpenAI, c.ProviderName())
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(config.AIConfig{}, nil)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestCompleteReturnsContent(t *testing.T) {
	srv := stubServer(http.StatusOK, "parsed")
	defer srv.Close()

	c, err := New(config.AIConfig{GrokAPIKey: "gk", GrokBaseURL: srv.URL}, nil)
	require.NoError(t, err)

	content, usage, err := c.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "parsed", content)
	assert.Equal(t, 5, usage.TotalTokens)
}

func TestCompleteMapsFailuresToServiceUnavailable(t *testing.T) {
	srv := stubServer(http.StatusInternalServerError, "")
	defer srv.Close()

	c, err := New(config.AIConfig{GrokAPIKey: "gk", GrokBaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, _, err = c.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, Options{})
	assert.ErrorIs(t, err, llm.ErrServiceUnavailable)
	assert.NotContains(t, err.Error(), "gk")
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer srv.Close()

	c, err := New(config.AIConfig{GrokAPIKey: "gk", GrokBaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, _, err = c.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, Options{})
	assert.ErrorIs(t, err, llm.ErrServiceUnavailable)
}

func TestCompleteHonorsTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c, err := New(config.AIConfig{
		GrokAPIKey:  "gk",
		GrokBaseURL: srv.URL,
		Timeout:     50 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	start := time.Now()
	_, _, err = c.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
	}, Options{})
	assert.ErrorIs(t, err, llm.ErrServiceUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)
}
