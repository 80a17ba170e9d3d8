package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicProvider_BuildURL(t *testing.T) {
	p := AnthropicProvider{}

	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{name: "empty uses default", baseURL: "", want: "https://api.anthropic.com/v1/messages"},
		{name: "custom base URL", baseURL: "https://custom.api.com", want: "https://custom.api.com/v1/messages"},
		{name: "trailing slash handled", baseURL: "https://api.anthropic.com/", want: "https://api.anthropic.com/v1/messages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.BuildURL(tt.baseURL))
		})
	}
}

func TestOpenAIProvider_BuildURL(t *testing.T) {
	p := OpenAIProvider{}
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", p.BuildURL(""))
	assert.Equal(t, "http://localhost:11434/v1/chat/completions", p.BuildURL("http://localhost:11434/v1"))
	assert.Equal(t, "http://localhost:8000/v1/chat/completions", p.BuildURL("http://localhost:8000/"))
}

func TestAnthropicProvider_BuildRequestBody(t *testing.T) {
	body, err := AnthropicProvider{}.BuildRequestBody("claude-test", Request{
		System:      "You are a planner.",
		User:        "Plan an island",
		Temperature: 0.4,
	})
	require.NoError(t, err)

	assert.Contains(t, string(body), `"system":"You are a planner."`)
	assert.Contains(t, string(body), `"model":"claude-test"`)
	assert.Contains(t, string(body), `"max_tokens":4096`)
	assert.Contains(t, string(body), `"temperature":0.4`)
	assert.NotContains(t, string(body), `"role":"system"`)
}

func TestOpenAIProvider_BuildRequestBody(t *testing.T) {
	body, err := OpenAIProvider{}.BuildRequestBody("gpt-test", Request{
		System:       "sys",
		User:         "usr",
		MaxTokens:    2048,
		OutputSchema: `{"type":"object"}`,
	})
	require.NoError(t, err)

	var decoded openAIRequest
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, "system", decoded.Messages[0].Role)
	assert.Equal(t, "user", decoded.Messages[1].Role)
	assert.Equal(t, 2048, decoded.MaxTokens)
	require.NotNil(t, decoded.ResponseFormat)
	assert.Equal(t, "json_object", decoded.ResponseFormat.Type)
}

func TestHTTPGenerator_Anthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"content":"build context"`)

		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "{\"decision\":"}, {"type": "text", "text": " \"approve\"}"}],
			"model": "claude-test",
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 120, "output_tokens": 15}
		}`))
	}))
	defer server.Close()

	gen := NewHTTPGenerator(AnthropicProvider{}, server.URL, "claude-test", "secret", server.Client())
	resp, err := gen.Generate(context.Background(), Request{System: "sys", User: "build context"})
	require.NoError(t, err)

	assert.Equal(t, `{"decision": "approve"}`, resp.Text)
	assert.Equal(t, 120, resp.InputTokens)
	assert.Equal(t, 15, resp.OutputTokens)
	assert.Equal(t, "end_turn", resp.FinishReason)
}

func TestHTTPGenerator_OpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"model": "gpt-test",
			"choices": [{"message": {"content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 2}
		}`))
	}))
	defer server.Close()

	gen := NewHTTPGenerator(OpenAIProvider{}, server.URL, "gpt-test", "token", server.Client())
	resp, err := gen.Generate(context.Background(), Request{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 7, resp.InputTokens)
	assert.Equal(t, 2, resp.OutputTokens)
}

func TestHTTPGenerator_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{status: http.StatusTooManyRequests, transient: true},
		{status: http.StatusInternalServerError, transient: true},
		{status: http.StatusBadGateway, transient: true},
		{status: http.StatusServiceUnavailable, transient: true},
		{status: http.StatusBadRequest, transient: false},
		{status: http.StatusUnauthorized, transient: false},
		{status: http.StatusForbidden, transient: false},
		{status: http.StatusTeapot, transient: false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": "nope"}`))
			}))
			defer server.Close()

			gen := NewHTTPGenerator(OpenAIProvider{}, server.URL, "m", "", server.Client())
			_, err := gen.Generate(context.Background(), Request{User: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, !tt.transient, IsFatal(err))
			assert.Contains(t, err.Error(), "status")
		})
	}
}

func TestHTTPGenerator_BrokenEnvelopeIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		body     string
	}{
		{name: "anthropic garbage", provider: AnthropicProvider{}, body: `not json`},
		{name: "anthropic truncated", provider: AnthropicProvider{}, body: `{"content": [{"type": "text", "text": "ab`},
		{name: "openai no choices", provider: OpenAIProvider{}, body: `{"choices": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			gen := NewHTTPGenerator(tt.provider, server.URL, "m", "", server.Client())
			_, err := gen.Generate(context.Background(), Request{User: "x"})
			require.Error(t, err)
			assert.True(t, IsTransient(err))
			assert.False(t, IsFatal(err))
		})
	}
}

func TestHTTPGenerator_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	gen := NewHTTPGenerator(AnthropicProvider{}, server.URL, "m", "", server.Client())
	_, err := gen.Generate(ctx, Request{User: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
