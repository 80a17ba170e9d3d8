package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// OpenAIProvider implements the OpenAI chat completions API. Any compatible
// server (vLLM, Ollama's /v1 endpoint) works through base_url.
type OpenAIProvider struct{}

// Name returns the provider identifier.
func (OpenAIProvider) Name() string {
	return "openai"
}

// BuildURL constructs the chat completions endpoint. A base URL that already
// ends in /v1 is not doubled.
func (OpenAIProvider) BuildURL(baseURL string) string {
	base := trimBaseURL(baseURL, "https://api.openai.com")
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// SetHeaders adds the bearer token.
func (OpenAIProvider) SetHeaders(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

// BuildRequestBody creates the request body. An output schema switches the
// server into JSON object mode.
func (OpenAIProvider) BuildRequestBody(model string, req Request) ([]byte, error) {
	messages := make([]openAIMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.User})

	body := openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.OutputSchema != "" {
		body.ResponseFormat = &openAIFormat{Type: "json_object"}
	}
	return json.Marshal(body)
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ParseResponse extracts the first choice.
func (OpenAIProvider) ParseResponse(body []byte, model string) (*Response, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai response has no choices")
	}
	if resp.Model == "" {
		resp.Model = model
	}
	return &Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		FinishReason: resp.Choices[0].FinishReason,
		Model:        resp.Model,
	}, nil
}
