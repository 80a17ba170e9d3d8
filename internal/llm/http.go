package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxResponseSize limits the response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024

// Provider adapts one HTTP chat-completion API.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "openai").
	Name() string

	// BuildURL constructs the full API endpoint URL.
	BuildURL(baseURL string) string

	// SetHeaders adds provider-specific headers to the request.
	SetHeaders(req *http.Request, apiKey string)

	// BuildRequestBody creates the JSON request body for the provider.
	BuildRequestBody(model string, req Request) ([]byte, error)

	// ParseResponse extracts the response from provider-specific JSON.
	ParseResponse(body []byte, model string) (*Response, error)
}

// HTTPGenerator sends requests to a Provider over HTTP.
type HTTPGenerator struct {
	provider Provider
	baseURL  string
	model    string
	apiKey   string
	client   *http.Client
}

// NewHTTPGenerator returns a generator for p. A nil client uses
// http.DefaultClient; per-call deadlines come from ctx.
func NewHTTPGenerator(p Provider, baseURL, model, apiKey string, client *http.Client) *HTTPGenerator {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGenerator{
		provider: p,
		baseURL:  baseURL,
		model:    model,
		apiKey:   apiKey,
		client:   client,
	}
}

// Generate implements Generator.
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	url := g.provider.BuildURL(g.baseURL)

	body, err := g.provider.BuildRequestBody(g.model, req)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	log.Debug().
		Str("provider", g.provider.Name()).
		Str("model", g.model).
		Str("url", url).
		Int("context_chars", len(req.User)).
		Msg("sending generation request")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	g.provider.SetHeaders(httpReq, g.apiKey)

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(g.provider.Name(), httpResp.StatusCode, respBody)
	}

	// A broken envelope on a 200 is a provider glitch, not a caller mistake.
	resp, err := g.provider.ParseResponse(respBody, g.model)
	if err != nil {
		return nil, NewTransientError(err)
	}
	return resp, nil
}

func classifyHTTPError(provider string, statusCode int, body []byte) error {
	bodyStr := strings.TrimSpace(string(body))
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}
	return classifyStatus(statusCode, fmt.Errorf("%s API error (status %d): %s", provider, statusCode, bodyStr))
}

func trimBaseURL(baseURL, fallback string) string {
	if baseURL == "" {
		baseURL = fallback
	}
	return strings.TrimSuffix(baseURL, "/")
}
