// Package llm provides the remote text-generation capability used by the
// Actor and Critic agents, with adapters for several backends.
package llm

import "context"

// Request is one generation call.
type Request struct {
	// System is the fixed role instruction.
	System string
	// User is the built context for this call.
	User string
	// Temperature is the sampling temperature in [0, 1].
	Temperature float64
	// MaxTokens bounds the output length. 0 uses the backend default.
	MaxTokens int
	// OutputSchema is an optional JSON schema the output must satisfy.
	// Backends that cannot enforce it ignore it.
	OutputSchema string
}

// Response is the result of a successful generation call.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	FinishReason string
	Model        string
}

// Generator produces text for a request. Implementations must honour ctx
// cancellation and be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// EstimateTokens approximates a token count at four characters per token,
// for backends that do not report usage.
func EstimateTokens(text string) int {
	return len(text) / 4
}
