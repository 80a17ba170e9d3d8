package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultOpenAIModel    = "gpt-4o"
)

// Config selects and configures a backend.
type Config struct {
	// Provider is one of Providers().
	Provider string
	Model    string
	BaseURL  string
	// APIKey takes precedence over APIKeyEnv.
	APIKey    string
	APIKeyEnv string
	// Cmd is the command line for the "exec" provider.
	Cmd []string
	// HTTPClient is used by the HTTP-based providers. Nil means default.
	HTTPClient *http.Client
}

var defaultKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

var constructors = map[string]func(ctx context.Context, cfg Config) (Generator, error){
	"anthropic": func(_ context.Context, cfg Config) (Generator, error) {
		return NewHTTPGenerator(AnthropicProvider{}, cfg.BaseURL, orDefault(cfg.Model, defaultAnthropicModel), cfg.apiKey("anthropic"), cfg.HTTPClient), nil
	},
	"openai": func(_ context.Context, cfg Config) (Generator, error) {
		return NewHTTPGenerator(OpenAIProvider{}, cfg.BaseURL, orDefault(cfg.Model, defaultOpenAIModel), cfg.apiKey("openai"), cfg.HTTPClient), nil
	},
	"gemini": func(ctx context.Context, cfg Config) (Generator, error) {
		return NewGeminiGenerator(ctx, cfg.Model, cfg.BaseURL, cfg.apiKey("gemini"), cfg.HTTPClient)
	},
	"mock": func(context.Context, Config) (Generator, error) {
		return DemoScript(), nil
	},
}

func init() {
	for _, name := range []string{"exec", "codex", "claude", "opencode", "gemini-cli"} {
		constructors[name] = func(_ context.Context, cfg Config) (Generator, error) {
			return NewExecGenerator(name, cfg.Model, cfg.Cmd)
		}
	}
}

// New builds the Generator named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Generator, error) {
	build, ok := constructors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q (available: %v)", cfg.Provider, Providers())
	}
	return build(ctx, cfg)
}

// Providers returns the supported provider names, sorted.
func Providers() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c Config) apiKey(provider string) string {
	if c.APIKey != "" {
		return c.APIKey
	}
	env := c.APIKeyEnv
	if env == "" {
		env = defaultKeyEnv[provider]
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
