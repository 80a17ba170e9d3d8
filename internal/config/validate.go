package config

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

// Limits accepted by Validate.
const (
	MinMaxTokens   = 256
	MaxMaxTokens   = 16384
	MaxIterations  = 10
	MaxRetries     = 10
	MinTimeoutMS   = 1000
	MinBackoffBase = 1.0
	MaxBackoffBase = 5.0
)

// ValidateSettings validates raw config settings against the JSON schema.
func ValidateSettings(settings map[string]any) error {
	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	documentLoader := gojsonschema.NewGoLoader(settings)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("validate config schema: %w", err)
	}
	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, schemaErr := range result.Errors() {
		errs = append(errs, schemaErr.String())
	}
	sort.Strings(errs)

	return fmt.Errorf("config schema validation failed: %s", strings.Join(errs, "; "))
}

// Validate checks value ranges after defaults and overrides are applied.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.LLM.Provider) == "" {
		errs = append(errs, errors.New("llm.provider is required"))
	}
	errs = append(errs, c.Actor.validate("actor")...)
	errs = append(errs, c.Critic.validate("critic")...)

	r := c.Refinement
	if r.MaxIterations < 1 || r.MaxIterations > MaxIterations {
		errs = append(errs, fmt.Errorf("refinement.max_iterations must be 1-%d, got %d", MaxIterations, r.MaxIterations))
	}
	if r.MaxRetries < 1 || r.MaxRetries > MaxRetries {
		errs = append(errs, fmt.Errorf("refinement.max_retries must be 1-%d, got %d", MaxRetries, r.MaxRetries))
	}
	if r.RetryBackoffBase < MinBackoffBase || r.RetryBackoffBase > MaxBackoffBase {
		errs = append(errs, fmt.Errorf("refinement.retry_backoff_base must be %g-%g, got %g", MinBackoffBase, MaxBackoffBase, r.RetryBackoffBase))
	}
	if r.RequestTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("refinement.request_timeout_ms must not be negative, got %d", r.RequestTimeoutMS))
	}

	if c.Storage.Retention.KeepLast < 0 || c.Storage.Retention.KeepDays < 0 {
		errs = append(errs, errors.New("storage.retention values must not be negative"))
	}
	return errors.Join(errs...)
}

func (a AgentConfig) validate(name string) []error {
	var errs []error
	if a.Temperature < 0 || a.Temperature > 1 {
		errs = append(errs, fmt.Errorf("%s.temperature must be 0-1, got %g", name, a.Temperature))
	}
	if a.MaxTokens < MinMaxTokens || a.MaxTokens > MaxMaxTokens {
		errs = append(errs, fmt.Errorf("%s.max_tokens must be %d-%d, got %d", name, MinMaxTokens, MaxMaxTokens, a.MaxTokens))
	}
	if a.TimeoutMS < MinTimeoutMS {
		errs = append(errs, fmt.Errorf("%s.timeout_ms must be at least %d, got %d", name, MinTimeoutMS, a.TimeoutMS))
	}
	return errs
}
