package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.4, cfg.Actor.Temperature)
	assert.Equal(t, 0.2, cfg.Critic.Temperature)
	assert.Equal(t, cfg.Actor.MaxTokens/2, cfg.Critic.MaxTokens)
	assert.Equal(t, 1, cfg.Refinement.MaxIterations)
	assert.Equal(t, 60*time.Second, cfg.Actor.Timeout())
	assert.Equal(t, 30*time.Second, cfg.Critic.Timeout())
	assert.Zero(t, cfg.Refinement.RequestTimeout())
}

func TestLoad_MergesFileOverDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
llm:
  provider: openai
  model: gpt-4o-mini
actor:
  temperature: 0.7
refinement:
  max_iterations: 3
storage:
  retention:
    keep_days: 14
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 0.7, cfg.Actor.Temperature)
	assert.Equal(t, 4096, cfg.Actor.MaxTokens, "unset keys keep their default")
	assert.Equal(t, 3, cfg.Refinement.MaxIterations)
	assert.Equal(t, 3, cfg.Refinement.MaxRetries)
	assert.Equal(t, 14, cfg.Storage.Retention.KeepDays)
	assert.Equal(t, 100, cfg.Storage.Retention.KeepLast)
}

func TestLoad_JSONFile(t *testing.T) {
	path := writeFile(t, "config.json", `{"llm": {"provider": "exec", "cmd": ["my-agent", "--json"]}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "exec", cfg.LLM.Provider)
	assert.Equal(t, []string{"my-agent", "--json"}, cfg.LLM.Cmd)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DUET_LLM_PROVIDER", "gemini")
	t.Setenv("DUET_CRITIC_TEMPERATURE", "0.1")
	t.Setenv("DUET_REFINEMENT_MAX_ITERATIONS", "5")

	path := writeFile(t, "config.yaml", "llm:\n  provider: openai\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 0.1, cfg.Critic.Temperature)
	assert.Equal(t, 5, cfg.Refinement.MaxIterations)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeFile(t, "config.yaml", "refinement:\n  max_iteration: 3\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config schema validation failed")
}

func TestLoad_OutOfRangeRejected(t *testing.T) {
	path := writeFile(t, "config.yaml", "refinement:\n  max_iterations: 11\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refinement.max_iterations")
}

func TestValidate_Ranges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"provider", func(c *Config) { c.LLM.Provider = " " }, "llm.provider"},
		{"actor temperature", func(c *Config) { c.Actor.Temperature = 1.1 }, "actor.temperature"},
		{"critic temperature", func(c *Config) { c.Critic.Temperature = -0.5 }, "critic.temperature"},
		{"max tokens low", func(c *Config) { c.Actor.MaxTokens = 100 }, "actor.max_tokens"},
		{"max tokens high", func(c *Config) { c.Critic.MaxTokens = 20000 }, "critic.max_tokens"},
		{"timeout", func(c *Config) { c.Actor.TimeoutMS = 500 }, "actor.timeout_ms"},
		{"iterations", func(c *Config) { c.Refinement.MaxIterations = 0 }, "refinement.max_iterations"},
		{"retries", func(c *Config) { c.Refinement.MaxRetries = 11 }, "refinement.max_retries"},
		{"backoff", func(c *Config) { c.Refinement.RetryBackoffBase = 0.5 }, "refinement.retry_backoff_base"},
		{"request timeout", func(c *Config) { c.Refinement.RequestTimeoutMS = -1 }, "refinement.request_timeout_ms"},
		{"retention", func(c *Config) { c.Storage.Retention.KeepLast = -1 }, "storage.retention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateSettings(map[string]any{
		"llm":    map[string]any{"provider": "mock"},
		"critic": map[string]any{"temperature": 0.3, "max_tokens": 1024},
	}))

	err := ValidateSettings(map[string]any{"actor": map[string]any{"temperature": "hot"}})
	assert.Error(t, err)

	err = ValidateSettings(map[string]any{"profiles": map[string]any{}})
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "DUET_TEST_DOTENV_KEY=from-file\n")
	t.Setenv("DUET_TEST_DOTENV_KEY", "")
	require.NoError(t, os.Unsetenv("DUET_TEST_DOTENV_KEY"))

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path))
	assert.Equal(t, "from-file", os.Getenv("DUET_TEST_DOTENV_KEY"))

	t.Setenv("DUET_TEST_DOTENV_KEY", "from-env")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv("DUET_TEST_DOTENV_KEY"), "existing variables win")
}
