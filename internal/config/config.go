// Package config provides configuration loading and management for duet.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. DUET_LLM_MODEL.
const EnvPrefix = "DUET"

// DefaultPath is the config file used when none is given.
var DefaultPath = filepath.Join(".duet", "config.yaml")

// Config is the root configuration.
type Config struct {
	LLM        LLMConfig        `json:"llm"        mapstructure:"llm"`
	Actor      AgentConfig      `json:"actor"      mapstructure:"actor"`
	Critic     AgentConfig      `json:"critic"     mapstructure:"critic"`
	Refinement RefinementConfig `json:"refinement" mapstructure:"refinement"`
	Reference  ReferenceConfig  `json:"reference"  mapstructure:"reference"`
	Storage    StorageConfig    `json:"storage"    mapstructure:"storage"`
	Telemetry  TelemetryConfig  `json:"telemetry"  mapstructure:"telemetry"`
}

// LLMConfig selects the backend both agents talk to.
type LLMConfig struct {
	Provider  string   `json:"provider"              mapstructure:"provider"`
	Model     string   `json:"model,omitempty"       mapstructure:"model"`
	BaseURL   string   `json:"base_url,omitempty"    mapstructure:"base_url"`
	APIKeyEnv string   `json:"api_key_env,omitempty" mapstructure:"api_key_env"`
	Cmd       []string `json:"cmd,omitempty"         mapstructure:"cmd"`
}

// AgentConfig tunes one agent.
type AgentConfig struct {
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens"  mapstructure:"max_tokens"`
	TimeoutMS   int     `json:"timeout_ms"  mapstructure:"timeout_ms"`
}

// Timeout returns TimeoutMS as a duration.
func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMS) * time.Millisecond
}

// RefinementConfig bounds the refinement loop.
type RefinementConfig struct {
	MaxIterations    int     `json:"max_iterations"               mapstructure:"max_iterations"`
	MaxRetries       int     `json:"max_retries"                  mapstructure:"max_retries"`
	RetryBackoffBase float64 `json:"retry_backoff_base"           mapstructure:"retry_backoff_base"`
	RequestTimeoutMS int     `json:"request_timeout_ms,omitempty" mapstructure:"request_timeout_ms"`
}

// RequestTimeout returns RequestTimeoutMS as a duration. Zero means unbounded.
func (r RefinementConfig) RequestTimeout() time.Duration {
	return time.Duration(r.RequestTimeoutMS) * time.Millisecond
}

// ReferenceConfig points at tool documentation and usage examples. Empty
// paths select the embedded catalog.
type ReferenceConfig struct {
	DocsPath     string `json:"docs_path,omitempty"     mapstructure:"docs_path"`
	ExamplesPath string `json:"examples_path,omitempty" mapstructure:"examples_path"`
}

// StorageConfig configures the run history database.
type StorageConfig struct {
	Path      string          `json:"path"      mapstructure:"path"`
	Retention RetentionPolicy `json:"retention" mapstructure:"retention"`
}

// RetentionPolicy defines how many old runs to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// TelemetryConfig configures tracing export and the metrics listener.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty" mapstructure:"otlp_endpoint"`
	MetricsAddr  string `json:"metrics_addr,omitempty"  mapstructure:"metrics_addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-20250514",
		},
		Actor:  AgentConfig{Temperature: 0.4, MaxTokens: 4096, TimeoutMS: 60000},
		Critic: AgentConfig{Temperature: 0.2, MaxTokens: 2048, TimeoutMS: 30000},
		Refinement: RefinementConfig{
			MaxIterations:    1,
			MaxRetries:       3,
			RetryBackoffBase: 2.0,
		},
		Storage: StorageConfig{
			Path:      filepath.Join(".duet", "duet.db"),
			Retention: RetentionPolicy{KeepLast: 100},
		},
	}
}

// Load reads the config file at path over the defaults and applies DUET_*
// environment overrides. An empty path reads DefaultPath if it exists; an
// explicit path must exist.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil || explicit {
		raw, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := ValidateSettings(raw); err != nil {
			return Config{}, err
		}
		if err := v.MergeConfigMap(raw); err != nil {
			return Config{}, fmt.Errorf("merge config: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func readFile(path string) (map[string]any, error) {
	raw := viper.New()
	raw.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
		raw.SetConfigType("yaml")
	}
	if err := raw.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return raw.AllSettings(), nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.api_key_env", d.LLM.APIKeyEnv)
	v.SetDefault("llm.cmd", d.LLM.Cmd)

	for name, a := range map[string]AgentConfig{"actor": d.Actor, "critic": d.Critic} {
		v.SetDefault(name+".temperature", a.Temperature)
		v.SetDefault(name+".max_tokens", a.MaxTokens)
		v.SetDefault(name+".timeout_ms", a.TimeoutMS)
	}

	v.SetDefault("refinement.max_iterations", d.Refinement.MaxIterations)
	v.SetDefault("refinement.max_retries", d.Refinement.MaxRetries)
	v.SetDefault("refinement.retry_backoff_base", d.Refinement.RetryBackoffBase)
	v.SetDefault("refinement.request_timeout_ms", d.Refinement.RequestTimeoutMS)

	v.SetDefault("reference.docs_path", d.Reference.DocsPath)
	v.SetDefault("reference.examples_path", d.Reference.ExamplesPath)

	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.retention.keep_last", d.Storage.Retention.KeepLast)
	v.SetDefault("storage.retention.keep_days", d.Storage.Retention.KeepDays)

	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.metrics_addr", d.Telemetry.MetricsAddr)
}
