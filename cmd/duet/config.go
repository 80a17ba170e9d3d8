package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/metalagman/duet/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialise configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return writeConfigYAML(cmd.OutOrStdout(), cfg)
		},
	})
	cmd.AddCommand(configInitCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = config.DefaultPath
			}
			if err := initConfigFile(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func initConfigFile(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	if err := writeConfigYAML(f, config.Default()); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// writeConfigYAML encodes cfg using its mapstructure key names.
func writeConfigYAML(w io.Writer, cfg config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(configDoc(cfg)); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func configDoc(cfg config.Config) map[string]any {
	agent := func(a config.AgentConfig) map[string]any {
		return map[string]any{"temperature": a.Temperature, "max_tokens": a.MaxTokens, "timeout_ms": a.TimeoutMS}
	}
	llmDoc := map[string]any{"provider": cfg.LLM.Provider}
	for k, v := range map[string]string{"model": cfg.LLM.Model, "base_url": cfg.LLM.BaseURL, "api_key_env": cfg.LLM.APIKeyEnv} {
		if v != "" {
			llmDoc[k] = v
		}
	}
	if len(cfg.LLM.Cmd) > 0 {
		llmDoc["cmd"] = cfg.LLM.Cmd
	}
	return map[string]any{
		"llm":    llmDoc,
		"actor":  agent(cfg.Actor),
		"critic": agent(cfg.Critic),
		"refinement": map[string]any{
			"max_iterations":     cfg.Refinement.MaxIterations,
			"max_retries":        cfg.Refinement.MaxRetries,
			"retry_backoff_base": cfg.Refinement.RetryBackoffBase,
			"request_timeout_ms": cfg.Refinement.RequestTimeoutMS,
		},
		"reference": map[string]any{
			"docs_path":     cfg.Reference.DocsPath,
			"examples_path": cfg.Reference.ExamplesPath,
		},
		"storage": map[string]any{
			"path": cfg.Storage.Path,
			"retention": map[string]any{
				"keep_last": cfg.Storage.Retention.KeepLast,
				"keep_days": cfg.Storage.Retention.KeepDays,
			},
		},
		"telemetry": map[string]any{
			"otlp_endpoint": cfg.Telemetry.OTLPEndpoint,
			"metrics_addr":  cfg.Telemetry.MetricsAddr,
		},
	}
}
