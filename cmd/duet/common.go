package main

import (
	"context"
	"fmt"

	"github.com/metalagman/duet/internal/config"
	"github.com/metalagman/duet/internal/db"
	"github.com/metalagman/duet/internal/engine"
	"github.com/metalagman/duet/internal/llm"
	"github.com/metalagman/duet/internal/reference"
	"github.com/metalagman/duet/internal/tracing"
)

func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}

func openStore(cfg config.Config) (*db.Store, func(), error) {
	storeDB, err := db.Open(cfg.Storage.Path)
	if err != nil {
		return nil, func() {}, err
	}
	return db.NewStore(storeDB), func() { _ = storeDB.Close() }, nil
}

func llmConfig(cfg config.Config) llm.Config {
	return llm.Config{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.Model,
		BaseURL:   cfg.LLM.BaseURL,
		APIKeyEnv: cfg.LLM.APIKeyEnv,
		Cmd:       cfg.LLM.Cmd,
	}
}

func engineOptions(cfg config.Config, obs engine.Observer) engine.Options {
	return engine.Options{
		Actor: engine.AgentSettings{
			Temperature: cfg.Actor.Temperature,
			MaxTokens:   cfg.Actor.MaxTokens,
			Timeout:     cfg.Actor.Timeout(),
		},
		Critic: engine.AgentSettings{
			Temperature: cfg.Critic.Temperature,
			MaxTokens:   cfg.Critic.MaxTokens,
			Timeout:     cfg.Critic.Timeout(),
		},
		MaxIterations:  cfg.Refinement.MaxIterations,
		MaxAttempts:    cfg.Refinement.MaxRetries,
		BackoffBase:    cfg.Refinement.RetryBackoffBase,
		RequestTimeout: cfg.Refinement.RequestTimeout(),
		Observer:       obs,
	}
}

func buildEngine(ctx context.Context, cfg config.Config, obs engine.Observer) (*engine.Engine, error) {
	gen, err := llm.New(ctx, llmConfig(cfg))
	if err != nil {
		return nil, err
	}
	ref, err := reference.Load(cfg.Reference.DocsPath, cfg.Reference.ExamplesPath)
	if err != nil {
		return nil, fmt.Errorf("load reference: %w", err)
	}
	return engine.New(gen, ref, engineOptions(cfg, obs))
}

func startTracing(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	return tracing.Init(ctx, "duet", version, cfg.Telemetry.OTLPEndpoint)
}
