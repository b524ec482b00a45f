// Copyright 2026 © The Agent Factory Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/jllopis/agentfactory/pkg/config"
	"github.com/jllopis/agentfactory/pkg/errors"
	"github.com/jllopis/agentfactory/pkg/llm"
	"github.com/jllopis/agentfactory/pkg/mcp"
	"github.com/jllopis/agentfactory/pkg/skills"
	"github.com/jllopis/agentfactory/pkg/skills/builtin"
	"github.com/jllopis/agentfactory/pkg/telemetry"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

// mockResponse is what the mock provider answers. It reads as a plan so the
// project planner works offline.
const mockResponse = `1. Define the goal
2. Build the first version (after: 1)
3. Verify the result (after: 2)`

// NewProvider returns the model adapter named by cfg.Provider.
func NewProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "mock":
		return &llm.MockProvider{Response: mockResponse}, nil
	case "echo":
		return llm.EchoProvider{}, nil
	case "ollama":
		return llm.NewOllama(cfg.BaseURL, llm.WithOllamaModel(cfg.Model)), nil
	case "anthropic":
		return llm.NewAnthropic(
			llm.WithAnthropicAPIKey(cfg.APIKey),
			llm.WithAnthropicBaseURL(cfg.BaseURL),
			llm.WithAnthropicModel(cfg.Model),
			llm.WithAnthropicMaxTokens(int64(cfg.MaxTokens)),
		), nil
	default:
		return nil, errors.Newf(errors.CodeInvalidInput, "unknown llm provider %q", cfg.Provider)
	}
}

// FromConfig wires a runtime from cfg: the tracer and its store, the traced
// model adapter, the built-in skills, any manifests under cfg.Skills.Dir and
// the tools of configured MCP servers.
// The runtime is not started.
func FromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*LocalRuntime, error) {
	log := slog.Default()
	errMetrics, err := telemetry.NewErrorMetrics()
	if err != nil {
		log.Warn("runtime.error_metrics.disabled", slog.Any("error", err))
		errMetrics = nil
	}

	tracer, err := tracing.Open(cfg.Tracing.Config,
		tracing.WithLogger(log),
		tracing.WithErrorMetrics(errMetrics),
	)
	if err != nil {
		return nil, fmt.Errorf("open tracer: %w", err)
	}

	provider, err := NewProvider(cfg.LLM)
	if err != nil {
		_ = tracer.Close(ctx)
		return nil, err
	}
	traced := llm.Traced(provider, tracer, cfg.LLM.Pricing)

	reg := skills.NewRegistry()
	if err := builtin.Register(reg, builtin.Deps{Tracer: tracer, Provider: traced, Model: cfg.LLM.Model}); err != nil {
		_ = tracer.Close(ctx)
		return nil, err
	}
	if dir := cfg.Skills.Dir; dir != "" {
		if _, statErr := os.Stat(dir); statErr == nil {
			names, err := skills.RegisterManifests(ctx, tracer, reg, dir, traced)
			if err != nil {
				_ = tracer.Close(ctx)
				return nil, fmt.Errorf("load skills from %s: %w", dir, err)
			}
			log.Debug("runtime.skills.loaded", slog.String("dir", dir), slog.Int("count", len(names)))
		}
	}

	closers, err := connectMCPServers(ctx, cfg.MCP, reg, tracer)
	if err != nil {
		_ = tracer.Close(ctx)
		return nil, err
	}

	exec := skills.NewExecutor(tracer,
		skills.WithRegistry(reg),
		skills.WithLogger(log),
		skills.WithErrorMetrics(errMetrics),
		skills.WithHistorySize(cfg.Skills.HistorySize),
		skills.WithBatchConcurrency(cfg.Skills.BatchConcurrency),
	)

	base := []Option{WithLogger(log), WithSweep(cfg.Tracing.SweepInterval, cfg.Tracing.SweepTimeout)}
	for _, c := range closers {
		base = append(base, OnStop(func(context.Context) error { return c.Close() }))
	}
	return NewLocal(exec, append(base, opts...)...), nil
}

// connectMCPServers starts every configured MCP server and registers its
// tools. On error the servers started so far are closed.
func connectMCPServers(ctx context.Context, cfg config.MCPConfig, reg *skills.Registry, tracer *tracing.Tracer) ([]*mcp.Client, error) {
	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var clients []*mcp.Client
	fail := func(err error) ([]*mcp.Client, error) {
		for _, c := range clients {
			_ = c.Close()
		}
		return nil, err
	}
	for _, name := range names {
		sc := cfg.Servers[name]
		c, err := mcp.NewClientWithStdio(ctx, sc.Command, sc.Args, mcp.WithTimeout(sc.Timeout))
		if err != nil {
			return fail(fmt.Errorf("mcp server %s: %w", name, err))
		}
		clients = append(clients, c)
		registered, err := mcp.RegisterTools(ctx, reg, c, name, tracer)
		if err != nil {
			return fail(fmt.Errorf("mcp server %s: %w", name, err))
		}
		slog.Debug("runtime.mcp.tools", slog.String("server", name), slog.Int("count", len(registered)))
	}
	return clients, nil
}
