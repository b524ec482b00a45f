// Copyright 2026 © The Agent Factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads factory settings from YAML files, FACTORY_ environment
// variables and command line overrides, in that order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/agentfactory/pkg/llm"
	"github.com/jllopis/agentfactory/pkg/telemetry"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

const envPrefix = "FACTORY_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Skills    SkillsConfig    `koanf:"skills"`
	LLM       LLMConfig       `koanf:"llm"`
	MCP       MCPConfig       `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	telemetry.Config `koanf:",squash"`
	ServiceName      string `koanf:"service_name"`
}

// TracingConfig is the tracer configuration plus the orphan sweeper schedule.
type TracingConfig struct {
	tracing.Config `koanf:",squash"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
	SweepTimeout   time.Duration `koanf:"sweep_timeout"`
}

type SkillsConfig struct {
	Dir              string `koanf:"dir"`
	HistorySize      int    `koanf:"history_size"`
	BatchConcurrency int    `koanf:"batch_concurrency"`
}

// LLMConfig selects the model adapter. Pricing keys are model names, or
// prefixes ending in "*". Keys are split on ".", so models whose names
// contain dots must be priced through a prefix.
type LLMConfig struct {
	Provider string `koanf:"provider"` // mock, echo, ollama, anthropic
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	// APIKey is only used by hosted providers. Prefer FACTORY_LLM_API_KEY
	// over writing it to a file.
	APIKey    string      `koanf:"api_key"`
	MaxTokens int         `koanf:"max_tokens"`
	Pricing   llm.Pricing `koanf:"pricing"`
}

// MCPConfig lists remote MCP servers whose tools are registered as skills
// named "<server>-<tool>".
type MCPConfig struct {
	Servers map[string]MCPServerConfig `koanf:"servers"`
}

// MCPServerConfig starts an MCP server over stdio.
type MCPServerConfig struct {
	Command string        `koanf:"command"`
	Args    []string      `koanf:"args"`
	Timeout time.Duration `koanf:"timeout"`
}

func setDefaults(k *koanf.Koanf) {
	td := tracing.DefaultConfig()
	defaults := map[string]any{
		"log.level":  "info",
		"log.format": "text",

		"telemetry.exporter":        "none",
		"telemetry.otlp_endpoint":   "localhost:4317",
		"telemetry.otlp_insecure":   true,
		"telemetry.metric_interval": "1m",
		"telemetry.sample_ratio":    1.0,
		"telemetry.service_name":    "agentfactory",

		"tracing.db_path":             "",
		"tracing.max_payload_bytes":   td.MaxPayloadBytes,
		"tracing.workers":             td.Workers,
		"tracing.queue_size":          td.QueueSize,
		"tracing.write_attempts":      td.WriteAttempts,
		"tracing.write_initial_delay": td.WriteInitialDelay.String(),
		"tracing.write_max_delay":     td.WriteMaxDelay.String(),
		"tracing.breaker_threshold":   td.BreakerThreshold,
		"tracing.breaker_cooldown":    td.BreakerCooldown.String(),
		"tracing.orphan_after":        td.OrphanAfter.String(),
		"tracing.redact_pii":          td.RedactPII,
		"tracing.sweep_interval":      "1m",
		"tracing.sweep_timeout":       "10s",

		"skills.dir":               "skills",
		"skills.history_size":      100,
		"skills.batch_concurrency": 4,

		"llm.provider": "mock",
		"llm.model":    "mock-model",
		"llm.base_url": "",
	}
	for key, v := range defaults {
		_ = k.Set(key, v)
	}
}

// Load reads path (if not empty) over the defaults, then the environment.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile loads base and then base's profile file on top of it, so
// config.yaml with profile "dev" also reads config.dev.yaml when present.
func LoadWithProfile(base, profile string) (*Config, error) {
	return load(base, profile, nil)
}

// LoadWithOverrides loads path and applies key=value overrides last.
func LoadWithOverrides(path string, sets []string) (*Config, error) {
	overrides, err := parseSets(sets)
	if err != nil {
		return nil, err
	}
	return load(path, "", overrides)
}

// LoadWithCLI reads --config, --profile (or --env) and --set from args.
// Unrelated arguments are ignored.
func LoadWithCLI(args []string) (*Config, error) {
	opts, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, overrides)
}

func load(path, profile string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if p := profileConfigPath(path, profile); p != "" {
			if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load profile %s: %w", p, err)
			}
		}
	}

	// FACTORY_TRACING_DB_PATH -> tracing.db_path
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	for key, v := range overrides {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("set %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LLM.Pricing = llm.DefaultPricing().Merge(cfg.LLM.Pricing)
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, key, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + key
}

// profileConfigPath returns the profile file next to base, or "" when either
// argument is empty or the file does not exist.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	p := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

type cliOptions struct {
	path    string
	profile string
}

func parseCLIOverrides(args []string) (cliOptions, map[string]any, error) {
	var opts cliOptions
	var sets []string
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		switch name {
		case "--config", "--set", "--profile", "--env":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			sets = append(sets, value)
		}
	}
	overrides, err := parseSets(sets)
	if err != nil {
		return opts, nil, err
	}
	return opts, overrides, nil
}

// parseSets turns key=value pairs into overrides. Values that parse as JSON
// keep their JSON type, anything else is a string.
func parseSets(sets []string) (map[string]any, error) {
	out := make(map[string]any, len(sets))
	for _, s := range sets {
		key, raw, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", s)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}
