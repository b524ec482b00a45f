package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != "mock" {
		t.Errorf("expected default provider mock, got %s", cfg.LLM.Provider)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log defaults %+v", cfg.Log)
	}
	if cfg.Telemetry.Exporter != "none" || cfg.Telemetry.ServiceName != "agentfactory" {
		t.Errorf("unexpected telemetry defaults %+v", cfg.Telemetry)
	}
	if cfg.Tracing.WriteAttempts != 3 || cfg.Tracing.OrphanAfter != 10*time.Minute {
		t.Errorf("unexpected tracing defaults %+v", cfg.Tracing.Config)
	}
	if cfg.Tracing.SweepInterval != time.Minute || cfg.Tracing.SweepTimeout != 10*time.Second {
		t.Errorf("unexpected sweeper defaults %v/%v", cfg.Tracing.SweepInterval, cfg.Tracing.SweepTimeout)
	}
	if cfg.Skills.HistorySize != 100 || cfg.Skills.BatchConcurrency != 4 {
		t.Errorf("unexpected skills defaults %+v", cfg.Skills)
	}
	if _, ok := cfg.LLM.Pricing.Lookup("mock-model"); !ok {
		t.Errorf("expected default pricing for mock models")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factory.yaml")
	writeFile(t, path, `
log:
  level: debug
  format: json
tracing:
  db_path: /tmp/spans.db
  write_attempts: 5
  write_initial_delay: 20ms
  sweep_interval: 30s
skills:
  dir: ./my-skills
llm:
  provider: ollama
  model: llama3
  pricing:
    llama3:
      input_per_1k: 0.001
      output_per_1k: 0.002
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log: %+v", cfg.Log)
	}
	if cfg.Tracing.DBPath != "/tmp/spans.db" || cfg.Tracing.WriteAttempts != 5 {
		t.Errorf("tracing: %+v", cfg.Tracing.Config)
	}
	if cfg.Tracing.WriteInitialDelay != 20*time.Millisecond || cfg.Tracing.SweepInterval != 30*time.Second {
		t.Errorf("durations: %v %v", cfg.Tracing.WriteInitialDelay, cfg.Tracing.SweepInterval)
	}
	if cfg.Tracing.QueueSize != 1024 {
		t.Errorf("expected untouched default queue size, got %d", cfg.Tracing.QueueSize)
	}
	if cfg.Skills.Dir != "./my-skills" {
		t.Errorf("skills dir %q", cfg.Skills.Dir)
	}
	price, ok := cfg.LLM.Pricing.Lookup("llama3")
	if !ok || price.InputPer1K != 0.001 || price.OutputPer1K != 0.002 {
		t.Errorf("pricing override: %+v %v", price, ok)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("FACTORY_LLM_PROVIDER", "echo")
	t.Setenv("FACTORY_TRACING_DB_PATH", "env.db")
	t.Setenv("FACTORY_TRACING_ORPHAN_AFTER", "90s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != "echo" {
		t.Errorf("expected provider echo from env, got %s", cfg.LLM.Provider)
	}
	if cfg.Tracing.DBPath != "env.db" {
		t.Errorf("expected db path from env, got %q", cfg.Tracing.DBPath)
	}
	if cfg.Tracing.OrphanAfter != 90*time.Second {
		t.Errorf("expected orphan_after from env, got %v", cfg.Tracing.OrphanAfter)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	cfg, err := LoadWithOverrides("", []string{
		"skills.history_size=7",
		"tracing.write_max_delay=1s",
		"tracing.redact_pii=true",
		`llm.pricing={"custom-*":{"input_per_1k":1,"output_per_1k":2}}`,
	})
	if err != nil {
		t.Fatalf("LoadWithOverrides failed: %v", err)
	}
	if cfg.Skills.HistorySize != 7 {
		t.Errorf("history size %d", cfg.Skills.HistorySize)
	}
	if cfg.Tracing.WriteMaxDelay != time.Second {
		t.Errorf("write max delay %v", cfg.Tracing.WriteMaxDelay)
	}
	if !cfg.Tracing.RedactPII {
		t.Errorf("redact_pii override not applied")
	}
	if p, ok := cfg.LLM.Pricing.Lookup("custom-model"); !ok || p.OutputPer1K != 2 {
		t.Errorf("pricing prefix override: %+v %v", p, ok)
	}

	if _, err := LoadWithOverrides("", []string{"=1"}); err == nil {
		t.Errorf("expected error for empty key")
	}
}

func TestLoadWithProfile(t *testing.T) {
	tmpDir := t.TempDir()

	basePath := filepath.Join(tmpDir, "config.yaml")
	writeFile(t, basePath, `
llm:
  provider: "ollama"
  model: "llama3"
log:
  level: "info"
`)
	writeFile(t, filepath.Join(tmpDir, "config.dev.yaml"), `
llm:
  provider: "mock"
log:
  level: "debug"
`)
	writeFile(t, filepath.Join(tmpDir, "config.prod.yaml"), `
llm:
  provider: "echo"
log:
  level: "warn"
`)

	tests := []struct {
		name         string
		profile      string
		wantProvider string
		wantLogLevel string
	}{
		{"no profile", "", "ollama", "info"},
		{"dev profile", "dev", "mock", "debug"},
		{"prod profile", "prod", "echo", "warn"},
		{"missing profile falls back to base", "staging", "ollama", "info"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadWithProfile(basePath, tc.profile)
			if err != nil {
				t.Fatalf("LoadWithProfile failed: %v", err)
			}
			if cfg.LLM.Provider != tc.wantProvider {
				t.Errorf("provider: got %s, want %s", cfg.LLM.Provider, tc.wantProvider)
			}
			if cfg.Log.Level != tc.wantLogLevel {
				t.Errorf("log level: got %s, want %s", cfg.Log.Level, tc.wantLogLevel)
			}
			if cfg.LLM.Model != "llama3" {
				t.Errorf("model should come from base, got %s", cfg.LLM.Model)
			}
		})
	}
}

func TestProfileConfigPath(t *testing.T) {
	tmpDir := t.TempDir()
	base := filepath.Join(tmpDir, "config.yaml")
	dev := filepath.Join(tmpDir, "config.dev.yaml")
	writeFile(t, base, "log: {}\n")
	writeFile(t, dev, "log: {}\n")

	tests := []struct {
		name    string
		base    string
		profile string
		want    string
	}{
		{"existing profile", base, "dev", dev},
		{"missing profile", base, "prod", ""},
		{"empty profile", base, "", ""},
		{"empty base", "", "dev", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := profileConfigPath(tc.base, tc.profile); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLoadMCPServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factory.yaml")
	writeFile(t, path, `
mcp:
  servers:
    files:
      command: mcp-files
      args: ["--root", "/srv"]
      timeout: 5s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	sc, ok := cfg.MCP.Servers["files"]
	if !ok {
		t.Fatalf("expected files server, got %v", cfg.MCP.Servers)
	}
	if sc.Command != "mcp-files" || len(sc.Args) != 2 || sc.Args[1] != "/srv" || sc.Timeout != 5*time.Second {
		t.Fatalf("unexpected server config %+v", sc)
	}
}
