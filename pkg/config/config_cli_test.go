package config

import (
	"path/filepath"
	"testing"
)

func TestLoadWithCLIOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factory.yaml")
	writeFile(t, path, `
llm:
  provider: ollama
  model: model-a
telemetry:
  exporter: stdout
`)
	t.Setenv("FACTORY_LLM_PROVIDER", "echo")

	cfg, err := LoadWithCLI([]string{
		"skills", "list",
		"--config", path,
		"--set", "llm.provider=mock",
		"--set=tracing.workers=8",
		"--set", "telemetry.otlp_insecure=false",
		"--json",
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.LLM.Provider != "mock" {
		t.Fatalf("expected cli override provider, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "model-a" {
		t.Fatalf("expected model from file, got %s", cfg.LLM.Model)
	}
	if cfg.Tracing.Workers != 8 {
		t.Fatalf("expected workers override, got %d", cfg.Tracing.Workers)
	}
	if cfg.Telemetry.Exporter != "stdout" || cfg.Telemetry.OTLPInsecure {
		t.Fatalf("unexpected telemetry %+v", cfg.Telemetry)
	}
}

func TestLoadWithCLIProfile(t *testing.T) {
	tmpDir := t.TempDir()
	basePath := filepath.Join(tmpDir, "config.yaml")
	writeFile(t, basePath, "llm:\n  provider: ollama\n")
	writeFile(t, filepath.Join(tmpDir, "config.dev.yaml"), "llm:\n  provider: echo\n")

	tests := []struct {
		name string
		args []string
	}{
		{"profile flag", []string{"--config", basePath, "--profile", "dev"}},
		{"env flag alias", []string{"--config", basePath, "--env", "dev"}},
		{"profile with equals", []string{"--config=" + basePath, "--profile=dev"}},
		{"env with equals", []string{"--config=" + basePath, "--env=dev"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadWithCLI(tc.args)
			if err != nil {
				t.Fatalf("LoadWithCLI failed: %v", err)
			}
			if cfg.LLM.Provider != "echo" {
				t.Errorf("provider: got %s, want echo", cfg.LLM.Provider)
			}
		})
	}
}

func TestParseCLIOverrides(t *testing.T) {
	opts, sets, err := parseCLIOverrides([]string{"--config", "a.yaml", "--set", "skills.history_size=3", "--set", "log.level=debug"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.path != "a.yaml" || opts.profile != "" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if sets["skills.history_size"] != float64(3) || sets["log.level"] != "debug" {
		t.Fatalf("unexpected sets %v", sets)
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	cases := [][]string{
		{"--config"},
		{"--set"},
		{"--set", "invalid"},
		{"--profile"},
	}
	for _, args := range cases {
		if _, _, err := parseCLIOverrides(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}
