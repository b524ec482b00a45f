package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/agentfactory/pkg/config"
	"github.com/jllopis/agentfactory/pkg/errors"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

func TestParseGlobalFlags(t *testing.T) {
	t.Setenv("FACTORY_CONFIG", "")

	tests := []struct {
		name     string
		args     []string
		wantArgs []string
		check    func(t *testing.T, f globalFlags)
		wantErr  bool
	}{
		{
			name:     "config and set",
			args:     []string{"--config", "c.yaml", "--set=llm.provider=echo", "skills", "list"},
			wantArgs: []string{"skills", "list"},
			check: func(t *testing.T, f globalFlags) {
				if f.ConfigPath != "c.yaml" {
					t.Errorf("ConfigPath = %q", f.ConfigPath)
				}
				want := []string{"--config", "c.yaml", "--set", "llm.provider=echo"}
				if strings.Join(f.ConfigArgs, " ") != strings.Join(want, " ") {
					t.Errorf("ConfigArgs = %v, want %v", f.ConfigArgs, want)
				}
			},
		},
		{
			name:     "json profile timeout",
			args:     []string{"--json", "--profile", "dev", "--timeout=5s", "status"},
			wantArgs: []string{"status"},
			check: func(t *testing.T, f globalFlags) {
				if !f.JSON || f.Profile != "dev" || f.Timeout != 5*time.Second {
					t.Errorf("unexpected flags %+v", f)
				}
			},
		},
		{
			name:     "double dash",
			args:     []string{"--", "--json"},
			wantArgs: []string{"--json"},
		},
		{name: "help", args: []string{"-h", "status"}, check: func(t *testing.T, f globalFlags) {
			if !f.Help {
				t.Errorf("expected help")
			}
		}},
		{name: "unknown flag", args: []string{"--grpc", "x"}, wantErr: true},
		{name: "missing value", args: []string{"--set"}, wantErr: true},
		{name: "bad timeout", args: []string{"--timeout", "soon"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, rest, err := parseGlobalFlags(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(rest, " ") != strings.Join(tt.wantArgs, " ") {
				t.Fatalf("args = %v, want %v", rest, tt.wantArgs)
			}
			if tt.check != nil {
				tt.check(t, flags)
			}
		})
	}
}

func TestParseGlobalFlagsConfigFromEnv(t *testing.T) {
	t.Setenv("FACTORY_CONFIG", "/etc/factory.yaml")
	flags, _, err := parseGlobalFlags([]string{"status"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if flags.ConfigPath != "/etc/factory.yaml" || len(flags.ConfigArgs) != 2 {
		t.Fatalf("unexpected flags %+v", flags)
	}
}

func TestParseRunArgs(t *testing.T) {
	name, inputs, err := parseRunArgs([]string{"text-stats", "--input", `{"text":"a b"}`})
	if err != nil || name != "text-stats" || inputs["text"] != "a b" {
		t.Fatalf("got %q %v %v", name, inputs, err)
	}

	path := filepath.Join(t.TempDir(), "in.json")
	if err := os.WriteFile(path, []byte(`{"goal":"ship"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	name, inputs, err = parseRunArgs([]string{"--input-file", path, "project-planner"})
	if err != nil || name != "project-planner" || inputs["goal"] != "ship" {
		t.Fatalf("got %q %v %v", name, inputs, err)
	}

	for _, args := range [][]string{{}, {"x", "--input", "[1]"}, {"x", "--bogus"}} {
		if _, _, err := parseRunArgs(args); !errors.IsCode(err, errors.CodeInvalidInput) {
			t.Errorf("args %v: expected invalid input, got %v", args, err)
		}
	}
}

// newTestCLI returns a cli backed by a SQLite trace store, so spans recorded
// by one command are visible to the next.
func newTestCLI(t *testing.T, asJSON bool) (*cli, *bytes.Buffer) {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Tracing.DBPath = filepath.Join(t.TempDir(), "traces.db")
	cfg.Tracing.SweepInterval = 0
	cfg.Skills.Dir = ""
	var out bytes.Buffer
	return &cli{
		flags: globalFlags{Timeout: 10 * time.Second, JSON: asJSON},
		cfg:   cfg,
		out:   &out,
	}, &out
}

func TestSkillsRunThenTraces(t *testing.T) {
	ctx := context.Background()
	c, out := newTestCLI(t, true)

	if err := c.run(ctx, []string{"skills", "run", "text-stats", "--input", `{"text":"a b a","top":1}`}); err != nil {
		t.Fatalf("skills run: %v", err)
	}
	var res struct {
		Status  string `json:"status"`
		SpanID  string `json:"span_id"`
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode %s: %v", out.String(), err)
	}
	if res.Status != "success" || res.SpanID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	out.Reset()
	if err := c.run(ctx, []string{"traces", "recent", "-n", "5"}); err != nil {
		t.Fatalf("traces recent: %v", err)
	}
	var summaries []tracing.TraceSummary
	if err := json.Unmarshal(out.Bytes(), &summaries); err != nil {
		t.Fatalf("decode %s: %v", out.String(), err)
	}
	if len(summaries) != 1 || summaries[0].Root.ID != res.SpanID || summaries[0].Root.Type != tracing.TypeSkill {
		t.Fatalf("unexpected summaries %+v", summaries)
	}

	c.flags.JSON = false
	out.Reset()
	if err := c.run(ctx, []string{"traces", "tree", res.SpanID}); err != nil {
		t.Fatalf("traces tree: %v", err)
	}
	if !strings.HasPrefix(out.String(), "skill text-stats [success]") {
		t.Fatalf("unexpected tree %q", out.String())
	}

	out.Reset()
	if err := c.run(ctx, []string{"traces", "trace", res.TraceID}); err != nil {
		t.Fatalf("traces trace: %v", err)
	}
	if !strings.Contains(out.String(), res.SpanID) {
		t.Fatalf("expected span in trace listing %q", out.String())
	}
}

func TestSkillsRunFailure(t *testing.T) {
	ctx := context.Background()
	c, out := newTestCLI(t, false)

	err := c.run(ctx, []string{"skills", "run", "missing"})
	if !errors.IsCode(err, errors.CodeSkillFailure) {
		t.Fatalf("expected skill failure, got %v", err)
	}
	if !strings.Contains(out.String(), "status: failure") {
		t.Fatalf("expected failure to be printed, got %q", out.String())
	}

	out.Reset()
	if err := c.run(ctx, []string{"traces", "errors"}); err != nil {
		t.Fatalf("traces errors: %v", err)
	}
	if !strings.Contains(out.String(), "unknown skill: missing") {
		t.Fatalf("expected error span listed, got %q", out.String())
	}
}

func TestTracesCostAndOrphans(t *testing.T) {
	ctx := context.Background()
	c, out := newTestCLI(t, false)

	if err := c.run(ctx, []string{"skills", "run", "project-planner", "--input", `{"goal":"ship"}`}); err != nil {
		t.Fatalf("planner: %v", err)
	}
	out.Reset()
	if err := c.run(ctx, []string{"traces", "cost", "--group-by", "provider"}); err != nil {
		t.Fatalf("traces cost: %v", err)
	}
	if !strings.HasPrefix(out.String(), "PROVIDER") || !strings.Contains(out.String(), "mock") {
		t.Fatalf("unexpected cost table %q", out.String())
	}

	err := c.run(ctx, []string{"traces", "cost", "--group-by", "color"})
	if !errors.IsCode(err, errors.CodeInvalidQuery) {
		t.Fatalf("expected invalid query, got %v", err)
	}

	out.Reset()
	if err := c.run(ctx, []string{"traces", "orphans"}); err != nil {
		t.Fatalf("traces orphans: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(out.String()), "\n"); len(lines) != 1 {
		t.Fatalf("expected only the header, got %q", out.String())
	}
}

func TestUnknownCommands(t *testing.T) {
	c, _ := newTestCLI(t, false)
	for _, args := range [][]string{
		{"launch"},
		{"skills"},
		{"skills", "delete"},
		{"traces", "follow"},
		{"mcp", "dance"},
		{"status", "extra"},
	} {
		if err := c.run(context.Background(), args); !errors.IsCode(err, errors.CodeInvalidInput) {
			t.Errorf("%v: expected invalid input, got %v", args, err)
		}
	}
}

func TestStatusAndVersion(t *testing.T) {
	c, out := newTestCLI(t, true)
	if err := c.run(context.Background(), []string{"status"}); err != nil {
		t.Fatalf("status: %v", err)
	}
	var st statusResult
	if err := json.Unmarshal(out.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Skills < 2 || st.Provider != "mock" || st.TraceStore == "memory" {
		t.Fatalf("unexpected status %+v", st)
	}

	out.Reset()
	if err := c.run(context.Background(), []string{"version"}); err != nil || strings.TrimSpace(out.String()) != version {
		t.Fatalf("version = %q, %v", out.String(), err)
	}
}

func TestMCPListWithoutServers(t *testing.T) {
	c, out := newTestCLI(t, false)
	if err := c.run(context.Background(), []string{"mcp", "list"}); err != nil {
		t.Fatalf("mcp list: %v", err)
	}
	if strings.TrimSpace(out.String()) != "no mcp servers configured" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestTruncateMessage(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a longer message", 8, "a lon..."},
		{"abc", 2, "ab"},
	}
	for _, tt := range tests {
		if got := truncateMessage(tt.in, tt.limit); got != tt.want {
			t.Errorf("truncateMessage(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}
