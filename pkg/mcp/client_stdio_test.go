package mcp

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/jllopis/agentfactory/pkg/skills"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

const stdioHelperEnv = "FACTORY_MCP_STDIO_HELPER"

// TestHelperStdioServer is not a test: it runs a factory MCP server on
// stdio when started as a subprocess by TestClientStdio.
func TestHelperStdioServer(t *testing.T) {
	if os.Getenv(stdioHelperEnv) != "1" {
		return
	}
	tracer := tracing.New(tracing.Config{}, tracing.WithLogger(quietLogger()))
	reg := skills.NewRegistry()
	reg.MustRegister(func() skills.Skill {
		return skills.NewFunc(skills.Metadata{Name: "ping", Version: "1.0.0", Description: "Answers pong."},
			func(context.Context, map[string]any) (any, error) { return "pong", nil })
	})
	exec := skills.NewExecutor(tracer, skills.WithRegistry(reg), skills.WithLogger(quietLogger()))
	if err := NewServer("helper", "0.0.1", exec, quietLogger()).ServeStdio(); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestClientStdio(t *testing.T) {
	t.Setenv(stdioHelperEnv, "1")

	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	ctx := context.Background()
	c, err := NewClientWithStdio(ctx, exe, []string{"-test.run", "^TestHelperStdioServer$"})
	if err != nil {
		t.Fatalf("NewClientWithStdio: %v", err)
	}
	defer c.Close()

	tools, err := c.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 5 {
		t.Fatalf("expected five tools, got %d", len(tools))
	}

	result, err := c.CallTool(ctx, "execute_skill", map[string]any{"skill_name": "ping"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result == nil || result.IsError {
		t.Fatalf("expected successful tool result, got %+v", result)
	}
	out, err := toolResultToOutput(result)
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	if s, _ := out.(string); !strings.Contains(s, `"pong"`) {
		t.Fatalf("unexpected output %v", out)
	}
}
