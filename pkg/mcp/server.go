// Copyright 2026 © The Agent Factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes skills and trace queries as Model Context Protocol
// tools, and adapts tools of remote MCP servers into skills.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/agentfactory/pkg/skills"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

const defaultRecentTraces = 10

// Server serves the executor and the tracer over MCP.
type Server struct {
	mcpServer *mcpserver.MCPServer
	exec      *skills.Executor
	tracer    *tracing.Tracer
	logger    *slog.Logger
}

// NewServer creates a server with the execute_skill, list_skills,
// recent_traces, trace_tree and trace_cost tools registered.
func NewServer(name, version string, exec *skills.Executor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		exec:   exec,
		tracer: exec.Tracer(),
		logger: logger,
	}
	s.mcpServer = mcpserver.NewMCPServer(name, version,
		mcpserver.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio serves on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("execute_skill",
			mcplib.WithDescription("Run a registered skill. The call is recorded as a skill span and returns the skill result with its span id."),
			mcplib.WithString("skill_name",
				mcplib.Description("Name of the skill, as listed by list_skills"),
				mcplib.Required(),
			),
			mcplib.WithObject("inputs",
				mcplib.Description("Skill inputs, validated against the skill's input schema"),
			),
		),
		s.handleExecuteSkill,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("list_skills",
			mcplib.WithDescription("List registered skills with their versions, descriptions and input schemas."),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleListSkills,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("recent_traces",
			mcplib.WithDescription("Most recent traces with span counts, errors, tokens and cost."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of traces to return"),
				mcplib.Min(1),
				mcplib.Max(1000),
				mcplib.DefaultNumber(defaultRecentTraces),
			),
		),
		s.handleRecentTraces,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("trace_tree",
			mcplib.WithDescription("The span tree rooted at a span."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("span_id",
				mcplib.Description("Root span id"),
				mcplib.Required(),
			),
		),
		s.handleTraceTree,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("trace_cost",
			mcplib.WithDescription("Token usage and cost of model calls, grouped by model or provider."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("group_by",
				mcplib.Description("Grouping column"),
				mcplib.Enum(tracing.GroupByModel, tracing.GroupByProvider, tracing.GroupByName, tracing.GroupByTrace),
				mcplib.DefaultString(tracing.GroupByModel),
			),
			mcplib.WithString("since",
				mcplib.Description("Only spans started in this window, as a duration such as 24h"),
			),
		),
		s.handleTraceCost,
	)
}

func (s *Server) handleExecuteSkill(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("skill_name", "")
	if name == "" {
		return errorResult("skill_name is required"), nil
	}
	inputs, err := objectArg(request.GetArguments()["inputs"])
	if err != nil {
		return errorResult(err.Error()), nil
	}

	res := s.exec.ExecuteByName(ctx, name, inputs)
	s.logger.InfoContext(ctx, "mcp.execute_skill",
		slog.String("skill", name),
		slog.String("status", string(res.Status)),
		slog.String("span_id", res.SpanID),
	)
	out := jsonResult(res)
	out.IsError = res.Status == skills.StatusFailure
	return out, nil
}

func (s *Server) handleListSkills(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	reg := s.exec.Registry()
	if reg == nil {
		return jsonResult([]skills.Metadata{}), nil
	}
	return jsonResult(reg.List()), nil
}

func (s *Server) handleRecentTraces(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	summaries, err := s.tracer.Summaries(ctx, request.GetInt("limit", defaultRecentTraces))
	if err != nil {
		return errorResult(fmt.Sprintf("recent traces failed: %v", err)), nil
	}
	return jsonResult(summaries), nil
}

func (s *Server) handleTraceTree(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := request.GetString("span_id", "")
	if id == "" {
		return errorResult("span_id is required"), nil
	}
	tree, err := s.tracer.Subtree(ctx, id)
	if err != nil {
		return errorResult(fmt.Sprintf("trace tree failed: %v", err)), nil
	}
	return jsonResult(tree), nil
}

func (s *Server) handleTraceCost(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	q := tracing.AggregateQuery{
		GroupBy: request.GetString("group_by", tracing.GroupByModel),
		Types:   []tracing.SpanType{tracing.TypeLLMCall},
	}
	if since := request.GetString("since", ""); since != "" {
		d, err := time.ParseDuration(since)
		if err != nil || d <= 0 {
			return errorResult(fmt.Sprintf("invalid since %q: want a positive duration such as 24h", since)), nil
		}
		q.Since = time.Now().Add(-d)
	}
	rows, err := s.tracer.Aggregate(ctx, q)
	if err != nil {
		return errorResult(fmt.Sprintf("trace cost failed: %v", err)), nil
	}
	return jsonResult(rows), nil
}

// objectArg accepts inputs as an object or as a JSON encoded object.
func objectArg(v any) (map[string]any, error) {
	switch in := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return in, nil
	case string:
		if in == "" {
			return map[string]any{}, nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(in), &out); err != nil {
			return nil, fmt.Errorf("inputs must be a JSON object: %v", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("inputs must be an object, got %T", v)
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
