package mcp

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/agentfactory/pkg/skills"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

// ToolCaller abstracts MCP tool execution. *Client implements it.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcplib.CallToolResult, error)
}

// ToolSkill exposes one tool of a remote MCP server as a skill. Each run
// records a tool_call span under the skill span.
type ToolSkill struct {
	meta   skills.Metadata
	tool   mcplib.Tool
	caller ToolCaller
	tracer *tracing.Tracer
}

var nonName = regexp.MustCompile(`[^a-z0-9]+`)

// SkillName derives a skill name from a server prefix and a tool name, e.g.
// ("github", "list_issues") becomes "github-list-issues".
func SkillName(prefix, tool string) string {
	name := strings.ToLower(tool)
	if prefix != "" {
		name = strings.ToLower(prefix) + "-" + name
	}
	return strings.Trim(nonName.ReplaceAllString(name, "-"), "-")
}

// NewToolSkill builds a skill for tool. prefix namespaces the skill name.
func NewToolSkill(prefix string, tool mcplib.Tool, caller ToolCaller, tracer *tracing.Tracer) (*ToolSkill, error) {
	if tool.Name == "" {
		return nil, errors.New("mcp tool name is required")
	}
	if caller == nil {
		return nil, errors.New("tool caller is required")
	}
	if tracer == nil {
		return nil, errors.New("tracer is required")
	}
	desc := tool.Description
	if desc == "" {
		desc = "MCP tool " + tool.Name
	}
	tags := []string{"mcp"}
	if prefix != "" {
		tags = append(tags, prefix)
	}
	meta := skills.Metadata{
		Name:        SkillName(prefix, tool.Name),
		Version:     "1.0.0",
		Description: desc,
		Tags:        tags,
		Inputs:      schemaFromTool(tool.InputSchema),
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("tool %s: %w", tool.Name, err)
	}
	return &ToolSkill{meta: meta, tool: tool, caller: caller, tracer: tracer}, nil
}

func (t *ToolSkill) Metadata() skills.Metadata { return t.meta }

// Tool returns the wrapped tool definition.
func (t *ToolSkill) Tool() mcplib.Tool { return t.tool }

func (t *ToolSkill) Run(ctx context.Context, inputs map[string]any) (any, error) {
	var out any
	err := t.tracer.Trace(ctx, tracing.TypeToolCall, "tool:"+t.tool.Name, inputs,
		func(ctx context.Context) (map[string]any, error) {
			result, err := t.caller.CallTool(ctx, t.tool.Name, inputs)
			if err != nil {
				return nil, err
			}
			out, err = toolResultToOutput(result)
			if err != nil {
				return nil, err
			}
			return map[string]any{"result": out}, nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterTools lists the tools of c and registers each as a skill named
// SkillName(prefix, tool).
func RegisterTools(ctx context.Context, reg *skills.Registry, c *Client, prefix string, tracer *tracing.Tracer) ([]string, error) {
	tools, err := c.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	var names []string
	for _, tool := range tools {
		s, err := NewToolSkill(prefix, tool, c, tracer)
		if err != nil {
			return names, err
		}
		if err := reg.RegisterSkill(s); err != nil {
			return names, err
		}
		names = append(names, s.meta.Name)
	}
	return names, nil
}

// schemaFromTool keeps the parts of a JSON schema skills validate: property
// types, descriptions, defaults, enums and required names.
func schemaFromTool(in mcplib.ToolInputSchema) skills.Schema {
	out := skills.Schema{Type: "object", Required: in.Required}
	if len(in.Properties) == 0 {
		return out
	}
	out.Properties = make(map[string]skills.Property, len(in.Properties))
	for name, raw := range in.Properties {
		def, _ := raw.(map[string]any)
		out.Properties[name] = propertyFromJSON(def)
	}
	return out
}

func propertyFromJSON(def map[string]any) skills.Property {
	var p skills.Property
	if typ, ok := def["type"].(string); ok && knownType(typ) {
		p.Type = typ
	}
	p.Description, _ = def["description"].(string)
	p.Default = def["default"]
	switch enum := def["enum"].(type) {
	case []any:
		p.Enum = enum
	case []string:
		for _, v := range enum {
			p.Enum = append(p.Enum, v)
		}
	}
	if items, ok := def["items"].(map[string]any); ok && p.Type == "array" {
		ip := propertyFromJSON(items)
		p.Items = &ip
	}
	return p
}

func knownType(t string) bool {
	switch t {
	case "string", "integer", "number", "boolean", "array", "object":
		return true
	}
	return false
}

func toolResultToOutput(result *mcplib.CallToolResult) (any, error) {
	if result == nil {
		return nil, errors.New("mcp tool result is nil")
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp tool returned error: %s", extractTextContent(result.Content))
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if text := extractTextContent(result.Content); text != "" {
		return text, nil
	}
	return nil, nil
}

func extractTextContent(items []mcplib.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcplib.TextContent:
			parts = append(parts, content.Text)
		case *mcplib.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
