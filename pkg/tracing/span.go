// SPDX-License-Identifier: Apache-2.0

// Package tracing records hierarchical execution spans and persists them to a
// queryable store.
//
// The active span travels in the context.Context, never in package state, so
// concurrent call chains infer their own parents:
//
//	ctx, h := tracer.StartSpan(ctx, tracing.TypeSkill, "text-stats", input)
//	defer tracer.EndSpan(ctx, h, tracing.StatusSuccess, tracing.WithOutput(out))
//
// Persistence is asynchronous and best-effort. StartSpan never fails and
// EndSpan only fails on caller bugs such as closing a span twice.
package tracing

import (
	"strings"
	"time"
)

// SpanType classifies a span. The set is open: new types may be added but
// existing values never change.
type SpanType string

const (
	TypeAgentRun        SpanType = "agent_run"
	TypeWorkflowRun     SpanType = "workflow_run"
	TypeAgentIteration  SpanType = "agent_iteration"
	TypeRoutingDecision SpanType = "routing_decision"
	TypeLLMCall         SpanType = "llm_call"
	TypeEmbedding       SpanType = "embedding"
	TypeToolCall        SpanType = "tool_call"
	TypeSkill           SpanType = "skill"
	TypeSkillLoad       SpanType = "skill_load"
	TypeSkillScript     SpanType = "skill_script"
	TypeRAGIngest       SpanType = "rag_ingest"
	TypeRAGQuery        SpanType = "rag_query"
	TypeMemoryOp        SpanType = "memory_op"
	TypeWorkflowStep    SpanType = "workflow_step"
	TypeMCPCall         SpanType = "mcp_call"
)

// KnownTypes lists the built-in span types.
func KnownTypes() []SpanType {
	return []SpanType{
		TypeAgentRun, TypeWorkflowRun, TypeAgentIteration, TypeRoutingDecision,
		TypeLLMCall, TypeEmbedding, TypeToolCall, TypeSkill, TypeSkillLoad,
		TypeSkillScript, TypeRAGIngest, TypeRAGQuery, TypeMemoryOp,
		TypeWorkflowStep, TypeMCPCall,
	}
}

// Valid reports whether t is usable as a span type: non-empty lowercase
// letters, digits and underscores.
func (t SpanType) Valid() bool {
	if t == "" {
		return false
	}
	for _, r := range string(t) {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}

// Status is the lifecycle state of a span.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Terminal reports whether s is a closing status.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// ParseStatus accepts any casing of the three statuses.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusSuccess, StatusError:
		return st, true
	}
	return "", false
}

// Flags recorded on spans when the tracer tolerates a caller mistake.
const (
	FlagParentClosed    = "parent_closed"
	FlagOpenChildren    = "open_children"
	FlagNegativeClamped = "negative_usage_clamped"
	FlagClockSkew       = "clock_skew"
)

// Span is an immutable snapshot of one recorded unit of execution.
type Span struct {
	ID       string   `json:"id"`
	ParentID string   `json:"parent_id,omitempty"`
	TraceID  string   `json:"trace_id"`
	Type     SpanType `json:"span_type"`
	Name     string   `json:"name"`
	Status   Status   `json:"status"`

	Input  map[string]any `json:"input_data,omitempty"`
	Output map[string]any `json:"output_data,omitempty"`
	Error  string         `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMs float64    `json:"duration_ms,omitempty"`

	// LLM usage; only set on TypeLLMCall spans.
	Model        string  `json:"model,omitempty"`
	Provider     string  `json:"provider,omitempty"`
	InputTokens  int     `json:"tokens_in,omitempty"`
	OutputTokens int     `json:"tokens_out,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`

	Flags []string `json:"flags,omitempty"`
}

// IsRoot reports whether the span has no parent.
func (s Span) IsRoot() bool { return s.ParentID == "" }

// Closed reports whether the span reached a terminal status.
func (s Span) Closed() bool { return s.Status.Terminal() && s.EndedAt != nil }

// Duration is EndedAt - StartedAt, or zero while open.
func (s Span) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// HasFlag reports whether a flag with the given prefix is set.
func (s Span) HasFlag(prefix string) bool {
	for _, f := range s.Flags {
		if strings.HasPrefix(f, prefix) {
			return true
		}
	}
	return false
}

func (s Span) clone() Span {
	out := s
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	if s.Flags != nil {
		out.Flags = append([]string(nil), s.Flags...)
	}
	// Payload maps are never mutated after bounding, so sharing them is safe.
	return out
}

// Usage carries model accounting for an LLM call span.
type Usage struct {
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Node is a span with its children, ordered by start time.
type Node struct {
	Span
	Children []*Node `json:"children,omitempty"`
}

// Walk visits n and its descendants depth-first.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Count returns the number of spans in the tree.
func (n *Node) Count() int {
	count := 0
	n.Walk(func(*Node) { count++ })
	return count
}
