// Copyright 2026 © The Agent Factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires slog and OpenTelemetry for the agent factory and
// defines the attribute keys shared by spans, metrics and log records.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys. LLM keys follow the gen_ai semantic conventions.
const (
	AttrSpanID     = "factory.span.id"
	AttrSpanParent = "factory.span.parent_id"
	AttrSpanType   = "factory.span.type"
	AttrSpanName   = "factory.span.name"
	AttrSpanStatus = "factory.span.status"
	AttrSpanFlags  = "factory.span.flags"
	AttrTraceID    = "factory.trace.id"

	AttrSkillName    = "factory.skill.name"
	AttrSkillVersion = "factory.skill.version"
	AttrSkillStatus  = "factory.skill.status"

	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMTokensTotal  = "gen_ai.usage.total_tokens"
	AttrLLMCostUSD      = "gen_ai.usage.cost_usd"

	AttrErrorCode = "error.code"
	AttrComponent = "component"
)

// SpanAttributes returns identifying attributes for a tracer span.
func SpanAttributes(id, spanType, name string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSpanID, id),
		attribute.String(AttrSpanType, spanType),
		attribute.String(AttrSpanName, Truncate(name, 200)),
	}
}

// SkillAttributes returns attributes for skill execution spans and metrics.
func SkillAttributes(name, version string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrSkillName, name)}
	if version != "" {
		attrs = append(attrs, attribute.String(AttrSkillVersion, version))
	}
	return attrs
}

// LLMUsageAttributes returns model and token usage attributes.
func LLMUsageAttributes(model, provider string, inputTokens, outputTokens int, costUSD float64) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if model != "" {
		attrs = append(attrs, attribute.String(AttrLLMModel, model))
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if inputTokens > 0 || outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensTotal, inputTokens+outputTokens))
	}
	if costUSD > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMCostUSD, costUSD))
	}
	return attrs
}

// Truncate shortens s to at most max bytes, marking the cut with "...".
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
