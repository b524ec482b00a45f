// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agentfactory/pkg/telemetry"
)

// endOTel mirrors a closed span onto its OpenTelemetry counterpart so both
// pipelines agree on timing and outcome.
func endOTel(ot trace.Span, span Span) {
	if ot == nil {
		return
	}
	ot.SetAttributes(attribute.String(telemetry.AttrSpanStatus, string(span.Status)))
	if len(span.Flags) > 0 {
		ot.SetAttributes(attribute.StringSlice(telemetry.AttrSpanFlags, span.Flags))
	}
	if span.Type == TypeLLMCall {
		ot.SetAttributes(telemetry.LLMUsageAttributes(span.Model, span.Provider,
			span.InputTokens, span.OutputTokens, span.CostUSD)...)
	}
	if span.Status == StatusError {
		ot.SetStatus(codes.Error, span.Error)
	} else {
		ot.SetStatus(codes.Ok, "")
	}
	if span.EndedAt != nil {
		ot.End(trace.WithTimestamp(*span.EndedAt))
		return
	}
	ot.End()
}
