// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"
	"encoding/hex"
	"log/slog"

	"github.com/google/uuid"
)

type activeSpanKey struct{}

// ContextWithSpan returns a copy of ctx whose active span is h.
func ContextWithSpan(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, activeSpanKey{}, h)
}

// SpanFromContext returns the active span of ctx, or nil.
func SpanFromContext(ctx context.Context) *Handle {
	if ctx == nil {
		return nil
	}
	h, _ := ctx.Value(activeSpanKey{}).(*Handle)
	return h
}

// Detach returns ctx without an active span so the next span starts a new trace.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, activeSpanKey{}, (*Handle)(nil))
}

// LogAttrs adds the active span to log records. It plugs into
// telemetry.ConfigureSlog as a context extractor.
func LogAttrs(ctx context.Context) []slog.Attr {
	h := SpanFromContext(ctx)
	if h == nil {
		return nil
	}
	return []slog.Attr{
		slog.String("factory_span_id", h.ID()),
		slog.String("factory_trace_id", h.TraceID()),
	}
}

// newSpanID returns a random 32 hex character id.
func newSpanID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
