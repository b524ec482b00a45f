// Copyright 2026 © The Agent Factory Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// ContextAttrs extracts extra log attributes from a request context.
type ContextAttrs func(ctx context.Context) []slog.Attr

// ConfigureSlog sets the global slog logger with trace-aware attributes.
// Every record logged with a context carries the OTel trace_id/span_id and
// whatever the extractors return.
func ConfigureSlog(output io.Writer, level, format string, extractors ...ContextAttrs) *slog.Logger {
	logger := slog.New(NewHandler(output, level, format, extractors...))
	slog.SetDefault(logger)
	return logger
}

// NewHandler builds the trace-aware handler without installing it.
func NewHandler(output io.Writer, level, format string, extractors ...ContextAttrs) slog.Handler {
	return NewLeveledHandler(output, ParseLogLevel(level), format, extractors...)
}

// NewLeveledHandler is NewHandler with a caller-owned level, typically a
// *slog.LevelVar that is changed on config reload.
func NewLeveledHandler(output io.Writer, level slog.Leveler, format string, extractors ...ContextAttrs) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	var base slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		base = slog.NewJSONHandler(output, opts)
	default:
		base = slog.NewTextHandler(output, opts)
	}
	return &traceHandler{next: base, extractors: extractors}
}

// traceHandler adds context attributes to every record that does not
// already carry them. The OTel ids always come first.
type traceHandler struct {
	next       slog.Handler
	extractors []ContextAttrs
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx == nil {
		return h.next.Handle(ctx, record)
	}
	seen := make(map[string]bool, record.NumAttrs())
	record.Attrs(func(a slog.Attr) bool {
		seen[a.Key] = true
		return true
	})
	add := func(attrs []slog.Attr) {
		for _, a := range attrs {
			if !seen[a.Key] {
				seen[a.Key] = true
				record.AddAttrs(a)
			}
		}
	}
	add(otelAttrs(ctx))
	for _, extract := range h.extractors {
		add(extract(ctx))
	}
	return h.next.Handle(ctx, record)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{next: h.next.WithAttrs(attrs), extractors: h.extractors}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{next: h.next.WithGroup(name), extractors: h.extractors}
}

// ParseLogLevel maps a config string to a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func otelAttrs(ctx context.Context) []slog.Attr {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []slog.Attr{
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	}
}
