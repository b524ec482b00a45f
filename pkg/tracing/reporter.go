// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"
	"log/slog"

	"github.com/jllopis/agentfactory/pkg/errors"
	"github.com/jllopis/agentfactory/pkg/telemetry"
)

// Reporter receives tracer integrity and persistence problems: dropped
// writes, nesting violations and orphaned spans. Reports never reach the
// instrumented code.
type Reporter interface {
	Report(ctx context.Context, err error, span Span)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, err error, span Span)

func (f ReporterFunc) Report(ctx context.Context, err error, span Span) { f(ctx, err, span) }

// LogReporter logs reports and counts them by error code.
type LogReporter struct {
	Logger  *slog.Logger
	Metrics *telemetry.ErrorMetrics
}

func (r LogReporter) Report(ctx context.Context, err error, span Span) {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	code := errors.CodeOf(err)
	level := slog.LevelError
	if code == errors.CodeNestingViolation {
		level = slog.LevelWarn
	}
	log.Log(ctx, level, "tracing.report",
		slog.String("code", string(code)),
		slog.String("error", err.Error()),
		slog.String(telemetry.AttrSpanID, span.ID),
		slog.String(telemetry.AttrTraceID, span.TraceID),
		slog.String(telemetry.AttrSpanType, string(span.Type)),
		slog.String(telemetry.AttrSpanName, span.Name),
		slog.String(telemetry.AttrSpanStatus, string(span.Status)),
	)
	r.Metrics.RecordError(ctx, err, "tracing")
}

// multiReporter fans a report out to several reporters.
type multiReporter []Reporter

func (m multiReporter) Report(ctx context.Context, err error, span Span) {
	for _, r := range m {
		r.Report(ctx, err, span)
	}
}
