// SPDX-License-Identifier: Apache-2.0
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agentfactory/pkg/errors"
	"github.com/jllopis/agentfactory/pkg/telemetry"
)

// Tracer opens and closes spans and persists them through a Store.
// A Tracer is safe for concurrent use. There is no tracer-wide lock on the
// span path: each handle guards its own state and writes are sharded per trace.
type Tracer struct {
	cfg      Config
	store    Store
	writer   *writer
	reporter Reporter
	errs     *telemetry.ErrorMetrics
	log      *slog.Logger
	otel     trace.Tracer
	redact   *Redactor
	now      func() time.Time

	open      sync.Map // span id -> *Handle
	reported  sync.Map // span id -> struct{}, orphans already reported
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithStore sets the span store. The default is a MemoryStore.
func WithStore(s Store) Option {
	return func(t *Tracer) { t.store = s }
}

// WithReporter replaces the default LogReporter.
func WithReporter(r Reporter) Option {
	return func(t *Tracer) { t.reporter = r }
}

// WithLogger sets the logger used by the tracer and the default reporter.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracer) { t.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracer) { t.now = now }
}

// WithOTelTracer sets the OpenTelemetry tracer spans are mirrored to.
func WithOTelTracer(ot trace.Tracer) Option {
	return func(t *Tracer) { t.otel = ot }
}

// WithRedactor masks personal data in payloads and error messages.
func WithRedactor(r *Redactor) Option {
	return func(t *Tracer) { t.redact = r }
}

// WithErrorMetrics counts reports by error code.
func WithErrorMetrics(m *telemetry.ErrorMetrics) Option {
	return func(t *Tracer) { t.errs = m }
}

// New creates a tracer and starts its write workers. Close must be called to
// drain pending writes.
func New(cfg Config, opts ...Option) *Tracer {
	t := &Tracer{cfg: cfg.withDefaults()}
	for _, opt := range opts {
		opt(t)
	}
	if t.store == nil {
		t.store = NewMemoryStore()
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	if t.reporter == nil {
		t.reporter = LogReporter{Logger: t.log, Metrics: t.errs}
	}
	if t.otel == nil {
		t.otel = otel.Tracer("agentfactory/tracing")
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.redact == nil && t.cfg.RedactPII {
		t.redact = NewRedactor(RedactMask)
	}
	initMetrics()
	t.writer = newWriter(t.store, t.cfg, t.reporter, t.errs, t.log)
	return t
}

// Open creates a tracer backed by SQLite at cfg.DBPath, or by memory when the
// path is empty.
func Open(cfg Config, opts ...Option) (*Tracer, error) {
	if cfg.DBPath == "" {
		return New(cfg, opts...), nil
	}
	store, err := OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return New(cfg, append([]Option{WithStore(store)}, opts...)...), nil
}

// Config returns the effective configuration.
func (t *Tracer) Config() Config { return t.cfg }

// Store returns the underlying span store.
func (t *Tracer) Store() Store { return t.store }

// StartSpan opens a span whose parent is the active span of ctx, if any, and
// returns a context carrying the new span. It never fails: persistence is
// queued and problems go to the reporter.
func (t *Tracer) StartSpan(ctx context.Context, spanType SpanType, name string, input map[string]any) (context.Context, *Handle) {
	if ctx == nil {
		ctx = context.Background()
	}
	now := t.now()
	id := newSpanID()
	span := Span{
		ID:        id,
		TraceID:   id,
		Type:      spanType,
		Name:      name,
		Status:    StatusPending,
		Input:     t.redact.Payload(boundPayload(input, t.cfg.MaxPayloadBytes)),
		StartedAt: now,
	}

	parent := SpanFromContext(ctx)
	counted := false
	if parent != nil {
		span.ParentID = parent.id
		span.TraceID = parent.traceID
		parentStart, parentClosed := parent.adopt()
		counted = !parentClosed
		if parentClosed {
			span.Flags = append(span.Flags, FlagParentClosed)
		}
		if span.StartedAt.Before(parentStart) {
			span.StartedAt = parentStart
			span.Flags = append(span.Flags, FlagClockSkew)
		}
	}

	octx, ospan := t.otel.Start(ctx, name,
		trace.WithTimestamp(span.StartedAt),
		trace.WithAttributes(telemetry.SpanAttributes(id, string(spanType), name)...),
		trace.WithAttributes(attribute.String(telemetry.AttrTraceID, span.TraceID)),
	)
	if span.ParentID != "" {
		ospan.SetAttributes(attribute.String(telemetry.AttrSpanParent, span.ParentID))
	}

	h := &Handle{
		tracer:   t,
		parent:   parent,
		otel:     ospan,
		id:       id,
		traceID:  span.TraceID,
		spanType: spanType,
		counted:  counted,
		span:     span,
	}
	t.open.Store(id, h)
	spansStarted.Add(ctx, 1, metric.WithAttributes(attribute.String(telemetry.AttrSpanType, string(spanType))))
	t.writer.enqueue(&Write{Span: span.clone()})
	return ContextWithSpan(octx, h), h
}

// EndOption sets close-time data on a span.
type EndOption func(*endOptions)

type endOptions struct {
	output map[string]any
	errMsg string
	usage  *Usage
}

// WithOutput records the span's output summary.
func WithOutput(out map[string]any) EndOption {
	return func(o *endOptions) { o.output = out }
}

// WithError records err's message on an ERROR span. Nil is ignored.
func WithError(err error) EndOption {
	return func(o *endOptions) {
		if err != nil {
			o.errMsg = err.Error()
		}
	}
}

// WithErrorMessage records msg on an ERROR span.
func WithErrorMessage(msg string) EndOption {
	return func(o *endOptions) { o.errMsg = msg }
}

// WithUsage records model accounting. It is only accepted on TypeLLMCall
// spans; elsewhere it is ignored and the span is flagged.
func WithUsage(u Usage) EndOption {
	return func(o *endOptions) { o.usage = &u }
}

// EndSpan closes h with a terminal status. Closing a span twice returns a
// CodeAlreadyClosed error and leaves the first close untouched. Closing a
// span whose children are still open succeeds but flags the span and
// reports a nesting violation.
func (t *Tracer) EndSpan(ctx context.Context, h *Handle, status Status, opts ...EndOption) error {
	if h == nil {
		return errors.New(errors.CodeInvalidInput, "end span: nil handle", nil)
	}
	if !status.Terminal() {
		return errors.Newf(errors.CodeInvalidInput, "end span: %q is not a terminal status", status).
			WithContext("span_id", h.id)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var o endOptions
	for _, opt := range opts {
		opt(&o)
	}

	h.mu.Lock()
	if h.closed {
		first := h.span.Status
		h.mu.Unlock()
		return errors.Newf(errors.CodeAlreadyClosed, "span %s already closed", h.id).
			WithContext("span_id", h.id).
			WithContext("status", string(first))
	}
	h.closed = true
	span := &h.span
	end := t.now()
	if end.Before(span.StartedAt) {
		end = span.StartedAt
		span.Flags = append(span.Flags, FlagClockSkew)
	}
	span.Status = status
	span.EndedAt = &end
	span.DurationMs = float64(end.Sub(span.StartedAt).Microseconds()) / 1000
	span.Output = t.redact.Payload(boundPayload(o.output, t.cfg.MaxPayloadBytes))
	if status == StatusError {
		span.Error = t.redact.String(o.errMsg)
		if span.Error == "" {
			span.Error = "unknown error"
		}
	}
	if o.usage != nil {
		applyUsage(span, *o.usage)
	}
	openChildren := h.openChildren
	if openChildren > 0 {
		span.Flags = append(span.Flags, fmt.Sprintf("%s:%d", FlagOpenChildren, openChildren))
	}
	snap := span.clone()
	h.mu.Unlock()

	if h.parent != nil && h.counted {
		h.parent.childClosed()
	}
	t.open.Delete(h.id)
	t.reported.Delete(h.id)

	typeAttr := attribute.String(telemetry.AttrSpanType, string(snap.Type))
	spansEnded.Add(ctx, 1, metric.WithAttributes(typeAttr, attribute.String(telemetry.AttrSpanStatus, string(status))))
	spanDurationMs.Record(ctx, snap.DurationMs, metric.WithAttributes(typeAttr))
	if openChildren > 0 {
		nestingCounter.Add(ctx, 1, metric.WithAttributes(typeAttr))
		t.reporter.Report(ctx, errors.Newf(errors.CodeNestingViolation,
			"span %s closed with %d open children", snap.ID, openChildren).
			WithContext("open_children", openChildren), snap)
	}
	endOTel(h.otel, snap)

	t.writer.enqueue(&Write{Span: snap, Final: true, Ancestors: h.ancestors()})
	t.log.DebugContext(ctx, "tracing.span.end",
		slog.String(telemetry.AttrSpanID, snap.ID),
		slog.String(telemetry.AttrSpanType, string(snap.Type)),
		slog.String(telemetry.AttrSpanStatus, string(snap.Status)),
		slog.Float64("duration_ms", snap.DurationMs),
	)
	return nil
}

func applyUsage(span *Span, u Usage) {
	clamped := false
	if u.InputTokens < 0 {
		u.InputTokens, clamped = 0, true
	}
	if u.OutputTokens < 0 {
		u.OutputTokens, clamped = 0, true
	}
	if u.CostUSD < 0 || math.IsNaN(u.CostUSD) || math.IsInf(u.CostUSD, 0) {
		u.CostUSD, clamped = 0, true
	}
	if clamped {
		span.Flags = append(span.Flags, FlagNegativeClamped)
	}
	span.Model = u.Model
	span.Provider = u.Provider
	span.InputTokens = u.InputTokens
	span.OutputTokens = u.OutputTokens
	span.CostUSD = u.CostUSD
}

// Trace runs fn inside a span. The span closes SUCCESS when fn returns nil
// and ERROR otherwise. A panic in fn closes the span and is re-raised.
func (t *Tracer) Trace(ctx context.Context, spanType SpanType, name string, input map[string]any,
	fn func(ctx context.Context) (map[string]any, error)) error {
	ctx, h := t.StartSpan(ctx, spanType, name, input)
	defer func() {
		if r := recover(); r != nil {
			_ = t.EndSpan(ctx, h, StatusError, WithErrorMessage(fmt.Sprintf("panic: %v", r)))
			panic(r)
		}
	}()
	out, err := fn(ctx)
	if err != nil {
		_ = t.EndSpan(ctx, h, StatusError, WithOutput(out), WithError(err))
		return err
	}
	_ = t.EndSpan(ctx, h, StatusSuccess, WithOutput(out))
	return nil
}

// OpenSpans returns snapshots of every span currently open in this process.
func (t *Tracer) OpenSpans() []Span {
	var out []Span
	t.open.Range(func(_, v any) bool {
		out = append(out, v.(*Handle).Snapshot())
		return true
	})
	return out
}

// Flush blocks until all writes queued so far are persisted or dropped.
func (t *Tracer) Flush(ctx context.Context) error {
	return t.writer.flush(ctx)
}

// Close drains pending writes and closes the store. Spans started after
// Close are still usable in memory but are not persisted.
func (t *Tracer) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		werr := t.writer.close(ctx)
		serr := t.store.Close()
		if werr != nil {
			t.closeErr = werr
		} else {
			t.closeErr = serr
		}
	})
	return t.closeErr
}
