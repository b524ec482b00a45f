// Copyright 2026 © The Agent Factory Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime hosts the skill executor in-process together with the
// background consistency checks of the span tracer.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agentfactory/pkg/errors"
	"github.com/jllopis/agentfactory/pkg/skills"
	"github.com/jllopis/agentfactory/pkg/telemetry"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

// Runtime defines the lifecycle for executing skills.
type Runtime interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Run(ctx context.Context, skill string, inputs map[string]any) (*skills.Result, error)
}

// LocalRuntime runs skills in this process. It owns the tracer: Stop
// flushes and closes it.
type LocalRuntime struct {
	mu       sync.Mutex
	started  bool
	tracer   *tracing.Tracer
	executor *skills.Executor
	otel     trace.Tracer
	log      *slog.Logger

	checker       OrphanChecker
	sweepInterval time.Duration
	sweepTimeout  time.Duration
	sweepCancel   context.CancelFunc
	sweepDone     chan struct{}

	onStop []func(context.Context) error
}

// Option configures a LocalRuntime.
type Option func(*LocalRuntime)

// WithLogger sets the runtime logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *LocalRuntime) {
		if l != nil {
			r.log = l
		}
	}
}

// WithSweep sets how often pending spans are checked for orphans and the
// time limit of each check. An interval of 0 disables the sweeper.
func WithSweep(interval, timeout time.Duration) Option {
	return func(r *LocalRuntime) {
		r.sweepInterval = interval
		r.sweepTimeout = timeout
	}
}

// WithOrphanChecker replaces the tracer as the sweeper's orphan source.
func WithOrphanChecker(c OrphanChecker) Option {
	return func(r *LocalRuntime) {
		if c != nil {
			r.checker = c
		}
	}
}

// OnStop registers fn to run after the tracer is closed, e.g. a telemetry
// shutdown.
func OnStop(fn func(context.Context) error) Option {
	return func(r *LocalRuntime) { r.onStop = append(r.onStop, fn) }
}

// NewLocal creates a runtime around an executor and its tracer.
func NewLocal(exec *skills.Executor, opts ...Option) *LocalRuntime {
	r := &LocalRuntime{
		tracer:   exec.Tracer(),
		executor: exec,
		log:      slog.Default(),
	}
	r.checker = r.tracer
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tracer returns the runtime's tracer.
func (r *LocalRuntime) Tracer() *tracing.Tracer { return r.tracer }

// Executor returns the runtime's executor.
func (r *LocalRuntime) Executor() *skills.Executor { return r.executor }

// Registry returns the executor's registry.
func (r *LocalRuntime) Registry() *skills.Registry { return r.executor.Registry() }

// Start marks the runtime as ready and launches the orphan sweeper.
func (r *LocalRuntime) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	r.started = true
	if r.otel == nil {
		r.otel = otel.Tracer("agentfactory/runtime")
	}
	r.startOrphanSweeper()
	return nil
}

// Stop stops the sweeper, drains pending span writes and closes the tracer.
func (r *LocalRuntime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.stopOrphanSweeper()
	r.mu.Unlock()

	err := r.tracer.Close(ctx)
	for _, fn := range r.onStop {
		if stopErr := fn(ctx); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	r.log.InfoContext(ctx, "runtime.stop")
	return err
}

// Run executes the registered skill name. Skill problems come back as a
// FAILURE or PARTIAL result; the error is only set when the runtime is not
// running.
func (r *LocalRuntime) Run(ctx context.Context, name string, inputs map[string]any) (*skills.Result, error) {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return nil, errors.New(errors.CodeInternal, "runtime not started", nil)
	}

	ctx, span := r.otel.Start(ctx, "Runtime.Run", trace.WithAttributes(
		attribute.String(telemetry.AttrSkillName, name),
	))
	defer span.End()
	traceID, spanID := traceIDs(span)

	r.log.InfoContext(ctx, "runtime.run.start", slog.String(telemetry.AttrSkillName, name))
	res := r.executor.ExecuteByName(ctx, name, inputs)
	span.SetAttributes(attribute.String(telemetry.AttrSkillStatus, string(res.Status)))

	attrs := []any{
		slog.String(telemetry.AttrSkillName, name),
		slog.String(telemetry.AttrSkillStatus, string(res.Status)),
		slog.String(telemetry.AttrSpanID, res.SpanID),
		slog.String("otel_trace_id", traceID),
		slog.String("otel_span_id", spanID),
		slog.Duration("execution_time", res.ExecutionTime),
	}
	if res.OK() {
		r.log.InfoContext(ctx, "runtime.run.complete", attrs...)
	} else {
		r.log.WarnContext(ctx, "runtime.run.error", append(attrs, slog.String("error", res.Error))...)
	}
	return res, nil
}

func traceIDs(span trace.Span) (string, string) {
	sc := span.SpanContext()
	return sc.TraceID().String(), sc.SpanID().String()
}
