// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/jllopis/agentfactory/pkg/telemetry"
	"github.com/jllopis/agentfactory/pkg/tracing"
)

const (
	cancelledMessage = "cancelled"
	validationPrefix = "Validation failed: "
	outputPrefix     = "Output validation failed: "

	defaultHistorySize      = 100
	defaultBatchConcurrency = 4
)

// Executor is the only way skills run. Every call opens exactly one SKILL
// span, nested under the caller's active span when ctx carries one, and
// closes it before returning.
type Executor struct {
	tracer      *tracing.Tracer
	registry    *Registry
	log         *slog.Logger
	errs        *telemetry.ErrorMetrics
	concurrency int

	mu          sync.Mutex
	history     []Record
	historySize int
	next        int
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRegistry sets the registry used by ExecuteByName and ExecuteBatch.
func WithRegistry(r *Registry) ExecutorOption {
	return func(e *Executor) { e.registry = r }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithErrorMetrics records failures on m.
func WithErrorMetrics(m *telemetry.ErrorMetrics) ExecutorOption {
	return func(e *Executor) { e.errs = m }
}

// WithHistorySize keeps the last n executions for History and Stats.
func WithHistorySize(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.historySize = n
		}
	}
}

// WithBatchConcurrency bounds how many batch invocations run at once.
func WithBatchConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewExecutor returns an executor recording spans on tracer.
func NewExecutor(tracer *tracing.Tracer, opts ...ExecutorOption) *Executor {
	initMetrics()
	e := &Executor{
		tracer:      tracer,
		log:         slog.Default(),
		concurrency: defaultBatchConcurrency,
		historySize: defaultHistorySize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the executor's registry, which may be nil.
func (e *Executor) Registry() *Registry { return e.registry }

// Tracer returns the tracer spans are recorded on.
func (e *Executor) Tracer() *tracing.Tracer { return e.tracer }

type outcome struct {
	status Status
	value  any
	err    string
}

// Execute validates inputs against the skill's schema and runs it. It never
// panics and never returns nil: every problem, including a panic in the
// skill or cancellation of ctx, becomes a FAILURE result.
func (e *Executor) Execute(ctx context.Context, s Skill, inputs map[string]any) *Result {
	start := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}
	if s == nil {
		return e.reject(ctx, start, Metadata{Name: "unknown"}, inputs, "nil skill")
	}
	meta := s.Metadata()

	ctx, h := e.tracer.StartSpan(ctx, tracing.TypeSkill, meta.Name, spanInput(meta, inputs))
	out := e.invoke(ctx, s, meta, inputs)
	return e.finish(ctx, start, h, meta, out)
}

// ExecuteByName looks the skill up in the registry and executes it. An
// unknown name still produces an ERROR span and a FAILURE result.
func (e *Executor) ExecuteByName(ctx context.Context, name string, inputs map[string]any) *Result {
	start := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}
	if e.registry == nil {
		return e.reject(ctx, start, Metadata{Name: name}, inputs, "no skill registry configured")
	}
	s, err := e.registry.New(name)
	if err != nil {
		return e.reject(ctx, start, Metadata{Name: name}, inputs, "unknown skill: "+name)
	}
	return e.Execute(ctx, s, inputs)
}

// Invocation is one entry of a batch. Skill takes precedence over Name.
type Invocation struct {
	Name   string
	Skill  Skill
	Inputs map[string]any
}

// ExecuteBatch runs the invocations concurrently, bounded by the batch
// concurrency, and returns their results in order. Failures do not cancel
// the rest of the batch.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []Invocation) []*Result {
	results := make([]*Result, len(calls))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, call := range calls {
		g.Go(func() error {
			if call.Skill != nil {
				results[i] = e.Execute(ctx, call.Skill, call.Inputs)
			} else {
				results[i] = e.ExecuteByName(ctx, call.Name, call.Inputs)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// reject records a FAILURE for a skill that could not be resolved.
func (e *Executor) reject(ctx context.Context, start time.Time, meta Metadata, inputs map[string]any, msg string) *Result {
	ctx, h := e.tracer.StartSpan(ctx, tracing.TypeSkill, meta.Name, spanInput(meta, inputs))
	return e.finish(ctx, start, h, meta, outcome{status: StatusFailure, err: msg})
}

func (e *Executor) invoke(ctx context.Context, s Skill, meta Metadata, inputs map[string]any) outcome {
	if ctx.Err() != nil {
		return outcome{status: StatusFailure, err: cancelledMessage}
	}

	normalized, problems := meta.Inputs.Validate(inputs)
	if len(problems) > 0 {
		validationFails.Add(ctx, 1, metric.WithAttributes(attribute.String(telemetry.AttrSkillName, meta.Name)))
		return outcome{status: StatusFailure, err: validationPrefix + strings.Join(problems, "; ")}
	}

	type ran struct {
		value any
		err   error
	}
	done := make(chan ran, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ran{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := s.Run(ctx, normalized)
		done <- ran{value: v, err: err}
	}()

	var r ran
	select {
	case r = <-done:
	case <-ctx.Done():
		select {
		case r = <-done:
		default:
			return outcome{status: StatusFailure, err: cancelledMessage}
		}
	}

	switch {
	case r.err == nil:
		if problems := validateOutput(meta.Outputs, r.value, false); len(problems) > 0 {
			return outcome{status: StatusFailure, err: outputPrefix + strings.Join(problems, "; ")}
		}
		return outcome{status: StatusSuccess, value: r.value}
	case IsPartial(r.err):
		if problems := validateOutput(meta.Outputs, r.value, true); len(problems) > 0 {
			return outcome{status: StatusFailure, err: outputPrefix + strings.Join(problems, "; ")}
		}
		return outcome{status: StatusPartial, value: r.value, err: nonEmpty(r.err.Error())}
	case ctx.Err() != nil && (stderrors.Is(r.err, context.Canceled) || stderrors.Is(r.err, context.DeadlineExceeded)):
		return outcome{status: StatusFailure, err: cancelledMessage}
	default:
		return outcome{status: StatusFailure, err: nonEmpty(r.err.Error())}
	}
}

func (e *Executor) finish(ctx context.Context, start time.Time, h *tracing.Handle, meta Metadata, out outcome) *Result {
	res := &Result{
		Status:  out.status,
		Error:   out.err,
		Skill:   meta.Name,
		Version: meta.Version,
		SpanID:  h.ID(),
		TraceID: h.TraceID(),
	}
	if out.status != StatusFailure {
		res.Output = map[string]any{
			"result":  out.value,
			"skill":   meta.Name,
			"version": meta.Version,
		}
	}

	endCtx := context.WithoutCancel(ctx)
	summary := tracing.WithOutput(map[string]any{"status": string(out.status), "result": out.value})
	var err error
	switch out.status {
	case StatusSuccess:
		err = e.tracer.EndSpan(endCtx, h, tracing.StatusSuccess, summary)
	case StatusPartial:
		err = e.tracer.EndSpan(endCtx, h, tracing.StatusError, summary, tracing.WithErrorMessage("partial: "+out.err))
	default:
		err = e.tracer.EndSpan(endCtx, h, tracing.StatusError, tracing.WithErrorMessage(out.err))
	}
	if err != nil {
		// The handle is private to this call, so this only happens if a skill
		// closed the span it was handed.
		e.log.WarnContext(endCtx, "skills.execute.span_close", slog.String(telemetry.AttrSkillName, meta.Name), slog.Any("error", err))
	}

	res.ExecutionTime = time.Since(start)
	e.observe(endCtx, res)
	return res
}

func (e *Executor) observe(ctx context.Context, res *Result) {
	kv := append(telemetry.SkillAttributes(res.Skill, res.Version), attribute.String(telemetry.AttrSkillStatus, string(res.Status)))
	attrs := metric.WithAttributes(kv...)
	executionsTotal.Add(ctx, 1, attrs)
	executionTimeMs.Record(ctx, float64(res.ExecutionTime.Microseconds())/1000, attrs)

	level := slog.LevelDebug
	if res.Status != StatusSuccess {
		level = slog.LevelWarn
		e.errs.RecordError(ctx, res.Err(), "skills")
	}
	e.log.Log(ctx, level, "skills.execute",
		slog.String(telemetry.AttrSkillName, res.Skill),
		slog.String(telemetry.AttrSkillStatus, string(res.Status)),
		slog.String(telemetry.AttrSpanID, res.SpanID),
		slog.Duration("execution_time", res.ExecutionTime),
		slog.String("error", res.Error),
	)

	e.mu.Lock()
	rec := Record{
		Skill:         res.Skill,
		Version:       res.Version,
		Status:        res.Status,
		Error:         res.Error,
		ExecutionTime: res.ExecutionTime,
		SpanID:        res.SpanID,
		FinishedAt:    time.Now(),
	}
	if len(e.history) < e.historySize {
		e.history = append(e.history, rec)
	} else {
		e.history[e.next] = rec
	}
	e.next = (e.next + 1) % e.historySize
	e.mu.Unlock()
}

func spanInput(meta Metadata, inputs map[string]any) map[string]any {
	return map[string]any{"skill": meta.Name, "version": meta.Version, "inputs": inputs}
}

func nonEmpty(msg string) string {
	if strings.TrimSpace(msg) == "" {
		return "unknown error"
	}
	return msg
}
