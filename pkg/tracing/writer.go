// Copyright 2026 © The Agent Factory Authors
// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/agentfactory/pkg/errors"
	"github.com/jllopis/agentfactory/pkg/resilience"
	"github.com/jllopis/agentfactory/pkg/telemetry"
)

type writeJob struct {
	write   *Write
	barrier chan struct{}
}

// writer persists span writes asynchronously. Writes are sharded by trace id
// so that writes of one trace keep their order while unrelated traces commit
// independently of each other.
type writer struct {
	store    Store
	retry    resilience.RetryConfig
	breaker  *resilience.CircuitBreaker
	reporter Reporter
	errs     *telemetry.ErrorMetrics
	log      *slog.Logger

	mu     sync.RWMutex
	closed bool
	shards []chan writeJob
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func newWriter(store Store, cfg Config, reporter Reporter, errs *telemetry.ErrorMetrics, log *slog.Logger) *writer {
	ctx, cancel := context.WithCancel(context.Background())
	w := &writer{
		store:    store,
		reporter: reporter,
		errs:     errs,
		log:      log,
		shards:   make([]chan writeJob, cfg.Workers),
		breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			Name:             "span-store",
			FailureThreshold: cfg.BreakerThreshold,
			Cooldown:         cfg.BreakerCooldown,
		}),
		ctx:    ctx,
		cancel: cancel,
	}
	w.retry = resilience.DefaultRetryConfig().
		WithMaxAttempts(cfg.WriteAttempts).
		WithInitialDelay(cfg.WriteInitialDelay).
		WithMaxDelay(cfg.WriteMaxDelay).
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			writeRetries.Add(ctx, 1)
			log.Warn("tracing.write.retry",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		})
	for i := range w.shards {
		ch := make(chan writeJob, cfg.QueueSize)
		w.shards[i] = ch
		w.wg.Add(1)
		go w.run(ch)
	}
	return w
}

func (w *writer) shardFor(traceID string) chan writeJob {
	h := fnv.New32a()
	_, _ = h.Write([]byte(traceID))
	return w.shards[h.Sum32()%uint32(len(w.shards))]
}

// enqueue hands a write to its shard without blocking. A full queue drops
// the write through the reporter; after close writes are discarded.
func (w *writer) enqueue(wr *Write) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		writesDropped.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("final", wr.Final)))
		return
	}
	select {
	case w.shardFor(wr.Span.TraceID) <- writeJob{write: wr}:
	default:
		w.drop(wr, errors.New(errors.CodeTracerWrite, "write queue full", nil))
	}
}

// flush waits until every write enqueued before the call is persisted or dropped.
func (w *writer) flush(ctx context.Context) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil
	}
	barriers := make([]chan struct{}, 0, len(w.shards))
	for _, ch := range w.shards {
		b := make(chan struct{})
		select {
		case ch <- writeJob{barrier: b}:
			barriers = append(barriers, b)
		case <-ctx.Done():
			w.mu.RUnlock()
			return errors.New(errors.CodeCancelled, "flush cancelled", ctx.Err())
		}
	}
	w.mu.RUnlock()
	for _, b := range barriers {
		select {
		case <-b:
		case <-ctx.Done():
			return errors.New(errors.CodeCancelled, "flush cancelled", ctx.Err())
		}
	}
	return nil
}

// close drains the queues and stops the workers. If ctx expires first,
// in-flight retries are abandoned and their writes reported.
func (w *writer) close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, ch := range w.shards {
		close(ch)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return errors.New(errors.CodeTimeout, "tracer close timed out; pending writes dropped", ctx.Err())
	}
}

func (w *writer) run(ch chan writeJob) {
	defer w.wg.Done()
	for job := range ch {
		if job.barrier != nil {
			close(job.barrier)
			continue
		}
		w.persist(job.write)
	}
}

func (w *writer) persist(wr *Write) {
	if err := w.breaker.Allow(); err != nil {
		w.drop(wr, errors.New(errors.CodeTracerWrite, "span store unavailable", err))
		return
	}
	start := time.Now()
	err := w.retry.Do(w.ctx, func(ctx context.Context) error {
		return w.store.Save(ctx, *wr)
	})
	w.breaker.Record(err)
	w.errs.RecordBreakerState(w.ctx, "span-store", breakerGaugeValue(w.breaker.State()))
	writeLatencyMs.Record(w.ctx, float64(time.Since(start).Microseconds())/1000,
		metric.WithAttributes(attribute.Bool("final", wr.Final)))
	if err != nil {
		w.drop(wr, errors.New(errors.CodeTracerWrite, "persist span", err).
			WithContext("attempts", w.retry.MaxAttempts))
	}
}

func (w *writer) drop(wr *Write, err error) {
	writesDropped.Add(context.Background(), 1, metric.WithAttributes(attribute.Bool("final", wr.Final)))
	w.reporter.Report(context.Background(), err, wr.Span)
}

func breakerGaugeValue(s resilience.BreakerState) int64 {
	switch s {
	case resilience.StateOpen:
		return 0
	case resilience.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
