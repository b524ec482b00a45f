package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/agentfactory/pkg/tracing"
)

// OrphanChecker finds pending spans that outlived their scope.
// *tracing.Tracer implements it.
type OrphanChecker interface {
	CheckOrphans(ctx context.Context) ([]tracing.Orphan, error)
}

func (r *LocalRuntime) startOrphanSweeper() {
	if r.sweepInterval <= 0 || r.checker == nil {
		r.log.Info("runtime.sweeper.disabled", slog.Duration("interval", r.sweepInterval))
		return
	}
	if r.sweepCancel != nil {
		r.stopOrphanSweeper()
	}
	initSweepMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.sweepCancel = cancel
	r.sweepDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		r.log.Info("runtime.sweeper.start",
			slog.Duration("interval", r.sweepInterval),
			slog.Duration("timeout", r.sweepTimeout),
		)
		for {
			select {
			case <-ctx.Done():
				r.log.Info("runtime.sweeper.stop")
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

// sweep runs one orphan check under its own OTel span.
func (r *LocalRuntime) sweep(ctx context.Context) {
	start := time.Now()
	sweepCtx := ctx
	if r.sweepTimeout > 0 {
		var cancel context.CancelFunc
		sweepCtx, cancel = context.WithTimeout(ctx, r.sweepTimeout)
		defer cancel()
	}
	sweepCtx, span := otel.Tracer("agentfactory/runtime").Start(sweepCtx, "runtime.orphan.sweep",
		trace.WithAttributes(attribute.String("timeout", r.sweepTimeout.String())),
	)
	defer span.End()
	traceID, spanID := traceIDs(span)

	orphans, err := r.checker.CheckOrphans(sweepCtx)
	durationMs := float64(time.Since(start).Microseconds()) / 1000
	sweepCounter.Add(ctx, 1)
	sweepLatencyMs.Record(ctx, durationMs)

	if err != nil {
		sweepErrorCounter.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Warn("runtime.sweeper.error",
			slog.Float64("duration_ms", durationMs),
			slog.String("trace_id", traceID),
			slog.String("span_id", spanID),
			slog.String("error", err.Error()),
		)
		return
	}

	inProcess := 0
	for _, o := range orphans {
		if o.InProcess {
			inProcess++
		}
	}
	orphanGauge.Record(ctx, int64(len(orphans)))
	span.SetAttributes(
		attribute.Int("orphans", len(orphans)),
		attribute.Int("orphans.in_process", inProcess),
		attribute.Float64("duration_ms", durationMs),
	)
	r.log.Debug("runtime.sweeper.complete",
		slog.Int("orphans", len(orphans)),
		slog.Int("in_process", inProcess),
		slog.Float64("duration_ms", durationMs),
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
	)
}

func (r *LocalRuntime) stopOrphanSweeper() {
	if r.sweepCancel == nil {
		return
	}
	r.sweepCancel()
	if r.sweepDone != nil {
		<-r.sweepDone
	}
	r.sweepCancel = nil
	r.sweepDone = nil
}

var (
	sweepMetricsOnce  sync.Once
	sweepCounter      metric.Int64Counter
	sweepErrorCounter metric.Int64Counter
	sweepLatencyMs    metric.Float64Histogram
	orphanGauge       metric.Int64Gauge
)

func initSweepMetrics() {
	sweepMetricsOnce.Do(func() {
		meter := otel.Meter("agentfactory/runtime")
		sweepCounter, _ = meter.Int64Counter("factory.runtime.orphan.sweep.count")
		sweepErrorCounter, _ = meter.Int64Counter("factory.runtime.orphan.sweep.error.count")
		sweepLatencyMs, _ = meter.Float64Histogram("factory.runtime.orphan.sweep.latency_ms")
		orphanGauge, _ = meter.Int64Gauge("factory.runtime.orphans")
	})
}
