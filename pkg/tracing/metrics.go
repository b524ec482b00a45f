package tracing

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce    sync.Once
	spansStarted   metric.Int64Counter
	spansEnded     metric.Int64Counter
	writeRetries   metric.Int64Counter
	writesDropped  metric.Int64Counter
	nestingCounter metric.Int64Counter
	orphanCounter  metric.Int64Counter
	spanDurationMs metric.Float64Histogram
	writeLatencyMs metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("agentfactory/tracing")
		spansStarted, _ = meter.Int64Counter("factory.tracing.spans.started",
			metric.WithDescription("Spans opened by span type"))
		spansEnded, _ = meter.Int64Counter("factory.tracing.spans.ended",
			metric.WithDescription("Spans closed by span type and status"))
		writeRetries, _ = meter.Int64Counter("factory.tracing.write.retries",
			metric.WithDescription("Span store write retries"))
		writesDropped, _ = meter.Int64Counter("factory.tracing.write.dropped",
			metric.WithDescription("Span writes dropped after retries or on a full queue"))
		nestingCounter, _ = meter.Int64Counter("factory.tracing.nesting.violations",
			metric.WithDescription("Spans closed while children were still open"))
		orphanCounter, _ = meter.Int64Counter("factory.tracing.orphans",
			metric.WithDescription("Pending spans detected past their scope"))
		spanDurationMs, _ = meter.Float64Histogram("factory.tracing.span.duration_ms")
		writeLatencyMs, _ = meter.Float64Histogram("factory.tracing.write.latency_ms")
	})
}
