package skills

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce     sync.Once
	executionsTotal metric.Int64Counter
	executionTimeMs metric.Float64Histogram
	validationFails metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("agentfactory/skills")
		executionsTotal, _ = meter.Int64Counter("factory.skills.executions",
			metric.WithDescription("Skill executions by skill and status"))
		executionTimeMs, _ = meter.Float64Histogram("factory.skills.execution_time_ms",
			metric.WithDescription("Wall-clock time of skill executions"))
		validationFails, _ = meter.Int64Counter("factory.skills.validation.failures",
			metric.WithDescription("Executions rejected by input validation"))
	})
}
