// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/agentfactory/pkg/errors"
)

// ErrorMetrics counts typed errors by code and component.
type ErrorMetrics struct {
	errorCounter metric.Int64Counter
	breakerGauge metric.Int64Gauge
}

// NewErrorMetrics creates the error instruments on the global meter provider.
func NewErrorMetrics() (*ErrorMetrics, error) {
	meter := otel.Meter("agentfactory/errors")

	errorCounter, err := meter.Int64Counter(
		"factory.errors.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, err
	}
	breakerGauge, err := meter.Int64Gauge(
		"factory.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per component (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}
	return &ErrorMetrics{errorCounter: errorCounter, breakerGauge: breakerGauge}, nil
}

// RecordError increments the error counter. Untyped errors count as UNKNOWN.
func (em *ErrorMetrics) RecordError(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}
	code := string(errors.CodeOf(err))
	if code == "" {
		code = "UNKNOWN"
	}
	em.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.String(AttrComponent, component),
		attribute.Bool("recoverable", errors.IsRecoverable(err)),
	))
}

// RecordBreakerState records 0 for open, 1 for half-open and 2 for closed.
func (em *ErrorMetrics) RecordBreakerState(ctx context.Context, component string, state int64) {
	if em == nil {
		return
	}
	em.breakerGauge.Record(ctx, state, metric.WithAttributes(attribute.String(AttrComponent, component)))
}
