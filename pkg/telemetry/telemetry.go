package telemetry

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jllopis/agentfactory/pkg/errors"
)

// ShutdownFunc flushes and releases telemetry resources.
type ShutdownFunc func(context.Context) error

// Config selects where spans and metrics are exported.
type Config struct {
	// Exporter is one of "none", "stdout" or "otlp".
	Exporter     string `koanf:"exporter"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
	// MetricInterval is the export period for metrics (default 1m).
	MetricInterval time.Duration `koanf:"metric_interval"`
	// SampleRatio keeps this fraction of new traces. Zero or anything at or
	// above one keeps all of them. Child spans follow their parent.
	SampleRatio float64 `koanf:"sample_ratio"`

	// Output receives the "stdout" exporter's records. It defaults to
	// os.Stderr: stdout is reserved for command output and MCP stdio.
	Output io.Writer `koanf:"-"`
}

func nopShutdown(context.Context) error { return nil }

// Init initializes the OpenTelemetry SDK with the stdout exporters.
func Init(serviceName, version string) (ShutdownFunc, error) {
	return InitWithConfig(serviceName, version, Config{Exporter: "stdout"})
}

// InitWithConfig installs global trace and meter providers for the exporter
// named in cfg. With Exporter "none" the global no-op providers stay in place.
func InitWithConfig(serviceName, version string, cfg Config) (ShutdownFunc, error) {
	if cfg.Exporter == "none" {
		return nopShutdown, nil
	}

	ctx := context.Background()
	spanExp, metricExp, err := newExporters(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "telemetry resource", err)
	}

	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = time.Minute
	}
	tp := trace.NewTracerProvider(
		trace.WithBatcher(spanExp, trace.WithBatchTimeout(time.Second)),
		trace.WithSampler(sampler(cfg.SampleRatio)),
		trace.WithResource(res),
	)
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExp, metric.WithInterval(interval))),
		metric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return func(ctx context.Context) error {
		return stderrors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func sampler(ratio float64) trace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return trace.ParentBased(trace.AlwaysSample())
	}
	return trace.ParentBased(trace.TraceIDRatioBased(ratio))
}

func newExporters(ctx context.Context, cfg Config) (trace.SpanExporter, metric.Exporter, error) {
	switch cfg.Exporter {
	case "", "stdout":
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		spanExp, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, nil, errors.New(errors.CodeInternal, "stdout trace exporter", err)
		}
		metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
		if err != nil {
			return nil, nil, errors.New(errors.CodeInternal, "stdout metric exporter", err)
		}
		return spanExp, metricExp, nil

	case "otlp":
		if cfg.OTLPEndpoint == "" {
			return nil, nil, errors.New(errors.CodeInvalidInput, "telemetry.otlp_endpoint is required for the otlp exporter", nil)
		}
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		spanExp, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, nil, errors.New(errors.CodeInternal, "otlp trace exporter", err)
		}
		metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			_ = spanExp.Shutdown(ctx)
			return nil, nil, errors.New(errors.CodeInternal, "otlp metric exporter", err)
		}
		return spanExp, metricExp, nil

	default:
		return nil, nil, errors.Newf(errors.CodeInvalidInput, "unknown telemetry exporter %q", cfg.Exporter)
	}
}
