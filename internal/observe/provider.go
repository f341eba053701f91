package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName reported in telemetry. Default: "talktome".
	ServiceName string

	// ServiceVersion reported in telemetry.
	ServiceVersion string

	// TraceExporter optionally exports spans, e.g. over OTLP. When nil,
	// spans are recorded in-process but never exported.
	TraceExporter sdktrace.SpanExporter
}

// shutdownGroup collects provider shutdown funcs so they can be flushed
// together from a single defer in main.
type shutdownGroup []func(context.Context) error

func (g shutdownGroup) shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range g {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InitProvider registers the global OTel meter and tracer providers. Metrics
// are exported through a Prometheus reader so the diagnostics listener can
// serve them at /metrics. The returned function flushes and closes both
// providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "talktome"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	reader, err := promexporter.New()
	if err != nil {
		return nil, err
	}

	var group shutdownGroup

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)
	group = append(group, mp.Shutdown)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tp)
	group = append(group, tp.Shutdown)

	return group.shutdown, nil
}
