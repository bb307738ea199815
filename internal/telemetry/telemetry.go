// Package telemetry wires up the OpenTelemetry tracer/meter providers
// used by the Journal and Director for per-operation spans and
// counters, grounded on the instrumentation pattern in the teacher's
// internal/storage/dolt/store.go (package-level otel.Tracer/otel.Meter,
// init()-registered instruments, execContext/queryContext span
// wrappers). Unlike the teacher, which ships OTLP HTTP exporters for a
// collector, this module defaults to the stdout exporters so traces
// and metrics are visible without any external infrastructure.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	stdoutmetric "go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc flushes and stops the providers installed by Init.
type ShutdownFunc func(context.Context) error

// Option configures Init.
type Option func(*config)

type config struct {
	traceWriter  io.Writer
	metricWriter io.Writer
	serviceName  string
}

// WithWriter redirects both trace and metric exporter output. Tests use
// this to capture or silence telemetry output instead of writing to
// the default, the process's stderr.
func WithWriter(w io.Writer) Option {
	return func(c *config) {
		c.traceWriter = w
		c.metricWriter = w
	}
}

// Init installs global tracer and meter providers backed by stdout
// exporters. Call the returned ShutdownFunc before process exit to
// flush pending spans/metrics.
func Init(ctx context.Context, opts ...Option) (ShutdownFunc, error) {
	cfg := config{
		traceWriter:  os.Stderr,
		metricWriter: os.Stderr,
		serviceName:  "digitaltwin",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", cfg.serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(cfg.traceWriter), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("telemetry: build trace exporter: %w", err)
	}
	tp := trace.NewTracerProvider(trace.WithBatcher(traceExp), trace.WithResource(res))
	otel.SetTracerProvider(tp)

	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.metricWriter))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build metric exporter: %w", err)
	}
	mp := metric.NewMeterProvider(metric.WithReader(metric.NewPeriodicReader(metricExp)), metric.WithResource(res))
	otel.SetMeterProvider(mp)

	return func(shutdownCtx context.Context) error {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return mp.Shutdown(shutdownCtx)
	}, nil
}
