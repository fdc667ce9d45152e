// Package telemetry wires OpenTelemetry tracing and the Prometheus collectors.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Shutdown flushes and stops the tracer provider.
type Shutdown func(ctx context.Context) error

// TracingOptions selects the span exporter
type TracingOptions struct {
	Enabled     bool
	Stdout      bool
	Writer      io.Writer
	ServiceName string
	Version     string
}

// InitTracing installs the global tracer provider. When disabled the global no-op
// provider stays in place.
func InitTracing(ctx context.Context, opts TracingOptions) (Shutdown, error) {
	noop := func(context.Context) error { return nil }
	if !opts.Enabled {
		return noop, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.Version),
	)
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if opts.Stdout {
		exporterOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if opts.Writer != nil {
			exporterOpts = append(exporterOpts, stdouttrace.WithWriter(opts.Writer))
		}
		exporter, err := stdouttrace.New(exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("telemetry: create stdout exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// Tracer returns the global tracer for an instrumentation scope
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
