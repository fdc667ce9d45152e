package app

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"proxima/internal/errors"
	"proxima/internal/telemetry"
)

const tracerName = "proxima/app"

// observe runs fn inside a span and records the request counter and latency histogram
func observe(ctx context.Context, tracer trace.Tracer, op string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	telemetry.AnalysisDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = errors.GetCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	telemetry.AnalysisRequests.WithLabelValues(op, status).Inc()
	return err
}
