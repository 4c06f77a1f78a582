package tracing

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// active holds the installed tracer provider so Shutdown can flush it.
// Nil until Init succeeds, nil again after Shutdown.
var active atomic.Pointer[sdktrace.TracerProvider]

// Init installs the process-wide tracer provider. Repeat calls after a
// successful Init are no-ops.
func Init(serviceName string) error {
	if active.Load() != nil {
		return nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	if !active.CompareAndSwap(nil, tp) {
		// Lost the race to a concurrent Init.
		return tp.Shutdown(context.Background())
	}
	otel.SetTracerProvider(tp)
	return nil
}

// Shutdown flushes and tears down the tracer provider installed by
// Init. Without a prior Init it does nothing.
func Shutdown(ctx context.Context) error {
	tp := active.Swap(nil)
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span and ensures a trace id is carried in the
// context for log correlation.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}
	return ctx, span
}
