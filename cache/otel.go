package cache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/helioslabs/tiercache/cache")

// startSpan opens a span for one cache operation. Exporter setup is the
// host process's responsibility; with no provider installed these are
// no-ops.
func startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindInternal))
	if key != "" {
		span.SetAttributes(attribute.String("cache.key", key))
	}
	return ctx, span
}
