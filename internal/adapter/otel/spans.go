package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "nimbus"

// StartResolveSpan starts a span covering one tenant resolution.
func StartResolveSpan(ctx context.Context, host, header string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tenant.resolve",
		trace.WithAttributes(
			attribute.String("tenant.host", host),
			attribute.Bool("tenant.header_present", header != ""),
		),
	)
}

// StartScriptSpan starts a span for one atomic store script invocation.
func StartScriptSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "store.script",
		trace.WithAttributes(attribute.String("script.name", name)),
	)
}
