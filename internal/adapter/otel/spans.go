package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "patternwatch"

// StartSessionSpan starts a span covering one session from submit to the
// end of its stream.
func StartSessionSpan(ctx context.Context, sessionID, pattern string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("session.pattern", pattern),
		),
	)
}

// StartStreamOpenSpan starts a span for opening the remote event stream.
func StartStreamOpenSpan(ctx context.Context, pattern string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "stream.open",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("session.pattern", pattern)),
	)
}
