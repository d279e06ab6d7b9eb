package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "eventgate"

// StartBroadcastSpan starts a span for a gateway broadcast. tenantID is
// empty for unscoped broadcasts.
func StartBroadcastSpan(ctx context.Context, scope, tenantID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("broadcast.scope", scope)}
	if tenantID != "" {
		attrs = append(attrs, attribute.String("tenant.id", tenantID))
	}
	return otel.Tracer(tracerName).Start(ctx, "broadcast", trace.WithAttributes(attrs...))
}

// StartBridgeSpan starts a span for handling one inbound bridge envelope.
func StartBridgeSpan(ctx context.Context, channel, envelopeID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "bridge.receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("bridge.channel", channel),
			attribute.String("bridge.envelope_id", envelopeID),
		),
	)
}
