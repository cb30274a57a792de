package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the botflow tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("botflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartDispatchSpan starts a span covering one event dispatch.
	StartDispatchSpan(ctx context.Context, eventID, eventKey, source string) (context.Context, trace.Span)

	// StartListenerSpan starts a span for one listener pipeline.
	// The listener span should be a child of the dispatch span.
	StartListenerSpan(ctx context.Context, listenerID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartDispatchSpan(ctx context.Context, eventID, eventKey, source string) (context.Context, trace.Span) {
	return StartDispatchSpan(ctx, eventID, eventKey, source)
}

func (m *otelSpanManager) StartListenerSpan(ctx context.Context, listenerID string) (context.Context, trace.Span) {
	return StartListenerSpan(ctx, listenerID)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// StartDispatchSpan starts a span for an event dispatch.
// Uses the global OTel tracer.
func StartDispatchSpan(ctx context.Context, eventID, eventKey, source string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "botflow.dispatch",
		trace.WithAttributes(
			attribute.String("event.id", eventID),
			attribute.String("event.key", eventKey),
			attribute.String("event.source", source),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartListenerSpan starts a span for a listener.
// Uses the global OTel tracer.
func StartListenerSpan(ctx context.Context, listenerID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "botflow.listener."+listenerID,
		trace.WithAttributes(
			attribute.String("listener.id", listenerID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
