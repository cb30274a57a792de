package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTracingTest creates a test tracer provider with an in-memory span recorder.
func setupTracingTest(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)

	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)

	// Update the package-level tracer
	tracer = otel.Tracer("botflow")

	cleanup := func() {
		otel.SetTracerProvider(originalProvider)
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	}

	return exporter, cleanup
}

func attrValue(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value.AsString(), true
		}
	}
	return "", false
}

func TestStartDispatchSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	_, span := StartDispatchSpan(context.Background(), "evt-1", "message", "qq")
	require.NotNil(t, span)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	s := spans[0]
	assert.Equal(t, "botflow.dispatch", s.Name)

	v, ok := attrValue(s.Attributes, "event.id")
	assert.True(t, ok)
	assert.Equal(t, "evt-1", v)
	v, _ = attrValue(s.Attributes, "event.source")
	assert.Equal(t, "qq", v)
}

func TestListenerSpanIsChildOfDispatch(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()
	ctx, dispatch := sm.StartDispatchSpan(context.Background(), "evt-1", "message", "qq")
	_, listener := sm.StartListenerSpan(ctx, "greeter")
	sm.EndSpanWithError(listener, nil)
	sm.EndSpanWithError(dispatch, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	child := spans[0]
	parent := spans[1]
	assert.Equal(t, "botflow.listener.greeter", child.Name)
	assert.Equal(t, parent.SpanContext.SpanID(), child.Parent.SpanID())
	assert.Equal(t, codes.Ok, child.Status.Code)
}

func TestEndSpanWithError(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	t.Run("records error status", func(t *testing.T) {
		exporter.Reset()
		_, span := StartListenerSpan(context.Background(), "failing")
		EndSpanWithError(span, errors.New("listener failed"))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		assert.Equal(t, "listener failed", spans[0].Status.Description)
		require.NotEmpty(t, spans[0].Events)
		assert.Equal(t, "exception", spans[0].Events[0].Name)
	})

	t.Run("nil span", func(t *testing.T) {
		assert.NotPanics(t, func() { EndSpanWithError(nil, nil) })
	})
}

func TestAddSpanEvent(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	ctx, span := StartDispatchSpan(context.Background(), "evt-1", "message", "qq")
	AddSpanEvent(ctx, "listener.skipped", attribute.String("listener.id", "l1"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "listener.skipped", spans[0].Events[0].Name)

	// No span in context is a no-op.
	assert.NotPanics(t, func() {
		AddSpanEvent(context.Background(), "ignored")
	})
}

func TestNoopSpanManager(t *testing.T) {
	sm := NoopSpanManager{}
	ctx := context.Background()

	got, span := sm.StartDispatchSpan(ctx, "a", "b", "c")
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())

	got, span = sm.StartListenerSpan(ctx, "l")
	assert.Equal(t, ctx, got)
	sm.EndSpanWithError(span, errors.New("ignored"))
	sm.AddSpanEvent(ctx, "ignored")
}
