package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records botflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDispatch records a finished dispatch and how many results it produced.
	RecordDispatch(ctx context.Context, eventKey string, results int, duration time.Duration, err error)

	// RecordListener records one listener outcome by result kind.
	RecordListener(ctx context.Context, listenerID, kind string, duration time.Duration)

	// RecordSession records a session leaving the table in its final state.
	RecordSession(ctx context.Context, state string, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	dispatches      metric.Int64Counter
	dispatchLatency metric.Float64Histogram
	dispatchErrors  metric.Int64Counter
	listenerResults metric.Int64Counter
	listenerLatency metric.Float64Histogram
	sessions        metric.Int64Counter
	sessionLifetime metric.Float64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("botflow")

	dispatches, err := meter.Int64Counter("botflow.dispatch.count",
		metric.WithDescription("Number of dispatched events"),
	)
	if err != nil {
		return nil, err
	}

	dispatchLatency, err := meter.Float64Histogram("botflow.dispatch.latency_ms",
		metric.WithDescription("Dispatch latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	dispatchErrors, err := meter.Int64Counter("botflow.dispatch.errors",
		metric.WithDescription("Number of dispatches that ended with an error"),
	)
	if err != nil {
		return nil, err
	}

	listenerResults, err := meter.Int64Counter("botflow.listener.results",
		metric.WithDescription("Number of listener results by kind"),
	)
	if err != nil {
		return nil, err
	}

	listenerLatency, err := meter.Float64Histogram("botflow.listener.latency_ms",
		metric.WithDescription("Listener latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	sessions, err := meter.Int64Counter("botflow.session.finished",
		metric.WithDescription("Number of finished sessions by final state"),
	)
	if err != nil {
		return nil, err
	}

	sessionLifetime, err := meter.Float64Histogram("botflow.session.lifetime_ms",
		metric.WithDescription("Session lifetime in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		dispatches:      dispatches,
		dispatchLatency: dispatchLatency,
		dispatchErrors:  dispatchErrors,
		listenerResults: listenerResults,
		listenerLatency: listenerLatency,
		sessions:        sessions,
		sessionLifetime: sessionLifetime,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordDispatch records a dispatch.
func (m *otelMetrics) RecordDispatch(ctx context.Context, eventKey string, results int, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_key", eventKey),
	}

	m.dispatches.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.dispatchLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.dispatchErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordListener records a listener outcome.
func (m *otelMetrics) RecordListener(ctx context.Context, listenerID, kind string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("listener_id", listenerID),
		attribute.String("result", kind),
	}
	m.listenerResults.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.listenerLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordSession records a finished session.
func (m *otelMetrics) RecordSession(ctx context.Context, state string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("state", state),
	}
	m.sessions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.sessionLifetime.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}
