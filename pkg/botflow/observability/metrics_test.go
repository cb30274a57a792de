package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns a function to collect metrics.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}

	return reader, cleanup
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value for the datapoint carrying key=value.
func sumFor(t *testing.T, m *metricdata.Metrics, key, value string) (int64, bool) {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "Expected Sum type")
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value, true
		}
	}
	return 0, false
}

func TestNewMetricsRecorder(t *testing.T) {
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecordDispatch(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("records dispatch count and latency", func(t *testing.T) {
		m.RecordDispatch(ctx, "message", 3, 20*time.Millisecond, nil)

		rm := collectMetrics(t, reader)
		count := findMetric(rm, "botflow.dispatch.count")
		require.NotNil(t, count)
		v, found := sumFor(t, count, "event_key", "message")
		require.True(t, found)
		assert.GreaterOrEqual(t, v, int64(1))

		latency := findMetric(rm, "botflow.dispatch.latency_ms")
		require.NotNil(t, latency)
		hist, ok := latency.Data.(metricdata.Histogram[float64])
		require.True(t, ok, "Expected Histogram type")
		assert.NotEmpty(t, hist.DataPoints)
	})

	t.Run("records errors when present", func(t *testing.T) {
		m.RecordDispatch(ctx, "notice", 0, time.Millisecond, errors.New("interceptor failed"))

		rm := collectMetrics(t, reader)
		errs := findMetric(rm, "botflow.dispatch.errors")
		require.NotNil(t, errs)
		v, found := sumFor(t, errs, "event_key", "notice")
		require.True(t, found)
		assert.Equal(t, int64(1), v)

		_, found = sumFor(t, errs, "event_key", "message")
		assert.False(t, found, "successful dispatch must not count as error")
	})
}

func TestRecordListener(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordListener(ctx, "greeter", "success", 5*time.Millisecond)
	m.RecordListener(ctx, "greeter", "error", 5*time.Millisecond)
	m.RecordListener(ctx, "other", "invalid", time.Millisecond)

	rm := collectMetrics(t, reader)
	results := findMetric(rm, "botflow.listener.results")
	require.NotNil(t, results)

	sum, ok := results.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, sum.DataPoints, 3)

	v, found := sumFor(t, results, "listener_id", "other")
	require.True(t, found)
	assert.Equal(t, int64(1), v)

	require.NotNil(t, findMetric(rm, "botflow.listener.latency_ms"))
}

func TestRecordSession(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordSession(ctx, "resolved", 100*time.Millisecond)
	m.RecordSession(ctx, "timed_out", 50*time.Millisecond)
	m.RecordSession(ctx, "resolved", 10*time.Millisecond)

	rm := collectMetrics(t, reader)
	finished := findMetric(rm, "botflow.session.finished")
	require.NotNil(t, finished)

	v, found := sumFor(t, finished, "state", "resolved")
	require.True(t, found)
	assert.Equal(t, int64(2), v)

	require.NotNil(t, findMetric(rm, "botflow.session.lifetime_ms"))
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordDispatch(ctx, "k", 1, time.Second, errors.New("x"))
		m.RecordListener(ctx, "l", "success", time.Second)
		m.RecordSession(ctx, "resolved", time.Second)
	})
}
