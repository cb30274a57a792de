package botflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/botflow/pkg/botflow/config"
	"github.com/randalmurphal/botflow/pkg/botflow/observability"
)

// dispatcherConfig holds configuration collected from Options.
type dispatcherConfig struct {
	parent           context.Context
	logger           *slog.Logger
	metrics          observability.MetricsRecorder
	spans            observability.SpanManager
	parallel         bool
	concurrencyLimit int
	listenerTimeout  time.Duration
	sessionTimeout   time.Duration
}

func defaultDispatcherConfig() dispatcherConfig {
	return dispatcherConfig{
		parent:  context.Background(),
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
}

// Option configures a Dispatcher.
type Option func(*dispatcherConfig)

// WithParent bounds the dispatcher scope by ctx: when ctx is done, every
// running listener and session is cancelled as if Close had been called.
func WithParent(ctx context.Context) Option {
	return func(c *dispatcherConfig) {
		if ctx != nil {
			c.parent = ctx
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *dispatcherConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// The global meter provider is used.
func WithMetrics(enabled bool) Option {
	return func(c *dispatcherConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithMetricsRecorder sets a custom metrics recorder.
func WithMetricsRecorder(m observability.MetricsRecorder) Option {
	return func(c *dispatcherConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables or disables OpenTelemetry tracing.
// The global tracer provider is used.
func WithTracing(enabled bool) Option {
	return func(c *dispatcherConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithSpanManager sets a custom span manager.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(c *dispatcherConfig) {
		if sm != nil {
			c.spans = sm
		}
	}
}

// WithParallel runs the listeners of one event concurrently. Results are
// still emitted in priority order, but every listener starts without
// waiting for the caller; closing the stream early cancels the ones still
// running.
// Default: false
func WithParallel(enabled bool) Option {
	return func(c *dispatcherConfig) {
		c.parallel = enabled
	}
}

// WithConcurrencyLimit bounds concurrently running listeners per event in
// parallel mode. Zero means unlimited.
func WithConcurrencyLimit(n int) Option {
	return func(c *dispatcherConfig) {
		if n >= 0 {
			c.concurrencyLimit = n
		}
	}
}

// WithListenerTimeout bounds every listener invocation. A listener that
// exceeds it produces an Error result. Zero disables the limit.
func WithListenerTimeout(d time.Duration) Option {
	return func(c *dispatcherConfig) {
		if d >= 0 {
			c.listenerTimeout = d
		}
	}
}

// WithSessionTimeout sets the default timeout of session Await calls.
func WithSessionTimeout(d time.Duration) Option {
	return func(c *dispatcherConfig) {
		if d >= 0 {
			c.sessionTimeout = d
		}
	}
}

// WithSettings applies loaded configuration. Options given after it
// override individual values.
func WithSettings(s config.Settings) Option {
	return func(c *dispatcherConfig) {
		WithParallel(s.Dispatch.Parallel)(c)
		WithConcurrencyLimit(s.Dispatch.ConcurrencyLimit)(c)
		WithListenerTimeout(s.Dispatch.ListenerTimeout)(c)
		WithSessionTimeout(s.Session.DefaultTimeout)(c)
		WithMetrics(s.Observability.Metrics)(c)
		WithTracing(s.Observability.Tracing)(c)
	}
}
