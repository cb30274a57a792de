// Package observability provides structured logging, metrics, and tracing
// for the botflow dispatcher and session context.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds dispatch context to a logger.
// Returns a new logger with event_id, event_key, and listener_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "evt-123", "message", "greeter")
//	enriched.Info("doing work") // includes event_id, event_key, listener_id
func EnrichLogger(logger *slog.Logger, eventID, eventKey, listenerID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("event_id", eventID),
		slog.String("event_key", eventKey),
		slog.String("listener_id", listenerID),
	)
}

// LogDispatchStart logs the start of an event dispatch.
func LogDispatchStart(logger *slog.Logger, eventID, eventKey, source string) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch starting",
		slog.String("event_id", eventID),
		slog.String("event_key", eventKey),
		slog.String("source", source),
	)
}

// LogDispatchComplete logs the end of an event dispatch.
func LogDispatchComplete(logger *slog.Logger, eventID string, durationMs float64, results int) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch completed",
		slog.String("event_id", eventID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("results", results),
	)
}

// LogDispatchError logs a dispatch that ended with an error.
func LogDispatchError(logger *slog.Logger, eventID string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("dispatch failed",
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogListenerStart logs listener invocation start.
func LogListenerStart(logger *slog.Logger, listenerID string) {
	if logger == nil {
		return
	}
	logger.Debug("listener starting",
		slog.String("listener_id", listenerID),
	)
}

// LogListenerComplete logs listener completion with its result kind.
func LogListenerComplete(logger *slog.Logger, listenerID, kind string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("listener completed",
		slog.String("listener_id", listenerID),
		slog.String("result", kind),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogListenerError logs a listener failure.
func LogListenerError(logger *slog.Logger, listenerID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("listener failed",
		slog.String("listener_id", listenerID),
		slog.String("error", err.Error()),
	)
}

// LogSessionStart logs a session being started.
func LogSessionStart(logger *slog.Logger, key, sessionID string) {
	if logger == nil {
		return
	}
	logger.Debug("session started",
		slog.String("session_key", key),
		slog.String("session_id", sessionID),
	)
}

// LogSessionFinish logs a session leaving the table.
func LogSessionFinish(logger *slog.Logger, key, sessionID, state string, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Debug("session finished",
			slog.String("session_key", key),
			slog.String("session_id", sessionID),
			slog.String("state", state),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("session finished",
		slog.String("session_key", key),
		slog.String("session_id", sessionID),
		slog.String("state", state),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
