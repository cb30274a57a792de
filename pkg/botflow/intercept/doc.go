// Package intercept provides ready-made interceptors for a botflow
// Dispatcher.
//
// Dispatch interceptors:
//   - Logging: logs every outcome and a per-dispatch summary
//
// Listener interceptors:
//   - Filter, SourceFilter, Command: before-match, skip listeners
//   - Timeout: after-match, bounds a listener invocation
//   - Retry: after-match, re-invokes listeners that fail transiently
package intercept
