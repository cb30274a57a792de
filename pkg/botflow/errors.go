package botflow

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrDispatcherClosed indicates Dispatch was called after Close, or a
	// dispatch was cut short by Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")

	// ErrNilEvent indicates Dispatch was called with a nil event.
	ErrNilEvent = errors.New("event cannot be nil")

	// ErrListenerReported is the cause of an Error result returned by a
	// listener without an error value.
	ErrListenerReported = errors.New("listener reported failure")

	// ErrListenerTimeout is the cause of an Error result for a listener that
	// ran longer than the configured listener timeout.
	ErrListenerTimeout = errors.New("listener timed out")
)

// ListenerError wraps a failure raised by a listener, its matcher, or one
// of its interceptors. It is delivered as the cause of an Error result.
type ListenerError struct {
	// ListenerID is the identifier of the listener that failed.
	ListenerID string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %s: %v", e.ListenerID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ListenerError) Unwrap() error {
	return e.Err
}

// DispatchInterceptorError wraps a failure raised by a dispatch interceptor.
// Unlike listener failures it is returned to the Dispatch caller.
type DispatchInterceptorError struct {
	Err error
}

// Error implements the error interface.
func (e *DispatchInterceptorError) Error() string {
	return fmt.Sprintf("dispatch interceptor: %v", e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DispatchInterceptorError) Unwrap() error {
	return e.Err
}

// PanicError captures panic information from a listener or interceptor.
// It includes the stack trace for debugging.
type PanicError struct {
	// Where names the listener or "dispatch" for dispatch interceptors.
	Where string
	// Value is the value passed to panic().
	Value any
	// Stack is the full stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Where, e.Value)
}
