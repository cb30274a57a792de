package session

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	// ErrSessionExists is returned by Start with FailIfExists when the key
	// already has a live session.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionTypeMismatch is returned when an existing session has
	// different value or reply types than requested.
	ErrSessionTypeMismatch = errors.New("session type mismatch")

	// ErrSessionBusy is returned when another push is already queued.
	ErrSessionBusy = errors.New("session busy")

	// ErrSessionCompleted is returned when pushing to a finished session.
	ErrSessionCompleted = errors.New("session completed")

	// ErrNoSession is returned when pushing to a key without a session.
	ErrNoSession = errors.New("no session for key")

	// ErrSessionReplaced is the cancellation cause of a session replaced
	// through ReplaceExisting.
	ErrSessionReplaced = errors.New("session replaced")

	// ErrSessionCancelled is the cancellation cause of Session.Cancel and
	// Context.Cancel.
	ErrSessionCancelled = errors.New("session cancelled")

	// ErrContextClosed is returned once the owning Context has been closed.
	// It is also the cancellation cause of every session it closed.
	ErrContextClosed = errors.New("session context closed")

	// ErrTimeout matches every TimeoutError.
	ErrTimeout = errors.New("session await timed out")
)

// PushFailureError is returned to a pusher when no live waiter can take
// the value.
type PushFailureError struct {
	Key string
	Err error
}

func (e *PushFailureError) Error() string {
	return fmt.Sprintf("push to session %q failed: %v", e.Key, e.Err)
}

func (e *PushFailureError) Unwrap() error {
	return e.Err
}

// AwaitFailureError reports that the waiter failed to process a pushed
// value. Both the pusher and the session body receive it.
type AwaitFailureError struct {
	Key   string
	Cause error
}

func (e *AwaitFailureError) Error() string {
	return fmt.Sprintf("session %q await failed: %v", e.Key, e.Cause)
}

func (e *AwaitFailureError) Unwrap() error {
	return e.Cause
}

// TimeoutError is returned from AwaitTimeout inside the session body when
// no value arrived in time.
type TimeoutError struct {
	Key     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("session %q: no value within %s", e.Key, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// PanicError wraps a panic raised by a session body or an await function.
type PanicError struct {
	Key   string
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("session %q panicked: %v", e.Key, e.Value)
}
