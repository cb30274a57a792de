package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/botflow/pkg/botflow/observability"
)

// State is the lifecycle state of a session.
type State int32

const (
	// Waiting means the body is running or suspended in Await.
	Waiting State = iota
	// Resolved means the body returned nil.
	Resolved
	// Failed means the body returned an error or panicked.
	Failed
	// Cancelled means the session was cancelled, replaced or its owner
	// closed.
	Cancelled
	// TimedOut means the body ended with a *TimeoutError.
	TimedOut
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type reply[R any] struct {
	value R
	err   error
}

type request[T, R any] struct {
	value T
	reply chan reply[R]
}

// Session is a live or finished continuous session. Values of type T are
// pushed into it and each push is answered with a reply of type R.
type Session[T, R any] struct {
	owner   *Context
	key     string
	id      string
	started time.Time

	ctx    context.Context
	cancel context.CancelCauseFunc

	inbox chan *request[T, R]
	done  chan struct{}
	state atomic.Int32
	err   error // written before done is closed
}

// Start runs body as a session under key. The body runs in its own
// goroutine and receives pushed values through in.Await; its returned error
// becomes the session result. What happens when key already has a live
// session depends on strategy.
func Start[T, R any](c *Context, key string, strategy ConflictStrategy, body func(ctx context.Context, in *InSession[T, R]) error) (*Session[T, R], error) {
	if body == nil {
		return nil, errors.New("session body is required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrContextClosed
	}
	if existing, ok := c.sessions[key]; ok {
		switch strategy {
		case KeepExisting:
			c.mu.Unlock()
			s, ok := existing.(*Session[T, R])
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrSessionTypeMismatch, key)
			}
			return s, nil
		case ReplaceExisting:
			existing.cancelWith(ErrSessionReplaced)
		default:
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: %q", ErrSessionExists, key)
		}
	}

	ctx, cancel := context.WithCancelCause(c.scope)
	s := &Session[T, R]{
		owner:   c,
		key:     key,
		id:      uuid.New().String(),
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		inbox:   make(chan *request[T, R], 1),
		done:    make(chan struct{}),
	}
	c.sessions[key] = s
	c.wg.Add(1)
	c.mu.Unlock()

	observability.LogSessionStart(c.logger, key, s.id)
	go s.run(body)
	return s, nil
}

// Lookup returns the live session under key.
func Lookup[T, R any](c *Context, key string) (*Session[T, R], bool) {
	c.mu.Lock()
	e, ok := c.sessions[key]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	s, ok := e.(*Session[T, R])
	return s, ok
}

// Push pushes v into the live session under key and waits for its reply.
func Push[T, R any](ctx context.Context, c *Context, key string, v T) (R, error) {
	c.mu.Lock()
	e, ok := c.sessions[key]
	c.mu.Unlock()
	if !ok {
		var zero R
		return zero, &PushFailureError{Key: key, Err: ErrNoSession}
	}
	s, ok := e.(*Session[T, R])
	if !ok {
		var zero R
		return zero, &PushFailureError{Key: key, Err: ErrSessionTypeMismatch}
	}
	return s.Push(ctx, v)
}

func (s *Session[T, R]) run(body func(context.Context, *InSession[T, R]) error) {
	defer s.owner.wg.Done()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Key: s.key, Value: r, Stack: string(debug.Stack())}
			}
		}()
		err = body(s.ctx, &InSession[T, R]{s: s})
	}()

	s.finish(err)
}

func (s *Session[T, R]) finish(err error) {
	var timeout *TimeoutError
	state := Resolved
	switch {
	case err == nil:
	case s.ctx.Err() != nil:
		state = Cancelled
	case errors.As(err, &timeout):
		state = TimedOut
	default:
		state = Failed
	}

	s.err = err
	s.state.Store(int32(state))
	s.owner.remove(s.key, s)
	close(s.done)
	s.cancel(ErrSessionCompleted)

	// Fail a push that was queued after the last Await.
drain:
	for {
		select {
		case req := <-s.inbox:
			req.reply <- reply[R]{err: &PushFailureError{Key: s.key, Err: ErrSessionCompleted}}
		default:
			break drain
		}
	}

	s.owner.metrics.RecordSession(context.Background(), state.String(), time.Since(s.started))
	observability.LogSessionFinish(s.owner.logger, s.key, s.id, state.String(), err)
}

// ID returns the unique session identifier.
func (s *Session[T, R]) ID() string {
	return s.id
}

// Key returns the key the session was started under.
func (s *Session[T, R]) Key() string {
	return s.key
}

// State returns the current state.
func (s *Session[T, R]) State() State {
	return State(s.state.Load())
}

// IsCompleted reports whether the body has returned.
func (s *Session[T, R]) IsCompleted() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// IsCancelled reports whether the session finished because it was cancelled.
func (s *Session[T, R]) IsCancelled() bool {
	return s.State() == Cancelled
}

// Done is closed once the body has returned.
func (s *Session[T, R]) Done() <-chan struct{} {
	return s.done
}

// Err returns the body's error once the session is completed, and nil
// before that.
func (s *Session[T, R]) Err() error {
	if !s.IsCompleted() {
		return nil
	}
	return s.err
}

// Join waits for the body to return and returns its error.
func (s *Session[T, R]) Join(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// Cancel cancels the session context with ErrSessionCancelled.
func (s *Session[T, R]) Cancel() {
	s.cancel(ErrSessionCancelled)
}

func (s *Session[T, R]) cancelWith(cause error) {
	s.cancel(cause)
}

// Pending returns the number of pushes queued and not yet taken by Await.
func (s *Session[T, R]) Pending() int {
	return len(s.inbox)
}

// Push hands v to the session and blocks until the body replies, the
// session finishes, or ctx is done. Only one push can be queued at a time;
// a concurrent push fails with ErrSessionBusy.
func (s *Session[T, R]) Push(ctx context.Context, v T) (R, error) {
	var zero R
	if s.IsCompleted() {
		return zero, &PushFailureError{Key: s.key, Err: ErrSessionCompleted}
	}

	req := &request[T, R]{value: v, reply: make(chan reply[R], 1)}
	select {
	case s.inbox <- req:
	default:
		return zero, &PushFailureError{Key: s.key, Err: ErrSessionBusy}
	}

	select {
	case r := <-req.reply:
		return r.value, r.err
	case <-s.done:
		select {
		case r := <-req.reply:
			return r.value, r.err
		default:
			return zero, &PushFailureError{Key: s.key, Err: ErrSessionCompleted}
		}
	case <-ctx.Done():
		return zero, context.Cause(ctx)
	}
}

// InSession is the handle a session body uses to wait for pushed values.
type InSession[T, R any] struct {
	s *Session[T, R]
}

// Key returns the session key.
func (in *InSession[T, R]) Key() string {
	return in.s.key
}

// Session returns the session the body belongs to.
func (in *InSession[T, R]) Session() *Session[T, R] {
	return in.s
}

// Await suspends until a value is pushed, computes the reply with fn, and
// returns the value. The owning Context's default timeout applies.
//
// If fn fails, both the pusher and the caller receive an AwaitFailureError.
func (in *InSession[T, R]) Await(ctx context.Context, fn func(T) (R, error)) (T, error) {
	return in.await(ctx, in.s.owner.defaultTimeout, fn)
}

// AwaitTimeout is Await with an explicit timeout. On expiry it returns a
// TimeoutError; the session and the caller's context stay alive, so the body
// may wait again. A non-positive timeout waits without limit.
func (in *InSession[T, R]) AwaitTimeout(ctx context.Context, timeout time.Duration, fn func(T) (R, error)) (T, error) {
	return in.await(ctx, timeout, fn)
}

func (in *InSession[T, R]) await(ctx context.Context, timeout time.Duration, fn func(T) (R, error)) (T, error) {
	var zero T
	s := in.s

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case req := <-s.inbox:
		r, err := s.apply(fn, req.value)
		if err != nil {
			failure := &AwaitFailureError{Key: s.key, Cause: err}
			req.reply <- reply[R]{err: failure}
			return zero, failure
		}
		req.reply <- reply[R]{value: r}
		return req.value, nil
	case <-expired:
		return zero, &TimeoutError{Key: s.key, Timeout: timeout}
	case <-ctx.Done():
		return zero, context.Cause(ctx)
	case <-s.ctx.Done():
		return zero, context.Cause(s.ctx)
	}
}

func (s *Session[T, R]) apply(fn func(T) (R, error), v T) (r R, err error) {
	if fn == nil {
		return r, nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = &PanicError{Key: s.key, Value: rec, Stack: string(debug.Stack())}
		}
	}()
	return fn(v)
}
