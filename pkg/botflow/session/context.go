package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/botflow/pkg/botflow/observability"
)

// ConflictStrategy decides what Start does when the key already has a live
// session.
type ConflictStrategy int

const (
	// FailIfExists makes Start return ErrSessionExists.
	FailIfExists ConflictStrategy = iota
	// ReplaceExisting cancels the existing session with ErrSessionReplaced
	// and starts a new one.
	ReplaceExisting
	// KeepExisting returns the existing session and discards the new body.
	KeepExisting
)

func (s ConflictStrategy) String() string {
	switch s {
	case FailIfExists:
		return "fail_if_exists"
	case ReplaceExisting:
		return "replace_existing"
	case KeepExisting:
		return "keep_existing"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// entry is the type-erased view of a Session stored in the table.
type entry interface {
	ID() string
	cancelWith(cause error)
}

// Context is a keyed table of live sessions. Every session body runs in a
// goroutine bounded by the Context's scope.
type Context struct {
	scope  context.Context
	cancel context.CancelCauseFunc

	mu       sync.Mutex
	sessions map[string]entry
	closed   bool
	wg       sync.WaitGroup

	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	defaultTimeout time.Duration
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder used when sessions finish.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *Context) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithDefaultTimeout sets the timeout applied by InSession.Await. Zero
// waits until the session is cancelled.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Context) {
		c.defaultTimeout = d
	}
}

// NewContext creates a session table whose sessions are cancelled when
// parent is done or Close is called.
func NewContext(parent context.Context, opts ...Option) *Context {
	if parent == nil {
		parent = context.Background()
	}
	scope, cancel := context.WithCancelCause(parent)
	c := &Context{
		scope:    scope,
		cancel:   cancel,
		sessions: make(map[string]entry),
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultTimeout returns the timeout used by Await.
func (c *Context) DefaultTimeout() time.Duration {
	return c.defaultTimeout
}

// Len returns the number of live sessions.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Contains reports whether key has a live session.
func (c *Context) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[key]
	return ok
}

// Keys returns the keys of live sessions, sorted.
func (c *Context) Keys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.sessions))
	for k := range c.sessions {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Cancel cancels the session under key. It returns false when there is
// none. The session leaves the table once its body returns.
func (c *Context) Cancel(key string) bool {
	c.mu.Lock()
	e, ok := c.sessions[key]
	c.mu.Unlock()
	if ok {
		e.cancelWith(ErrSessionCancelled)
	}
	return ok
}

// Close cancels every session with ErrContextClosed and waits for their
// bodies to return. Bodies must honor their context for Close to return.
// Start fails with ErrContextClosed afterwards.
func (c *Context) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel(ErrContextClosed)
	c.wg.Wait()
	return nil
}

// Done is closed when the Context is closed or its parent is done.
func (c *Context) Done() <-chan struct{} {
	return c.scope.Done()
}

// remove deletes key only if it still maps to e.
func (c *Context) remove(key string, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.sessions[key]; ok && cur == e {
		delete(c.sessions, key)
	}
}

type contextKey struct{}

// WithContext returns a copy of ctx carrying c.
func WithContext(ctx context.Context, c *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the session Context carried by ctx, or nil.
func FromContext(ctx context.Context) *Context {
	c, _ := ctx.Value(contextKey{}).(*Context)
	return c
}
