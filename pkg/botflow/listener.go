package botflow

import (
	"context"

	"github.com/google/uuid"

	"github.com/randalmurphal/botflow/pkg/botflow/event"
)

// Listener handles events routed by the Dispatcher.
//
// Match decides whether the listener applies to the event; a false return
// produces an Invalid result without invoking the listener. Invoke does the
// work. Listeners are immutable once registered.
type Listener interface {
	ID() string
	Match(ctx context.Context, lc *ListenerContext) (bool, error)
	Invoke(ctx context.Context, lc *ListenerContext) (Result, error)
	// Interceptors returns interceptors that apply to this listener only.
	Interceptors() []PrioritizedInterceptor
}

// ListenerFunc is the body of a listener built with NewListener.
type ListenerFunc func(ctx context.Context, lc *ListenerContext) (Result, error)

// MatchFunc decides whether a listener applies to an event.
type MatchFunc func(ctx context.Context, lc *ListenerContext) (bool, error)

// PrioritizedInterceptor binds a listener interceptor to a priority.
// Lower priorities run first, outermost.
type PrioritizedInterceptor struct {
	Priority    int
	Interceptor ListenerInterceptor
}

type funcListener struct {
	id           string
	keys         []*event.Key
	matchers     []MatchFunc
	interceptors []PrioritizedInterceptor
	fn           ListenerFunc
}

// ListenerOption configures a listener built with NewListener or Typed.
type ListenerOption func(*funcListener)

// WithKeys restricts the listener to events whose key is, or descends
// from, one of keys.
func WithKeys(keys ...*event.Key) ListenerOption {
	return func(l *funcListener) {
		l.keys = append(l.keys, keys...)
	}
}

// WithMatcher adds a match condition. All conditions must hold.
func WithMatcher(fn MatchFunc) ListenerOption {
	return func(l *funcListener) {
		if fn != nil {
			l.matchers = append(l.matchers, fn)
		}
	}
}

// WithSources restricts the listener to events from the given sources.
func WithSources(sources ...string) ListenerOption {
	set := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		set[s] = struct{}{}
	}
	return WithMatcher(func(_ context.Context, lc *ListenerContext) (bool, error) {
		_, ok := set[lc.Event().Source()]
		return ok, nil
	})
}

// WithInterceptor attaches a listener interceptor to this listener only.
func WithInterceptor(priority int, i ListenerInterceptor) ListenerOption {
	return func(l *funcListener) {
		if i != nil {
			l.interceptors = append(l.interceptors, PrioritizedInterceptor{Priority: priority, Interceptor: i})
		}
	}
}

// NewListener creates a Listener from a function. An empty id is replaced
// by a generated one.
//
// Example:
//
//	greeter := botflow.NewListener("greeter",
//	    func(ctx context.Context, lc *botflow.ListenerContext) (botflow.Result, error) {
//	        return botflow.Success("hello, " + lc.Text()), nil
//	    },
//	    botflow.WithKeys(event.MessageKey),
//	)
func NewListener(id string, fn ListenerFunc, opts ...ListenerOption) Listener {
	if id == "" {
		id = uuid.New().String()
	}
	l := &funcListener{id: id, fn: fn}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *funcListener) ID() string {
	return l.id
}

func (l *funcListener) Match(ctx context.Context, lc *ListenerContext) (bool, error) {
	if len(l.keys) > 0 && !lc.Event().Key().IsAny(l.keys...) {
		return false, nil
	}
	for _, m := range l.matchers {
		ok, err := m(ctx, lc)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (l *funcListener) Invoke(ctx context.Context, lc *ListenerContext) (Result, error) {
	if l.fn == nil {
		return Success(nil), nil
	}
	return l.fn(ctx, lc)
}

func (l *funcListener) Interceptors() []PrioritizedInterceptor {
	return l.interceptors
}

// Typed creates a listener that only matches events whose payload is a T
// and receives the payload already asserted.
func Typed[T any](id string, fn func(ctx context.Context, lc *ListenerContext, payload T) (Result, error), opts ...ListenerOption) Listener {
	typed := func(_ context.Context, lc *ListenerContext) (bool, error) {
		_, ok := lc.Event().Data().(T)
		return ok, nil
	}
	body := func(ctx context.Context, lc *ListenerContext) (Result, error) {
		payload, _ := lc.Event().Data().(T)
		return fn(ctx, lc, payload)
	}
	return NewListener(id, body, append([]ListenerOption{WithMatcher(typed)}, opts...)...)
}

// Compile-time interface check.
var _ Listener = (*funcListener)(nil)
