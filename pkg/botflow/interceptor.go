package botflow

import "context"

// InterceptPoint is where a listener interceptor sits in the pipeline.
type InterceptPoint int

const (
	// AfterMatch interceptors wrap the invocation of a matched listener.
	// They can read what matching produced, such as the extracted text.
	AfterMatch InterceptPoint = iota
	// BeforeMatch interceptors wrap matching and everything after it.
	// Returning Invalid without calling next skips the listener.
	BeforeMatch
)

func (p InterceptPoint) String() string {
	if p == BeforeMatch {
		return "before_match"
	}
	return "after_match"
}

// ListenerNext continues a listener pipeline.
type ListenerNext func(ctx context.Context, lc *ListenerContext) (Result, error)

// ListenerInterceptor wraps part of a listener pipeline. It may call next
// and pass its result through, replace the result, skip next entirely, or
// return an error, which becomes an Error result for the listener.
type ListenerInterceptor interface {
	Point() InterceptPoint
	Intercept(ctx context.Context, lc *ListenerContext, next ListenerNext) (Result, error)
}

type listenerInterceptorFunc struct {
	point InterceptPoint
	fn    func(ctx context.Context, lc *ListenerContext, next ListenerNext) (Result, error)
}

func (f listenerInterceptorFunc) Point() InterceptPoint {
	return f.point
}

func (f listenerInterceptorFunc) Intercept(ctx context.Context, lc *ListenerContext, next ListenerNext) (Result, error) {
	return f.fn(ctx, lc, next)
}

// InterceptListener creates a ListenerInterceptor from a function.
func InterceptListener(point InterceptPoint, fn func(ctx context.Context, lc *ListenerContext, next ListenerNext) (Result, error)) ListenerInterceptor {
	return listenerInterceptorFunc{point: point, fn: fn}
}

// DispatchNext continues the dispatch interceptor chain.
type DispatchNext func(ctx context.Context, ec *EventContext) (*Stream, error)

// DispatchInterceptor wraps a whole dispatch. It may pass through, replace
// the event with ec.WithEvent, observe the outcomes with Stream.Observe,
// short-circuit with Single, or return an error, which is escalated to the
// Dispatch caller as a DispatchInterceptorError.
type DispatchInterceptor interface {
	InterceptDispatch(ctx context.Context, ec *EventContext, next DispatchNext) (*Stream, error)
}

// DispatchInterceptorFunc adapts a function to DispatchInterceptor.
type DispatchInterceptorFunc func(ctx context.Context, ec *EventContext, next DispatchNext) (*Stream, error)

// InterceptDispatch calls f.
func (f DispatchInterceptorFunc) InterceptDispatch(ctx context.Context, ec *EventContext, next DispatchNext) (*Stream, error) {
	return f(ctx, ec, next)
}

// chainListener composes interceptors around final. interceptors[0] runs
// outermost.
func chainListener(interceptors []ListenerInterceptor, final ListenerNext) ListenerNext {
	next := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic, inner := interceptors[i], next
		next = func(ctx context.Context, lc *ListenerContext) (Result, error) {
			return ic.Intercept(ctx, lc, inner)
		}
	}
	return next
}
