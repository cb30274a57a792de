package botflow

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/botflow/pkg/botflow/event"
	"github.com/randalmurphal/botflow/pkg/botflow/observability"
	"github.com/randalmurphal/botflow/pkg/botflow/registry"
	"github.com/randalmurphal/botflow/pkg/botflow/session"
)

// Dispatcher routes events to registered listeners in priority order.
//
// Registration, unregistration and dispatch are safe to call concurrently.
// A dispatch sees a weakly consistent view of the listeners: one added or
// removed while a dispatch is running may or may not be visited by it.
type Dispatcher struct {
	listeners            *registry.Registry[Listener]
	dispatchInterceptors *registry.Registry[DispatchInterceptor]
	listenerInterceptors *registry.Registry[ListenerInterceptor]
	sessions             *session.Context

	scope  context.Context
	cancel context.CancelCauseFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	logger          *slog.Logger
	metrics         observability.MetricsRecorder
	spans           observability.SpanManager
	parallel        bool
	limit           int
	listenerTimeout time.Duration
}

// NewDispatcher creates a dispatcher. Call Close to cancel running
// listeners and sessions and release resources.
//
// Example:
//
//	d := botflow.NewDispatcher(botflow.WithLogger(logger))
//	defer d.Close()
//	d.RegisterListener(10, greeter)
//	outcomes, err := d.Collect(ctx, event.NewMessage("cli", event.Message{Text: "hi"}))
func NewDispatcher(opts ...Option) *Dispatcher {
	cfg := defaultDispatcherConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	scope, cancel := context.WithCancelCause(cfg.parent)
	d := &Dispatcher{
		listeners:            registry.New[Listener](),
		dispatchInterceptors: registry.New[DispatchInterceptor](),
		listenerInterceptors: registry.New[ListenerInterceptor](),
		scope:                scope,
		cancel:               cancel,
		logger:               cfg.logger,
		metrics:              cfg.metrics,
		spans:                cfg.spans,
		parallel:             cfg.parallel,
		limit:                cfg.concurrencyLimit,
		listenerTimeout:      cfg.listenerTimeout,
	}
	d.sessions = session.NewContext(scope,
		session.WithLogger(cfg.logger),
		session.WithMetrics(cfg.metrics),
		session.WithDefaultTimeout(cfg.sessionTimeout),
	)
	return d
}

// RegisterListener adds l at the given priority. Lower priorities run
// first; listeners with equal priority run in registration order.
func (d *Dispatcher) RegisterListener(priority int, l Listener) *registry.Handle[Listener] {
	return d.listeners.Register(priority, l)
}

// RegisterDispatchInterceptor adds a dispatch interceptor. Lower priorities
// run first, outermost.
func (d *Dispatcher) RegisterDispatchInterceptor(priority int, i DispatchInterceptor) *registry.Handle[DispatchInterceptor] {
	return d.dispatchInterceptors.Register(priority, i)
}

// RegisterListenerInterceptor adds an interceptor applied to every
// listener. On equal priority it runs outside the listener's own
// interceptors.
func (d *Dispatcher) RegisterListenerInterceptor(priority int, i ListenerInterceptor) *registry.Handle[ListenerInterceptor] {
	return d.listenerInterceptors.Register(priority, i)
}

// Listeners returns the registered listeners in priority order.
func (d *Dispatcher) Listeners() []Listener {
	return d.listeners.Snapshot()
}

// Sessions returns the session table shared by every listener.
func (d *Dispatcher) Sessions() *session.Context {
	return d.sessions
}

// Close cancels running listeners and sessions with ErrDispatcherClosed
// and waits for them to return. It must not be called from a listener.
// Calling Close more than once is safe.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel(ErrDispatcherClosed)
	err := d.sessions.Close()
	d.wg.Wait()
	return err
}

func (d *Dispatcher) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// spawn runs fn on a goroutine tracked by Close. It reports false once the
// dispatcher is closed.
func (d *Dispatcher) spawn(fn func()) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
	return true
}

// bind derives a context that is done when either ctx or the dispatcher
// scope is done.
func (d *Dispatcher) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(d.scope, func() {
		cancel(context.Cause(d.scope))
	})
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// Dispatch routes evt through the dispatch interceptors and returns the
// lazy stream of listener outcomes. Listeners run as the stream is
// consumed; the caller must consume it to the end or Close it.
//
// A listener failure never fails the dispatch: it is reported as an Error
// outcome and the next listener runs. An error returned by a dispatch
// interceptor is returned here as a *DispatchInterceptorError. When ctx is
// cancelled the stream stops and Stream.Err returns the cause.
func (d *Dispatcher) Dispatch(ctx context.Context, evt event.Event) (*Stream, error) {
	if evt == nil {
		return nil, ErrNilEvent
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if d.isClosed() {
		return nil, ErrDispatcherClosed
	}

	ctx, release := d.bind(ctx)
	start := time.Now()
	key := keyName(evt)

	ctx, span := d.spans.StartDispatchSpan(ctx, evt.ID(), key, evt.Source())
	observability.LogDispatchStart(d.logger, evt.ID(), key, evt.Source())

	logger := d.logger.With(slog.String("event_id", evt.ID()), slog.String("event_key", key))
	ec := newEventContext(evt, d.sessions, logger)

	stream, err := d.intercept(ctx, ec, d.dispatchInterceptors.Snapshot(), 0)
	if err != nil {
		release()
		dur := time.Since(start)
		d.spans.EndSpanWithError(span, err)
		d.metrics.RecordDispatch(ctx, key, 0, dur, err)
		observability.LogDispatchError(d.logger, evt.ID(), err, float64(dur.Milliseconds()))
		return nil, err
	}

	results := 0
	return stream.
		Observe(func(Outcome) { results++ }).
		OnDone(func(err error) {
			release()
			dur := time.Since(start)
			d.spans.EndSpanWithError(span, err)
			d.metrics.RecordDispatch(ctx, key, results, dur, err)
			if err != nil {
				observability.LogDispatchError(d.logger, evt.ID(), err, float64(dur.Milliseconds()))
				return
			}
			observability.LogDispatchComplete(d.logger, evt.ID(), float64(dur.Milliseconds()), results)
		}), nil
}

// Collect dispatches evt and consumes every outcome.
func (d *Dispatcher) Collect(ctx context.Context, evt event.Event) ([]Outcome, error) {
	s, err := d.Dispatch(ctx, evt)
	if err != nil {
		return nil, err
	}
	return s.Collect()
}

// Launch dispatches evt in the background. Outcomes are delivered on the
// first channel, which is closed when the dispatch ends. The second channel
// then receives exactly one value, the error that ended the dispatch or
// nil, and is closed.
func (d *Dispatcher) Launch(ctx context.Context, evt event.Event) (<-chan Outcome, <-chan error) {
	if ctx == nil {
		ctx = context.Background()
	}
	out := make(chan Outcome)
	errc := make(chan error, 1)

	launched := d.spawn(func() {
		defer close(errc)
		defer close(out)

		s, err := d.Dispatch(ctx, evt)
		if err != nil {
			errc <- err
			return
		}
		for {
			o, ok := s.Next()
			if !ok {
				break
			}
			select {
			case out <- o:
			case <-ctx.Done():
				s.Close()
				errc <- context.Cause(ctx)
				return
			case <-d.scope.Done():
				s.Close()
				errc <- context.Cause(d.scope)
				return
			}
		}
		errc <- s.Err()
	})
	if !launched {
		close(out)
		errc <- ErrDispatcherClosed
		close(errc)
	}
	return out, errc
}

// intercept runs chain[i:] around the listener stage.
func (d *Dispatcher) intercept(ctx context.Context, ec *EventContext, chain []DispatchInterceptor, i int) (s *Stream, err error) {
	if i == len(chain) {
		return d.listen(ctx, ec), nil
	}

	defer func() {
		if r := recover(); r != nil {
			s, err = nil, &DispatchInterceptorError{Err: &PanicError{
				Where: "dispatch",
				Value: r,
				Stack: string(debug.Stack()),
			}}
		}
	}()

	s, err = chain[i].InterceptDispatch(ctx, ec, func(nctx context.Context, nec *EventContext) (*Stream, error) {
		if nctx == nil {
			nctx = ctx
		}
		if nec == nil {
			nec = ec
		}
		return d.intercept(nctx, nec, chain, i+1)
	})
	if err != nil {
		if ctx.Err() != nil {
			cause := context.Cause(ctx)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, cause) {
				return nil, cause
			}
		}
		var die *DispatchInterceptorError
		if errors.As(err, &die) {
			return nil, err
		}
		return nil, &DispatchInterceptorError{Err: err}
	}
	if s == nil {
		s = Empty()
	}
	return s, nil
}

// listen returns the stream that runs the listeners for ec.
func (d *Dispatcher) listen(ctx context.Context, ec *EventContext) *Stream {
	globals := d.globalInterceptors()
	if d.parallel {
		return d.parallelStream(ctx, ec, globals)
	}

	it := d.listeners.Iter()
	return newStream(func() (Outcome, bool, error) {
		if ctx.Err() != nil {
			return Outcome{}, false, context.Cause(ctx)
		}
		h, ok := it.Next()
		if !ok {
			return Outcome{}, false, nil
		}
		l := h.Value()
		res, err := d.runListener(ctx, ec, l, globals)
		if err != nil {
			return Outcome{}, false, err
		}
		return Outcome{ListenerID: l.ID(), Priority: h.Priority(), Result: res}, true, nil
	})
}

// parallelStream starts every listener at once, bounded by the
// concurrency limit, and emits their outcomes in priority order.
func (d *Dispatcher) parallelStream(ctx context.Context, ec *EventContext, globals []PrioritizedInterceptor) *Stream {
	var handles []*registry.Handle[Listener]
	for h := range d.listeners.Handles() {
		handles = append(handles, h)
	}

	type slot struct {
		res Result
		err error
	}
	slots := make([]slot, len(handles))
	ready := make([]chan struct{}, len(handles))
	for i := range ready {
		ready[i] = make(chan struct{})
	}

	launched := d.spawn(func() {
		var g errgroup.Group
		if d.limit > 0 {
			g.SetLimit(d.limit)
		}
		for i, h := range handles {
			g.Go(func() error {
				defer close(ready[i])
				slots[i].res, slots[i].err = d.runListener(ctx, ec, h.Value(), globals)
				return nil
			})
		}
		_ = g.Wait()
	})

	next := 0
	return newStream(func() (Outcome, bool, error) {
		if !launched {
			return Outcome{}, false, ErrDispatcherClosed
		}
		if next >= len(handles) {
			return Outcome{}, false, nil
		}
		i := next
		select {
		case <-ready[i]:
		case <-ctx.Done():
			return Outcome{}, false, context.Cause(ctx)
		}
		next++
		if slots[i].err != nil {
			return Outcome{}, false, slots[i].err
		}
		h := handles[i]
		return Outcome{ListenerID: h.Value().ID(), Priority: h.Priority(), Result: slots[i].res}, true, nil
	})
}

func (d *Dispatcher) globalInterceptors() []PrioritizedInterceptor {
	var out []PrioritizedInterceptor
	for h := range d.listenerInterceptors.Handles() {
		out = append(out, PrioritizedInterceptor{Priority: h.Priority(), Interceptor: h.Value()})
	}
	return out
}

// pipeline composes the interceptors of l around its match and invoke
// steps. Before-match interceptors wrap matching; after-match interceptors
// wrap only the invocation of a matched listener.
func pipeline(l Listener, globals []PrioritizedInterceptor) ListenerNext {
	own := l.Interceptors()
	all := make([]PrioritizedInterceptor, 0, len(globals)+len(own))
	all = append(all, globals...)
	all = append(all, own...)
	slices.SortStableFunc(all, func(a, b PrioritizedInterceptor) int {
		return cmp.Compare(a.Priority, b.Priority)
	})

	var before, after []ListenerInterceptor
	for _, pi := range all {
		if pi.Interceptor == nil {
			continue
		}
		if pi.Interceptor.Point() == BeforeMatch {
			before = append(before, pi.Interceptor)
		} else {
			after = append(after, pi.Interceptor)
		}
	}

	invoke := chainListener(after, l.Invoke)
	return chainListener(before, func(ctx context.Context, lc *ListenerContext) (Result, error) {
		ok, err := l.Match(ctx, lc)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Invalid(), nil
		}
		return invoke(ctx, lc)
	})
}

// runListener runs one listener pipeline. A non-nil error means the
// dispatch was cancelled and the stream must stop; every listener failure
// is returned as an Error result instead.
func (d *Dispatcher) runListener(ctx context.Context, ec *EventContext, l Listener, globals []PrioritizedInterceptor) (Result, error) {
	if ctx.Err() != nil {
		return Result{}, context.Cause(ctx)
	}

	id := l.ID()
	evt := ec.Event()
	logger := observability.EnrichLogger(d.logger, evt.ID(), keyName(evt), id)
	lc := newListenerContext(ec, l, logger)

	lctx, cancel := context.WithCancel(session.WithContext(ctx, d.sessions))
	defer cancel()
	if d.listenerTimeout > 0 {
		var stop context.CancelFunc
		lctx, stop = context.WithTimeoutCause(lctx, d.listenerTimeout, ErrListenerTimeout)
		defer stop()
	}
	lctx, span := d.spans.StartListenerSpan(lctx, id)
	observability.LogListenerStart(logger, id)
	start := time.Now()

	type ret struct {
		res Result
		err error
	}
	out := make(chan ret, 1)
	run := pipeline(l, globals)
	if !d.spawn(func() {
		res, err := invokeSafely(lctx, lc, id, run)
		out <- ret{res, err}
	}) {
		d.spans.EndSpanWithError(span, ErrDispatcherClosed)
		return Result{}, ErrDispatcherClosed
	}

	var r ret
	returned := false
	select {
	case r = <-out:
		returned = true
	case <-lctx.Done():
		select {
		case r = <-out:
			returned = true
		default:
		}
		if !returned && ctx.Err() == nil {
			// Timed out. The next listener must not start until this one
			// returns.
			select {
			case <-out:
				returned = true
				r = ret{err: context.Cause(lctx)}
			case <-ctx.Done():
			}
		}
		if !returned {
			r.err = context.Cause(lctx)
		}
	}
	if ctx.Err() != nil && (!returned || r.err != nil) {
		cause := context.Cause(ctx)
		d.spans.EndSpanWithError(span, cause)
		logger.Debug("listener cancelled", slog.String("cause", cause.Error()))
		return Result{}, cause
	}

	if r.err != nil && lctx.Err() != nil && errors.Is(r.err, context.DeadlineExceeded) {
		r.err = context.Cause(lctx)
	}

	res := normalize(id, r.res, r.err)
	dur := time.Since(start)
	d.metrics.RecordListener(ctx, id, res.Kind.String(), dur)
	if res.IsError() {
		d.spans.EndSpanWithError(span, res.Err)
		observability.LogListenerError(logger, id, res.Err)
	} else {
		d.spans.EndSpanWithError(span, nil)
		observability.LogListenerComplete(logger, id, res.Kind.String(), float64(dur.Milliseconds()))
	}
	return res, nil
}

// invokeSafely runs fn, converting a panic into a *PanicError.
func invokeSafely(ctx context.Context, lc *ListenerContext, id string, fn ListenerNext) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				Where: id,
				Value: r,
				Stack: string(debug.Stack()),
			}
		}
	}()
	return fn(ctx, lc)
}

func keyName(evt event.Event) string {
	if k := evt.Key(); k != nil {
		return k.Name()
	}
	return event.RootKey.Name()
}
