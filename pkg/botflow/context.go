package botflow

import (
	"log/slog"
	"sync"

	"github.com/randalmurphal/botflow/pkg/botflow/event"
	"github.com/randalmurphal/botflow/pkg/botflow/session"
)

// EventContext carries one event through the dispatch interceptor chain and
// into every listener.
type EventContext struct {
	event    event.Event
	sessions *session.Context
	logger   *slog.Logger
	attrs    *attrs
}

type attrs struct {
	mu sync.RWMutex
	m  map[string]any
}

func (a *attrs) get(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.m[key]
	return v, ok
}

func (a *attrs) set(key string, v any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.m == nil {
		a.m = make(map[string]any)
	}
	a.m[key] = v
}

func newEventContext(evt event.Event, sessions *session.Context, logger *slog.Logger) *EventContext {
	return &EventContext{
		event:    evt,
		sessions: sessions,
		logger:   logger,
		attrs:    &attrs{},
	}
}

// Event returns the event being dispatched.
func (ec *EventContext) Event() event.Event {
	return ec.event
}

// Sessions returns the dispatcher's session table.
func (ec *EventContext) Sessions() *session.Context {
	return ec.sessions
}

// Logger returns the dispatch logger.
func (ec *EventContext) Logger() *slog.Logger {
	return ec.logger
}

// WithEvent returns a copy of ec carrying evt. Attributes are shared with
// the original.
func (ec *EventContext) WithEvent(evt event.Event) *EventContext {
	cp := *ec
	cp.event = evt
	return &cp
}

// Get returns a dispatch-wide attribute.
func (ec *EventContext) Get(key string) (any, bool) {
	return ec.attrs.get(key)
}

// Set stores a dispatch-wide attribute visible to every listener of this
// dispatch.
func (ec *EventContext) Set(key string, v any) {
	ec.attrs.set(key, v)
}

// ListenerContext is the per-listener view of a dispatch. Interceptors use
// it to share data with the listener they wrap.
type ListenerContext struct {
	*EventContext
	listener Listener
	logger   *slog.Logger
	local    attrs

	textOnce sync.Once
	textMu   sync.RWMutex
	text     string
}

func newListenerContext(ec *EventContext, l Listener, logger *slog.Logger) *ListenerContext {
	return &ListenerContext{
		EventContext: ec,
		listener:     l,
		logger:       logger,
	}
}

// Listener returns the listener being run.
func (lc *ListenerContext) Listener() Listener {
	return lc.listener
}

// Logger returns a logger enriched with event and listener fields.
func (lc *ListenerContext) Logger() *slog.Logger {
	return lc.logger
}

// Text returns the plain text of the event, or the text set by an earlier
// interceptor with SetText.
func (lc *ListenerContext) Text() string {
	lc.textOnce.Do(func() {
		text, _ := event.TextOf(lc.event)
		lc.textMu.Lock()
		lc.text = text
		lc.textMu.Unlock()
	})
	lc.textMu.RLock()
	defer lc.textMu.RUnlock()
	return lc.text
}

// SetText replaces the text seen by later interceptors and the listener,
// for example after stripping a command prefix.
func (lc *ListenerContext) SetText(text string) {
	lc.textOnce.Do(func() {})
	lc.textMu.Lock()
	lc.text = text
	lc.textMu.Unlock()
}

// Get returns a listener-local value, falling back to dispatch-wide
// attributes.
func (lc *ListenerContext) Get(key string) (any, bool) {
	if v, ok := lc.local.get(key); ok {
		return v, true
	}
	return lc.EventContext.Get(key)
}

// Set stores a listener-local value.
func (lc *ListenerContext) Set(key string, v any) {
	lc.local.set(key, v)
}
