package journal

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/botflow/pkg/botflow"
	"github.com/randalmurphal/botflow/pkg/botflow/event"
)

// Interceptor returns a dispatch interceptor that appends every Error
// outcome of a dispatch to store. It never changes the outcomes. Append
// failures are logged and otherwise ignored.
//
// Example:
//
//	store, _ := journal.Open(settings.Journal)
//	d.RegisterDispatchInterceptor(-100, journal.Interceptor(store, logger))
func Interceptor(store Store, logger *slog.Logger) botflow.DispatchInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return botflow.DispatchInterceptorFunc(func(ctx context.Context, ec *botflow.EventContext, next botflow.DispatchNext) (*botflow.Stream, error) {
		s, err := next(ctx, ec)
		if err != nil {
			return nil, err
		}
		writeCtx := context.WithoutCancel(ctx)
		evt := ec.Event()
		return s.Observe(func(o botflow.Outcome) {
			if !o.Result.IsError() {
				return
			}
			r := NewRecord(evt, o)
			if err := store.Append(writeCtx, r); err != nil {
				logger.Warn("journal append failed",
					slog.String("event_id", r.EventID),
					slog.String("listener_id", r.ListenerID),
					slog.String("error", err.Error()),
				)
			}
		}), nil
	})
}

// NewRecord builds the record for a failed outcome of evt. Only event
// metadata is kept, never the payload.
func NewRecord(evt event.Event, o botflow.Outcome) Record {
	r := Record{
		EventID:    evt.ID(),
		Source:     evt.Source(),
		ListenerID: o.ListenerID,
	}
	if k := evt.Key(); k != nil {
		r.EventKey = k.Name()
	}
	if o.Result.Err != nil {
		r.Error = o.Result.Err.Error()
	}
	return r
}
