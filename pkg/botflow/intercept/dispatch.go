package intercept

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/botflow/pkg/botflow"
)

// Logging returns an observe-only dispatch interceptor that logs every
// outcome and a summary when the dispatch ends. Error outcomes are logged
// at warn level, everything else at debug.
func Logging(logger *slog.Logger) botflow.DispatchInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return botflow.DispatchInterceptorFunc(func(ctx context.Context, ec *botflow.EventContext, next botflow.DispatchNext) (*botflow.Stream, error) {
		start := time.Now()
		evt := ec.Event()
		log := logger.With(slog.String("event_id", evt.ID()), slog.String("source", evt.Source()))

		s, err := next(ctx, ec)
		if err != nil {
			log.Warn("dispatch rejected", slog.String("error", err.Error()))
			return nil, err
		}

		counts := make(map[botflow.ResultKind]int, 3)
		return s.
			Observe(func(o botflow.Outcome) {
				counts[o.Result.Kind]++
				if o.Result.IsError() {
					log.Warn("listener failed",
						slog.String("listener_id", o.ListenerID),
						slog.String("error", o.Result.Err.Error()),
					)
					return
				}
				log.Debug("listener outcome",
					slog.String("listener_id", o.ListenerID),
					slog.String("kind", o.Result.Kind.String()),
				)
			}).
			OnDone(func(err error) {
				attrs := []any{
					slog.Int("success", counts[botflow.KindSuccess]),
					slog.Int("invalid", counts[botflow.KindInvalid]),
					slog.Int("error", counts[botflow.KindError]),
					slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				}
				if err != nil {
					log.Info("dispatch stopped", append(attrs, slog.String("cause", err.Error()))...)
					return
				}
				log.Info("dispatch finished", attrs...)
			}), nil
	})
}
