package intercept

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/randalmurphal/botflow/pkg/botflow"
)

// ErrTimeout is the cause of an Error result produced by Timeout.
var ErrTimeout = errors.New("listener deadline exceeded")

// Timeout returns an after-match interceptor that bounds the invocation of
// a matched listener. Listeners must honor their context for the bound to
// take effect.
func Timeout(d time.Duration) botflow.ListenerInterceptor {
	return botflow.InterceptListener(botflow.AfterMatch,
		func(ctx context.Context, lc *botflow.ListenerContext, next botflow.ListenerNext) (botflow.Result, error) {
			if d <= 0 {
				return next(ctx, lc)
			}
			tctx, cancel := context.WithTimeoutCause(ctx, d, ErrTimeout)
			defer cancel()

			res, err := next(tctx, lc)
			if err != nil && ctx.Err() == nil && errors.Is(context.Cause(tctx), ErrTimeout) {
				return res, fmt.Errorf("after %s: %w", d, ErrTimeout)
			}
			return res, err
		})
}

// Filter returns a before-match interceptor that skips the listener, with
// an Invalid result, unless pred holds.
func Filter(pred func(ctx context.Context, lc *botflow.ListenerContext) bool) botflow.ListenerInterceptor {
	return botflow.InterceptListener(botflow.BeforeMatch,
		func(ctx context.Context, lc *botflow.ListenerContext, next botflow.ListenerNext) (botflow.Result, error) {
			if !pred(ctx, lc) {
				return botflow.Invalid(), nil
			}
			return next(ctx, lc)
		})
}

// SourceFilter skips listeners for events whose source is not listed.
func SourceFilter(sources ...string) botflow.ListenerInterceptor {
	allowed := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		allowed[s] = struct{}{}
	}
	return Filter(func(_ context.Context, lc *botflow.ListenerContext) bool {
		_, ok := allowed[lc.Event().Source()]
		return ok
	})
}

// Command skips listeners unless the event text starts with prefix. For
// matching events the prefix and following spaces are stripped from the
// text seen by the listener.
//
// Example:
//
//	d.RegisterListener(10, botflow.NewListener("help", helpFn,
//	    botflow.WithInterceptor(0, intercept.Command("!help"))))
func Command(prefix string) botflow.ListenerInterceptor {
	return botflow.InterceptListener(botflow.BeforeMatch,
		func(ctx context.Context, lc *botflow.ListenerContext, next botflow.ListenerNext) (botflow.Result, error) {
			rest, ok := strings.CutPrefix(lc.Text(), prefix)
			if !ok || (rest != "" && !strings.HasPrefix(rest, " ")) {
				return botflow.Invalid(), nil
			}
			lc.SetText(strings.TrimLeft(rest, " "))
			return next(ctx, lc)
		})
}
