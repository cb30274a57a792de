package intercept_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/randalmurphal/botflow/pkg/botflow"
	"github.com/randalmurphal/botflow/pkg/botflow/event"
	"github.com/randalmurphal/botflow/pkg/botflow/intercept"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newDispatcher(t *testing.T) *botflow.Dispatcher {
	t.Helper()
	d := botflow.NewDispatcher(botflow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func message(source, text string) event.Event {
	return event.NewMessage(source, event.Message{AuthorID: "alice", Text: text})
}

func echo(id string, opts ...botflow.ListenerOption) botflow.Listener {
	return botflow.NewListener(id, func(_ context.Context, lc *botflow.ListenerContext) (botflow.Result, error) {
		return botflow.Success(lc.Text()), nil
	}, opts...)
}

func TestRetry_TransientFailure(t *testing.T) {
	d := newDispatcher(t)
	var calls atomic.Int32
	flaky := botflow.NewListener("flaky", func(context.Context, *botflow.ListenerContext) (botflow.Result, error) {
		if calls.Add(1) < 3 {
			return botflow.Result{}, intercept.Transient(errors.New("rate limited"))
		}
		return botflow.Success("ok"), nil
	}, botflow.WithInterceptor(0, intercept.Retry(intercept.RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: time.Millisecond,
		BackoffFactor:  2,
	})))
	d.RegisterListener(1, flaky)

	outcomes, err := d.Collect(context.Background(), message("test", "hi"))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "ok", outcomes[0].Result.Value)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetry_PermanentFailureNotRetried(t *testing.T) {
	d := newDispatcher(t)
	var calls atomic.Int32
	d.RegisterListener(1, botflow.NewListener("broken", func(context.Context, *botflow.ListenerContext) (botflow.Result, error) {
		calls.Add(1)
		return botflow.Result{}, errors.New("bad request")
	}, botflow.WithInterceptor(0, intercept.Retry(intercept.DefaultRetry))))

	outcomes, err := d.Collect(context.Background(), message("test", "hi"))
	require.NoError(t, err)
	assert.True(t, outcomes[0].Result.IsError())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetry_GivesUp(t *testing.T) {
	d := newDispatcher(t)
	var calls atomic.Int32
	down := errors.New("down")
	d.RegisterListener(1, botflow.NewListener("down", func(context.Context, *botflow.ListenerContext) (botflow.Result, error) {
		calls.Add(1)
		return botflow.Failure("down", down), nil
	}, botflow.WithInterceptor(0, intercept.Retry(intercept.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  10,
		Jitter:         0.5,
		RetryableFunc:  func(error) bool { return true },
	}))))

	outcomes, err := d.Collect(context.Background(), message("test", "hi"))
	require.NoError(t, err)
	assert.True(t, outcomes[0].Result.IsError())
	assert.ErrorIs(t, outcomes[0].Result.Err, down)
	assert.Equal(t, int32(3), calls.Load())
}

func TestTransient(t *testing.T) {
	assert.Nil(t, intercept.Transient(nil))

	base := errors.New("conn reset")
	err := intercept.Transient(base)
	assert.True(t, intercept.IsTransient(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, intercept.IsTransient(base))
}

func TestTimeout(t *testing.T) {
	d := newDispatcher(t)
	d.RegisterListener(1, botflow.NewListener("slow", func(ctx context.Context, _ *botflow.ListenerContext) (botflow.Result, error) {
		<-ctx.Done()
		return botflow.Result{}, ctx.Err()
	}, botflow.WithInterceptor(0, intercept.Timeout(10*time.Millisecond))))
	d.RegisterListener(2, echo("fast", botflow.WithInterceptor(0, intercept.Timeout(time.Second))))

	outcomes, err := d.Collect(context.Background(), message("test", "hi"))
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Result.IsError())
	assert.ErrorIs(t, outcomes[0].Result.Err, intercept.ErrTimeout)
	assert.Equal(t, "hi", outcomes[1].Result.Value)
}

func TestSourceFilter(t *testing.T) {
	d := newDispatcher(t)
	d.RegisterListenerInterceptor(0, intercept.SourceFilter("discord"))
	d.RegisterListener(1, echo("echo"))

	outcomes, err := d.Collect(context.Background(), message("discord", "hi"))
	require.NoError(t, err)
	assert.True(t, outcomes[0].Result.IsSuccess())

	outcomes, err = d.Collect(context.Background(), message("slack", "hi"))
	require.NoError(t, err)
	assert.True(t, outcomes[0].Result.IsInvalid())
}

func TestFilter(t *testing.T) {
	d := newDispatcher(t)
	var matched atomic.Bool
	d.RegisterListener(1, echo("echo",
		botflow.WithMatcher(func(context.Context, *botflow.ListenerContext) (bool, error) {
			matched.Store(true)
			return true, nil
		}),
		botflow.WithInterceptor(0, intercept.Filter(func(_ context.Context, lc *botflow.ListenerContext) bool {
			return !strings.Contains(lc.Text(), "spam")
		})),
	))

	outcomes, err := d.Collect(context.Background(), message("test", "buy spam"))
	require.NoError(t, err)
	assert.True(t, outcomes[0].Result.IsInvalid())
	assert.False(t, matched.Load(), "filtered listeners are never matched")
}

func TestCommand(t *testing.T) {
	d := newDispatcher(t)
	d.RegisterListener(1, echo("help", botflow.WithInterceptor(0, intercept.Command("!help"))))

	tests := []struct {
		text string
		want botflow.ResultKind
		out  any
	}{
		{"!help", botflow.KindSuccess, ""},
		{"!help   topics", botflow.KindSuccess, "topics"},
		{"!helpme", botflow.KindInvalid, nil},
		{"hello", botflow.KindInvalid, nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			outcomes, err := d.Collect(context.Background(), message("test", tt.text))
			require.NoError(t, err)
			require.Len(t, outcomes, 1)
			assert.Equal(t, tt.want, outcomes[0].Result.Kind)
			assert.Equal(t, tt.out, outcomes[0].Result.Value)
		})
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	d := newDispatcher(t)
	d.RegisterDispatchInterceptor(0, intercept.Logging(logger))
	d.RegisterListener(1, echo("ok"))
	d.RegisterListener(2, botflow.NewListener("broken", func(context.Context, *botflow.ListenerContext) (botflow.Result, error) {
		return botflow.Result{}, errors.New("boom")
	}))

	outcomes, err := d.Collect(context.Background(), message("test", "hi"))
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)

	var entries []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	require.Len(t, entries, 3)

	assert.Equal(t, "listener outcome", entries[0]["msg"])
	assert.Equal(t, "listener failed", entries[1]["msg"])
	assert.Equal(t, "broken", entries[1]["listener_id"])

	summary := entries[2]
	assert.Equal(t, "dispatch finished", summary["msg"])
	assert.Equal(t, float64(1), summary["success"])
	assert.Equal(t, float64(1), summary["error"])
	assert.Equal(t, float64(0), summary["invalid"])
}
