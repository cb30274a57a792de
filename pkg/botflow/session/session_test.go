package session_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/randalmurphal/botflow/pkg/botflow/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newContext(t *testing.T, opts ...session.Option) *session.Context {
	t.Helper()
	c := session.NewContext(context.Background(), opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func itoa(v int) (string, error) {
	return strconv.Itoa(v), nil
}

func TestRoundTrip(t *testing.T) {
	c := newContext(t)
	ctx := context.Background()

	var received []int
	s, err := session.Start(c, "user-1", session.FailIfExists,
		func(ctx context.Context, in *session.InSession[int, string]) error {
			for range 3 {
				v, err := in.Await(ctx, itoa)
				if err != nil {
					return err
				}
				received = append(received, v)
			}
			return nil
		})
	require.NoError(t, err)
	assert.True(t, c.Contains("user-1"))
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "user-1", s.Key())

	for i := 1; i <= 3; i++ {
		got, err := s.Push(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(i), got)
	}

	_, err = s.Push(ctx, 4)
	var pf *session.PushFailureError
	require.ErrorAs(t, err, &pf)
	assert.ErrorIs(t, err, session.ErrSessionCompleted)

	require.NoError(t, s.Join(ctx))
	assert.Equal(t, []int{1, 2, 3}, received)
	assert.Equal(t, session.Resolved, s.State())
	assert.True(t, s.IsCompleted())
	assert.False(t, s.IsCancelled())
	assert.False(t, c.Contains("user-1"))
	assert.Equal(t, 0, c.Len())
}

func TestPushHelper(t *testing.T) {
	c := newContext(t)
	ctx := context.Background()

	_, err := session.Push[int, string](ctx, c, "nobody", 1)
	assert.ErrorIs(t, err, session.ErrNoSession)

	s, err := session.Start(c, "k", session.FailIfExists,
		func(ctx context.Context, in *session.InSession[int, string]) error {
			_, err := in.Await(ctx, itoa)
			return err
		})
	require.NoError(t, err)

	_, err = session.Push[string, string](ctx, c, "k", "wrong type")
	assert.ErrorIs(t, err, session.ErrSessionTypeMismatch)

	found, ok := session.Lookup[int, string](c, "k")
	require.True(t, ok)
	assert.Same(t, s, found)

	got, err := session.Push[int, string](ctx, c, "k", 7)
	require.NoError(t, err)
	assert.Equal(t, "7", got)
	require.NoError(t, s.Join(ctx))
}

func TestAwaitFailurePropagates(t *testing.T) {
	c := newContext(t)
	ctx := context.Background()
	boom := errors.New("cannot process")

	s, err := session.Start(c, "k", session.FailIfExists,
		func(ctx context.Context, in *session.InSession[int, string]) error {
			_, err := in.Await(ctx, func(int) (string, error) {
				return "", boom
			})
			return err
		})
	require.NoError(t, err)

	_, err = s.Push(ctx, 1)
	var af *session.AwaitFailureError
	require.ErrorAs(t, err, &af)
	assert.ErrorIs(t, err, boom)

	joinErr := s.Join(ctx)
	require.ErrorAs(t, joinErr, &af)
	assert.ErrorIs(t, joinErr, boom)

	assert.True(t, s.IsCompleted())
	assert.False(t, s.IsCancelled())
	assert.Equal(t, session.Failed, s.State())
}

func TestAwaitFunctionPanic(t *testing.T) {
	c := newContext(t)
	ctx := context.Background()

	s, err := session.Start(c, "k", session.FailIfExists,
		func(ctx context.Context, in *session.InSession[int, string]) error {
			_, err := in.Await(ctx, func(int) (string, error) {
				panic("bad input")
			})
			return err
		})
	require.NoError(t, err)

	_, err = s.Push(ctx, 1)
	var pe *session.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad input", pe.Value)
	assert.NotEmpty(t, pe.Stack)

	assert.Error(t, s.Join(ctx))
	assert.Equal(t, session.Failed, s.State())
}

func TestBodyPanic(t *testing.T) {
	c := newContext(t)

	s, err := session.Start(c, "k", session.FailIfExists,
		func(context.Context, *session.InSession[int, int]) error {
			panic("body exploded")
		})
	require.NoError(t, err)

	err = s.Join(context.Background())
	var pe *session.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "k", pe.Key)
	assert.Equal(t, session.Failed, s.State())
	assert.False(t, c.Contains("k"))
}

func TestAwaitTimeout(t *testing.T) {
	c := newContext(t)
	listenerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	s, err := session.Start(c, "k", session.FailIfExists,
		func(ctx context.Context, in *session.InSession[int, string]) error {
			_, err := in.AwaitTimeout(ctx, 50*time.Millisecond, itoa)
			return err
		})
	require.NoError(t, err)

	joinCtx, joinCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer joinCancel()
	err = s.Join(joinCtx)

	var te *session.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, session.ErrTimeout)
	assert.Equal(t, 50*time.Millisecond, te.Timeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, session.TimedOut, s.State())
	assert.False(t, s.IsCancelled())

	// The timeout never cancels the enclosing listener.
	assert.NoError(t, listenerCtx.Err())
}

func TestAwaitAgainAfterTimeout(t *testing.T) {
	c := newContext(t)
	ctx := context.Background()
	timedOut := make(chan struct{})

	s, err := session.Start(c, "k", session.FailIfExists,
		func(ctx context.Context, in *session.InSession[int, string]) error {
			_, err := in.AwaitTimeout(ctx, 10*time.Millisecond, itoa)
			if !errors.Is(err, session.ErrTimeout) {
				return fmt.Errorf("expected timeout, got %v", err)
			}
			close(timedOut)
			_, err = in.Await(ctx, itoa)
			return err
		})
	require.NoError(t, err)

	<-timedOut
	got, err := s.Push(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "5", got)
	require.NoError(t, s.Join(ctx))
	assert.Equal(t, session.Resolved, s.State())
}

func TestDefaultTimeout(t *testing.T) {
	c := newContext(t, session.WithDefaultTimeout(20*time.Millisecond))
	assert.Equal(t, 20*time.Millisecond, c.DefaultTimeout())

	s, err := session.Start(c, "k", session.FailIfExists,
		func(ctx context.Context, in *session.InSession[int, string]) error {
			_, err := in.Await(ctx, itoa)
			return err
		})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Join(context.Background()), session.ErrTimeout)
}

func TestConflictStrategies(t *testing.T) {
	waitForever := func(ctx context.Context, in *session.InSession[int, string]) error {
		_, err := in.Await(ctx, itoa)
		return err
	}

	t.Run("fail if exists", func(t *testing.T) {
		c := newContext(t)
		_, err := session.Start(c, "k", session.FailIfExists, waitForever)
		require.NoError(t, err)

		_, err = session.Start(c, "k", session.FailIfExists, waitForever)
		assert.ErrorIs(t, err, session.ErrSessionExists)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("keep existing", func(t *testing.T) {
		c := newContext(t)
		first, err := session.Start(c, "k", session.FailIfExists, waitForever)
		require.NoError(t, err)

		again, err := session.Start(c, "k", session.KeepExisting, waitForever)
		require.NoError(t, err)
		assert.Same(t, first, again)

		_, err = session.Start(c, "k", session.KeepExisting,
			func(context.Context, *session.InSession[string, string]) error { return nil })
		assert.ErrorIs(t, err, session.ErrSessionTypeMismatch)
	})

	t.Run("replace existing", func(t *testing.T) {
		c := newContext(t)
		ctx := context.Background()
		old, err := session.Start(c, "k", session.FailIfExists, waitForever)
		require.NoError(t, err)

		replacement, err := session.Start(c, "k", session.ReplaceExisting, waitForever)
		require.NoError(t, err)
		assert.NotSame(t, old, replacement)

		assert.ErrorIs(t, old.Join(ctx), session.ErrSessionReplaced)
		assert.True(t, old.IsCancelled())

		// The old session must not evict its replacement.
		found, ok := session.Lookup[int, string](c, "k")
		require.True(t, ok)
		assert.Same(t, replacement, found)

		got, err := replacement.Push(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, "3", got)
	})
}

func TestPushBusy(t *testing.T) {
	c := newContext(t)
	ctx := context.Background()
	gate := make(chan struct{})

	s, err := session.Start(c, "k", session.FailIfExists,
		func(ctx context.Context, in *session.InSession[int, string]) error {
			<-gate
			_, err := in.Await(ctx, itoa)
			return err
		})
	require.NoError(t, err)

	type result struct {
		v   string
		err error
	}
	first := make(chan result, 1)
	go func() {
		v, err := s.Push(ctx, 1)
		first <- result{v, err}
	}()

	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, time.Millisecond)

	_, err = s.Push(ctx, 2)
	assert.ErrorIs(t, err, session.ErrSessionBusy)

	close(gate)
	r := <-first
	require.NoError(t, r.err)
	assert.Equal(t, "1", r.v)
	require.NoError(t, s.Join(ctx))
}

func TestPushContextCancelled(t *testing.T) {
	c := newContext(t)

	s, err := session.Start(c, "k", session.FailIfExists,
		func(ctx context.Context, in *session.InSession[int, string]) error {
			<-ctx.Done()
			return context.Cause(ctx)
		})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Push(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	s.Cancel()
	assert.ErrorIs(t, s.Join(context.Background()), session.ErrSessionCancelled)
	assert.True(t, s.IsCancelled())
}

func TestPushToQueuedThenFinished(t *testing.T) {
	c := newContext(t)
	release := make(chan struct{})

	s, err := session.Start(c, "k", session.FailIfExists,
		func(ctx context.Context, in *session.InSession[int, string]) error {
			<-release
			return nil
		})
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := s.Push(context.Background(), 1)
		errs <- err
	}()
	require.Eventually(t, func() bool { return s.Pending() == 1 }, time.Second, time.Millisecond)

	close(release)
	err = <-errs
	var pf *session.PushFailureError
	require.ErrorAs(t, err, &pf)
	assert.ErrorIs(t, err, session.ErrSessionCompleted)
}

func TestContextCancel(t *testing.T) {
	c := newContext(t)
	s, err := session.Start(c, "k", session.FailIfExists,
		func(ctx context.Context, in *session.InSession[int, string]) error {
			_, err := in.Await(ctx, itoa)
			return err
		})
	require.NoError(t, err)

	assert.False(t, c.Cancel("missing"))
	assert.True(t, c.Cancel("k"))
	assert.ErrorIs(t, s.Join(context.Background()), session.ErrSessionCancelled)
	assert.Equal(t, session.Cancelled, s.State())
	assert.False(t, c.Contains("k"))
}

func TestCloseCancelsAllSessions(t *testing.T) {
	c := session.NewContext(context.Background())

	var sessions []*session.Session[int, string]
	for i := range 10 {
		s, err := session.Start(c, fmt.Sprintf("k%d", i), session.FailIfExists,
			func(ctx context.Context, in *session.InSession[int, string]) error {
				_, err := in.Await(ctx, itoa)
				return err
			})
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	assert.Equal(t, 10, c.Len())
	assert.Len(t, c.Keys(), 10)

	done := make(chan struct{})
	go func() {
		_ = c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	for _, s := range sessions {
		assert.True(t, s.IsCompleted())
		assert.True(t, s.IsCancelled())
		assert.ErrorIs(t, s.Err(), session.ErrContextClosed)
	}
	assert.Equal(t, 0, c.Len())

	_, err := session.Start(c, "late", session.FailIfExists,
		func(context.Context, *session.InSession[int, string]) error { return nil })
	assert.ErrorIs(t, err, session.ErrContextClosed)

	// Closing twice is harmless.
	assert.NoError(t, c.Close())
}

func TestParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	c := session.NewContext(parent)
	defer c.Close()

	s, err := session.Start(c, "k", session.FailIfExists,
		func(ctx context.Context, in *session.InSession[int, string]) error {
			_, err := in.Await(ctx, itoa)
			return err
		})
	require.NoError(t, err)

	cancel()
	<-c.Done()
	assert.ErrorIs(t, s.Join(context.Background()), context.Canceled)
	assert.True(t, s.IsCancelled())
}

func TestConcurrentSessions(t *testing.T) {
	c := newContext(t)
	ctx := context.Background()
	const n = 50

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("user-%d", i)
			s, err := session.Start(c, key, session.FailIfExists,
				func(ctx context.Context, in *session.InSession[int, string]) error {
					_, err := in.Await(ctx, itoa)
					return err
				})
			if !assert.NoError(t, err) {
				return
			}
			got, err := session.Push[int, string](ctx, c, key, i)
			assert.NoError(t, err)
			assert.Equal(t, strconv.Itoa(i), got)
			assert.NoError(t, s.Join(ctx))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, c.Len())
}

func TestFromContext(t *testing.T) {
	c := newContext(t)
	ctx := session.WithContext(context.Background(), c)
	assert.Same(t, c, session.FromContext(ctx))
	assert.Nil(t, session.FromContext(context.Background()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "waiting", session.Waiting.String())
	assert.Equal(t, "timed_out", session.TimedOut.String())
	assert.Equal(t, "replace_existing", session.ReplaceExisting.String())
}
