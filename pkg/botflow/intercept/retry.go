package intercept

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/randalmurphal/botflow/pkg/botflow"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// RetryableFunc optionally overrides the default retryability check,
	// which retries only errors marked with Transient.
	RetryableFunc func(error) bool
}

// DefaultRetry is the standard retry configuration.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// TransientError marks a failure that a retry will likely fix, such as a
// rate limit or a dropped connection.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable. It returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Retry returns an after-match interceptor that re-invokes a failed
// listener with exponential backoff. Both returned errors and Error results
// count as failures. The last failure is reported once attempts run out.
func Retry(cfg RetryConfig) botflow.ListenerInterceptor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	isRetryable := cfg.RetryableFunc
	if isRetryable == nil {
		isRetryable = IsTransient
	}

	return botflow.InterceptListener(botflow.AfterMatch,
		func(ctx context.Context, lc *botflow.ListenerContext, next botflow.ListenerNext) (botflow.Result, error) {
			backoff := cfg.InitialBackoff
			for attempt := 1; ; attempt++ {
				res, err := next(ctx, lc)
				if err == nil && res.IsError() {
					err = res.Err
				}
				if err == nil || attempt >= cfg.MaxAttempts || !isRetryable(err) {
					return res, err
				}
				if ctx.Err() != nil {
					return res, err
				}

				lc.Logger().Debug("retrying listener",
					"attempt", attempt,
					"error", err.Error(),
				)

				select {
				case <-ctx.Done():
					return res, err
				case <-time.After(calculateBackoff(backoff, cfg.Jitter)):
				}

				backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
				if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
					backoff = cfg.MaxBackoff
				}
			}
		})
}

// calculateBackoff returns the backoff duration with jitter applied.
func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}

	// base +/- (base * jitter * random)
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}
