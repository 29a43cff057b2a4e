package resilience

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig configures exponential backoff with jitter, per §4.6.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	JitterPct    uint64
}

// DefaultRetryConfig matches §4.6's stated default of 3 attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, JitterPct: 20}
}

// TransientError marks an error as eligible for retry: network
// timeouts, HTTP 5xx, and HTTP 429. Non-transient errors (auth, other
// 4xx, schema errors) must never be wrapped in this and will propagate
// on first attempt.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// withRetry runs fn under exponential backoff with jitter, retrying
// only errors wrapped with Transient; any other error returns
// immediately. Respects ctx cancellation between attempts.
func withRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	var b retry.Backoff = retry.NewExponential(cfg.BaseDelay)
	b = retry.WithMaxRetries(uint64(cfg.MaxAttempts-1), b)
	if cfg.JitterPct > 0 {
		b = retry.WithJitterPercent(cfg.JitterPct, b)
	}
	return retry.Do(ctx, b, func(ctx context.Context) error {
		var err = fn(ctx)
		if err == nil {
			return nil
		}
		if _, ok := err.(*TransientError); ok {
			return retry.RetryableError(err)
		}
		return err
	})
}
