package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	var cfg = DefaultConfig()
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.RateLimiter = RateLimiterConfig{RatePerSecond: 1000, Burst: 1000}
	var w = New("test-endpoint", cfg)

	var attempts = 0
	var err = w.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return Transient(errors.New("temporary"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestNonTransientErrorIsNotRetried(t *testing.T) {
	var cfg = DefaultConfig()
	cfg.RateLimiter = RateLimiterConfig{RatePerSecond: 1000, Burst: 1000}
	var w = New("test-endpoint", cfg)

	var attempts = 0
	var err = w.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("auth failed")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var cfg = DefaultConfig()
	cfg.Retry.MaxAttempts = 1
	cfg.Breaker = BreakerConfig{FailureThreshold: 5, CoolDown: time.Hour}
	cfg.RateLimiter = RateLimiterConfig{RatePerSecond: 1000, Burst: 1000}
	var w = New("flaky-endpoint", cfg)

	var calls = 0
	for i := 0; i < 5; i++ {
		var err = w.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return errors.New("server error")
		})
		require.Error(t, err)
	}
	require.Equal(t, 5, calls)

	// The 6th call must fail fast without invoking fn.
	var err = w.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.Error(t, err)
	require.Equal(t, 5, calls)
	var _, ok = err.(*CircuitOpenError)
	require.True(t, ok)
}

func TestCancellationAbortsWait(t *testing.T) {
	var cfg = DefaultConfig()
	cfg.RateLimiter = RateLimiterConfig{RatePerSecond: 0.001, Burst: 1}
	var w = New("slow-endpoint", cfg)

	var ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// First call consumes the single burst token...
	_ = w.Do(context.Background(), func(ctx context.Context) error { return nil })
	// ...so the second call must block on the limiter and observe
	// cancellation rather than proceeding.
	var err = w.Do(ctx, func(ctx context.Context) error { return nil })
	require.Error(t, err)
}
