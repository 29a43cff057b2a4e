package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiterConfig configures the per-endpoint token bucket.
type RateLimiterConfig struct {
	RatePerSecond float64
	Burst         int
}

// NewLimiter builds a token-bucket limiter; Wait blocks (bounded by
// ctx) until a token is available.
func NewLimiter(cfg RateLimiterConfig) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
}

// wait blocks until a token is available or ctx is done.
func wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
