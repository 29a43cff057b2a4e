// Package resilience wraps every external connector call with retry,
// a circuit breaker, and a rate limiter, per §4.6. A Wrapper is scoped
// to one endpoint (one connector instance's remote target); callers
// route every I/O call for that endpoint through Wrapper.Do.
package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config bundles the three resilience policies for one endpoint.
type Config struct {
	Retry       RetryConfig
	Breaker     BreakerConfig
	RateLimiter RateLimiterConfig
	// CallTimeout is the per-call deadline inherited from connector
	// config (§5, default 60s); exceeding it counts as transient.
	CallTimeout time.Duration
}

// DefaultConfig matches the defaults named in §4.6/§5.
func DefaultConfig() Config {
	return Config{
		Retry:       DefaultRetryConfig(),
		Breaker:     DefaultBreakerConfig(),
		RateLimiter: RateLimiterConfig{RatePerSecond: 10, Burst: 10},
		CallTimeout: 60 * time.Second,
	}
}

// Wrapper is the single chokepoint every external connector call routes
// through, mirroring the teacher's connector-container pattern of one
// wrapping layer around all out-of-process I/O.
type Wrapper struct {
	endpoint string
	cfg      Config
	breaker  *Breaker
	limiter  *rate.Limiter

	mu       sync.Mutex
	requests int
}

// New returns a Wrapper for the named endpoint.
func New(endpoint string, cfg Config) *Wrapper {
	return &Wrapper{
		endpoint: endpoint,
		cfg:      cfg,
		breaker:  NewBreaker(endpoint, cfg.Breaker),
		limiter:  NewLimiter(cfg.RateLimiter),
	}
}

// Do runs fn under the wrapper's rate limiter, circuit breaker, and
// retry policy, honoring ctx cancellation at every suspension point:
// the rate-limiter wait, the per-call timeout, and between retries.
func (w *Wrapper) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := w.breaker.Allow(); err != nil {
		return err
	}

	var err = withRetry(ctx, w.cfg.Retry, func(ctx context.Context) error {
		if werr := wait(ctx, w.limiter); werr != nil {
			return werr
		}

		var callCtx = ctx
		var cancel context.CancelFunc
		if w.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, w.cfg.CallTimeout)
			defer cancel()
		}

		w.mu.Lock()
		w.requests++
		w.mu.Unlock()

		var callErr = fn(callCtx)
		if callErr != nil && callCtx.Err() == context.DeadlineExceeded {
			return Transient(callErr)
		}
		return callErr
	})

	if err != nil {
		w.breaker.RecordFailure()
		return err
	}
	w.breaker.RecordSuccess()
	return nil
}

// Health reports the wrapper's circuit-breaker state and request count,
// satisfying the `{state, metrics}` shape of §4.5's health() contract.
func (w *Wrapper) Health() (string, map[string]any) {
	w.mu.Lock()
	var reqs = w.requests
	w.mu.Unlock()

	var state = w.breaker.State()
	var healthState = "healthy"
	switch state {
	case BreakerOpen:
		healthState = "unhealthy"
	case BreakerHalfOpen:
		healthState = "degraded"
	}
	return healthState, map[string]any{
		"endpoint":       w.endpoint,
		"circuit_state":  state.String(),
		"request_count":  reqs,
	}
}
