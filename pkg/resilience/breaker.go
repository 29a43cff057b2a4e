package resilience

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is one of closed/open/half-open, per §4.6.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig configures the per-endpoint circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening, default 5
	CoolDown         time.Duration // open -> half-open delay, default 30s
}

// DefaultBreakerConfig matches §4.6's stated defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, CoolDown: 30 * time.Second}
}

// CircuitOpenError is returned immediately, without attempting I/O,
// while a breaker is open.
type CircuitOpenError struct {
	Endpoint string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for endpoint %q", e.Endpoint)
}

// Breaker is a single-endpoint circuit breaker: closed -> open after N
// consecutive failures; open -> half-open after a cool-down; half-open
// -> closed on the next success, -> open on the next failure.
type Breaker struct {
	endpoint string
	cfg      BreakerConfig

	mu              sync.Mutex
	state           BreakerState
	consecutiveFail int
	openedAt        time.Time
}

// NewBreaker returns a closed breaker for the named endpoint.
func NewBreaker(endpoint string, cfg BreakerConfig) *Breaker {
	return &Breaker{endpoint: endpoint, cfg: cfg, state: BreakerClosed}
}

// Allow reports whether a call may proceed, transitioning open ->
// half-open once the cool-down has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) >= b.cfg.CoolDown {
			b.state = BreakerHalfOpen
			return nil
		}
		return &CircuitOpenError{Endpoint: b.endpoint}
	default:
		return nil
	}
}

// RecordSuccess transitions half-open -> closed and resets the failure
// counter; a success while closed simply resets the counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.consecutiveFail = 0
}

// RecordFailure increments the consecutive-failure counter and opens
// the breaker once the threshold is reached (from closed), or
// immediately re-opens from half-open.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = time.Now()
		return
	default:
		b.consecutiveFail++
		if b.consecutiveFail >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
			b.openedAt = time.Now()
		}
	}
}

// State returns the breaker's current state, for health reporting.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
