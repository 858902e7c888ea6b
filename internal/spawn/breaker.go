package spawn

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"ralphloop/internal/logging"
)

// ErrCircuitOpen is returned by Allow when the breaker refuses a call.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is the circuit breaker's current mode.
type BreakerState int

const (
	// StateClosed admits all calls.
	StateClosed BreakerState = iota
	// StateOpen refuses all calls until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen admits a bounded number of probe calls.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("BreakerState(%d)", int(s))
	}
}

// BreakerConfig configures failure thresholds and recovery timing.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before admitting
	// probes.
	RecoveryTimeout time.Duration
	// HalfOpenMaxCalls is how many probe calls half-open admits before
	// further calls are refused.
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig returns the standard breaker policy.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker guards spawns against a systemically failing CLI. State
// transitions are lazy: open-to-half-open happens on the next call after the
// recovery timeout, not on a timer.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg BreakerConfig

	state         BreakerState
	failures      int
	lastFailure   time.Time
	halfOpenCalls int // probe slots consumed this half-open window
	halfOpenOK    int // probe successes this half-open window
}

// NewCircuitBreaker returns a closed breaker with the given policy.
// Zero-value fields fall back to defaults.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return &CircuitBreaker{cfg: cfg}
}

// State returns the breaker's current state, applying the lazy
// open-to-half-open transition first.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked()
	return cb.state
}

// Allow reserves permission for one call. In half-open it consumes a probe
// slot, so at most HalfOpenMaxCalls callers get through per window even
// under concurrency. Returns ErrCircuitOpen when the call must not proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked()

	switch cb.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.cfg.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			return nil
		}
		return ErrCircuitOpen
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess reports a successful call. In half-open, enough successes
// close the breaker and reset the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.cfg.HalfOpenMaxCalls {
			logging.Breaker("probe succeeded, closing circuit")
			cb.toClosedLocked()
		}
	case StateClosed:
		cb.failures = 0
	}
}

// RecordFailure reports a failed call. In half-open, any failure reopens the
// breaker immediately; in closed, reaching the threshold opens it.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateHalfOpen:
		logging.Breaker("probe failed, reopening circuit")
		cb.toOpenLocked()
	case StateClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			logging.Breaker("failure threshold reached (%d), opening circuit", cb.failures)
			cb.toOpenLocked()
		}
	}
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.toClosedLocked()
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// RecoveryHint describes when the breaker will next admit a probe, for
// surfacing in user-facing errors.
func (cb *CircuitBreaker) RecoveryHint() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked()

	switch cb.state {
	case StateOpen:
		remaining := cb.cfg.RecoveryTimeout - time.Since(cb.lastFailure)
		if remaining < 0 {
			remaining = 0
		}
		return fmt.Sprintf("retry possible in %s", remaining.Round(time.Second))
	case StateHalfOpen:
		return "a recovery probe is in flight"
	default:
		return "circuit is closed"
	}
}

func (cb *CircuitBreaker) transitionLocked() {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.cfg.RecoveryTimeout {
		logging.Breaker("recovery timeout elapsed, entering half-open")
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
	}
}

func (cb *CircuitBreaker) toOpenLocked() {
	cb.state = StateOpen
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
}

func (cb *CircuitBreaker) toClosedLocked() {
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
}
