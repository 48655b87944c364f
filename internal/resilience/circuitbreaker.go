// Package resilience wraps a single domain.ExchangeAdapter with a circuit
// breaker, an adaptive retry manager and a health probe loop, exposing the
// same operations with failure-isolation semantics layered on top.
package resilience

import (
	"sync"
	"time"

	"github.com/cryptofeed/collector/internal/domain"
)

// State is the circuit breaker's three-way state machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreakerStats is a read-only snapshot of breaker counters, safe to
// hand to callers outside the breaker's lock.
type CircuitBreakerStats struct {
	State      State
	Failures   int
	Opens      int
	Closes     int
	LastError  error
	OpenedAt   time.Time
}

// CircuitBreaker implements the state machine from spec.md §4.2: in
// Closed every call passes through and failures accumulate; on reaching
// failureThreshold it opens for recoveryTimeout; a single HalfOpen failure
// reopens and multiplies recoveryTimeout (capped), while successThreshold
// consecutive HalfOpen successes close it and reset parameters to their
// configured values.
type CircuitBreaker struct {
	cfg domain.CircuitBreakerConfig

	mu sync.Mutex

	state              State
	failuresInARow     int
	successesInARow    int
	halfOpenInFlight   int
	openedAt           time.Time
	currentRecovery    time.Duration
	currentFailureCap  int

	opens  int
	closes int
	lastErr error

	now func() time.Time
}

// New constructs a CircuitBreaker in the Closed state.
func New(cfg domain.CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
	cb.resetParameters()
	return cb
}

func (cb *CircuitBreaker) resetParameters() {
	cb.currentRecovery = time.Duration(cb.cfg.RecoveryTimeoutS) * time.Second
	cb.currentFailureCap = cb.cfg.FailureThreshold
}

// Allow reports whether a call may proceed. When the breaker is Open and
// the recovery timeout has elapsed, Allow itself performs the Open ->
// HalfOpen transition. In HalfOpen it admits up to SuccessThreshold
// outstanding probes at once (at least one).
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.currentRecovery {
			cb.state = StateHalfOpen
			cb.successesInARow = 0
			cb.halfOpenInFlight = 0
		} else {
			return false
		}
		fallthrough
	case StateHalfOpen:
		maxProbes := cb.cfg.SuccessThreshold
		if maxProbes < 1 {
			maxProbes = 1
		}
		if cb.halfOpenInFlight >= maxProbes {
			return false
		}
		cb.halfOpenInFlight++
		return true
	}
	return false
}

// RecordSuccess reports a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failuresInARow = 0
	case StateHalfOpen:
		cb.halfOpenInFlight--
		cb.successesInARow++
		if cb.successesInARow >= maxInt(cb.cfg.SuccessThreshold, 1) {
			cb.state = StateClosed
			cb.failuresInARow = 0
			cb.successesInARow = 0
			cb.closes++
			cb.resetParameters()
		}
	}
}

// RecordFailure reports a failed call outcome. Cancelled calls must never
// be reported here -- the caller (RetryManager/wrapper) is responsible for
// treating cancellation as a non-failure event per spec.md §5.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastErr = err

	switch cb.state {
	case StateClosed:
		cb.failuresInARow++
		if cb.failuresInARow >= maxInt(cb.currentFailureCap, 1) {
			cb.trip()
		}
	case StateHalfOpen:
		cb.halfOpenInFlight--
		cb.trip()
		cb.adaptUpward()
	}
}

// trip transitions to Open, recording the opened-at timestamp.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.failuresInARow = 0
	cb.successesInARow = 0
	cb.opens++
}

// adaptUpward grows the recovery timeout and failure threshold after a
// HalfOpen probe fails, capped at the configured maxima.
func (cb *CircuitBreaker) adaptUpward() {
	mult := cb.cfg.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	next := time.Duration(float64(cb.currentRecovery) * mult)
	maxRecovery := time.Duration(cb.cfg.MaxRecoveryTimeoutS) * time.Second
	if maxRecovery > 0 && next > maxRecovery {
		next = maxRecovery
	}
	cb.currentRecovery = next

	nextFailureCap := cb.currentFailureCap + 1
	if cb.cfg.MaxFailureThreshold > 0 && nextFailureCap > cb.cfg.MaxFailureThreshold {
		nextFailureCap = cb.cfg.MaxFailureThreshold
	}
	cb.currentFailureCap = nextFailureCap
}

// Stats returns a consistent snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		State:     cb.state,
		Failures:  cb.failuresInARow,
		Opens:     cb.opens,
		Closes:    cb.closes,
		LastError: cb.lastErr,
		OpenedAt:  cb.openedAt,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
