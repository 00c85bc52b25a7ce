// Package breaker implements a three-state circuit breaker guarding
// connection attempts on the outbound execution channel. All state lives in
// atomics so the hot path never takes a lock.
package breaker

import (
	"sync/atomic"
	"time"

	"agentflow/pkg/logx"
	"agentflow/pkg/metrics"
)

// State is the breaker's connection-gating state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds the breaker thresholds.
type Config struct {
	FailureThreshold         int
	CooldownPeriod           time.Duration
	HalfOpenSuccessThreshold int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:         5,
		CooldownPeriod:           5 * time.Minute,
		HalfOpenSuccessThreshold: 2,
	}
}

// CircuitBreaker guards a single outbound channel. Callers must consult
// ShouldAttemptConnection before every attempt and report the outcome with
// RecordSuccess or RecordFailure. State is in-memory only; a process restart
// resets an OPEN breaker to CLOSED.
type CircuitBreaker struct {
	logger  *logx.Logger
	config  Config
	metrics *metrics.Recorder

	state             atomic.Int32
	failures          atomic.Int32
	halfOpenSuccesses atomic.Int32
	lastFailureNanos  atomic.Int64
}

// New creates a breaker in the CLOSED state. recorder may be nil.
func New(config Config, recorder *metrics.Recorder) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.CooldownPeriod <= 0 {
		config.CooldownPeriod = DefaultConfig().CooldownPeriod
	}
	if config.HalfOpenSuccessThreshold <= 0 {
		config.HalfOpenSuccessThreshold = DefaultConfig().HalfOpenSuccessThreshold
	}
	return &CircuitBreaker{
		logger:  logx.NewLogger("breaker"),
		config:  config,
		metrics: recorder,
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

// ShouldAttemptConnection is the sole gate callers consult before a
// connection attempt. While OPEN, it flips to HALF_OPEN on the first check
// after the cooldown has elapsed; there is no background timer.
func (cb *CircuitBreaker) ShouldAttemptConnection() bool {
	switch State(cb.state.Load()) {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		elapsed := time.Since(time.Unix(0, cb.lastFailureNanos.Load()))
		if elapsed < cb.config.CooldownPeriod {
			return false
		}
		// Cooldown elapsed: only one checker wins the CAS and performs the
		// transition; the rest observe HALF_OPEN and are allowed through.
		if cb.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
			cb.halfOpenSuccesses.Store(0)
			cb.transitionedTo(StateHalfOpen)
		}
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful connection attempt.
func (cb *CircuitBreaker) RecordSuccess() {
	switch State(cb.state.Load()) {
	case StateClosed:
		cb.failures.Store(0)
	case StateHalfOpen:
		successes := cb.halfOpenSuccesses.Add(1)
		if int(successes) >= cb.config.HalfOpenSuccessThreshold {
			if cb.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
				cb.failures.Store(0)
				cb.halfOpenSuccesses.Store(0)
				cb.transitionedTo(StateClosed)
			}
		}
	case StateOpen:
		// A success while OPEN means the caller bypassed the gate; ignore it.
	}
}

// RecordFailure reports a failed connection attempt.
func (cb *CircuitBreaker) RecordFailure() {
	cb.lastFailureNanos.Store(time.Now().UnixNano())

	switch State(cb.state.Load()) {
	case StateClosed:
		failures := cb.failures.Add(1)
		if int(failures) >= cb.config.FailureThreshold {
			if cb.state.CompareAndSwap(int32(StateClosed), int32(StateOpen)) {
				cb.transitionedTo(StateOpen)
			}
		}
	case StateHalfOpen:
		// A single failure while half-open reopens immediately.
		if cb.state.CompareAndSwap(int32(StateHalfOpen), int32(StateOpen)) {
			cb.halfOpenSuccesses.Store(0)
			cb.transitionedTo(StateOpen)
		}
	case StateOpen:
		// Already open; the refreshed failure timestamp extends the cooldown.
	}
}

// ConsecutiveFailures returns the current failure counter.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	return int(cb.failures.Load())
}

func (cb *CircuitBreaker) transitionedTo(state State) {
	cb.logger.Info("Circuit breaker -> %s", state)
	cb.metrics.SetBreakerState(int(state))
	cb.metrics.IncBreakerTransition(state.String())
}
