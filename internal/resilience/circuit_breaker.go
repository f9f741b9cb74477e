// Package resilience implements the circuit breaker guarding the
// connector's outbound publish paths: the event bus's topic.Send and the
// dead-letter queue's Publish. Both cross a pub/sub boundary that can wedge,
// which is what consecutive-failure fast-failing protects against, not
// something a retry loop alone would catch.
package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/util"

	"github.com/buqixiaomi/socket/internal/telemetry"
)

// State represents the circuit breaker state.
type State int32

const (
	StateClosed   State = iota // Normal operation, tracking failures
	StateOpen                  // Failing fast, not calling the publish path
	StateHalfOpen              // Probing whether the publish path recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open and rejects
// a publish attempt without calling the guarded function.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configures a CircuitBreaker. Name identifies the publish path
// being guarded (e.g. "eventbus", "dlq-publish") for logging and metrics
// attribution.
type Settings struct {
	Name string

	// MaxFailures is the number of consecutive failed publishes before the
	// circuit opens and starts failing fast.
	MaxFailures int64

	// ResetTimeout is how long the circuit stays open before a probe
	// publish is let through in half-open state.
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the number of consecutive successful probe
	// publishes required before the circuit closes again.
	HalfOpenMaxRequests int64

	// OnStateChange, if set, is called synchronously on every transition,
	// in addition to the breaker's own telemetry and logging.
	OnStateChange func(name string, from, to State)
}

// DefaultSettings returns sensible defaults for guarding a publish path.
func DefaultSettings(name string) Settings {
	return Settings{
		Name:                name,
		MaxFailures:         5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

// CircuitBreaker wraps a publish call so that repeated failures against a
// wedged event bus or dead-letter queue fail fast instead of piling up
// goroutines waiting on a destination that isn't coming back soon.
type CircuitBreaker struct {
	settings Settings

	mu              sync.Mutex
	state           State
	failures        int64
	successes       int64
	lastStateChange time.Time

	totalRequests  atomic.Int64
	totalRejected  atomic.Int64
	totalSuccesses atomic.Int64
	totalFailures  atomic.Int64
}

// NewCircuitBreaker creates a new circuit breaker with the given settings.
func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	if settings.MaxFailures <= 0 {
		settings.MaxFailures = 5
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = 30 * time.Second
	}
	if settings.HalfOpenMaxRequests <= 0 {
		settings.HalfOpenMaxRequests = 3
	}

	return &CircuitBreaker{
		settings:        settings,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn, the publish attempt, through the circuit breaker.
// Returns ErrCircuitOpen without calling fn if the circuit is currently
// rejecting publishes. ctx is used only for rejection and state-transition
// telemetry/logging, not passed to fn, so the caller keeps control of
// whatever deadline it gives the publish call itself.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	cb.totalRequests.Add(1)

	if !cb.allowRequest() {
		cb.totalRejected.Add(1)
		telemetry.CircuitRejectedCounter.Add(ctx, 1)
		util.Log(ctx).WithField("breaker", cb.settings.Name).
			Debug("circuit breaker rejected publish while open")
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil {
		cb.recordFailure(ctx)
		return err
	}

	cb.recordSuccess(ctx)
	return nil
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// Name returns the publish path this breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}

// Metrics returns a snapshot of circuit breaker statistics, suitable for
// feeding a readiness checker that wants to know whether a guarded publish
// path is healthy rather than merely reachable.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	state := cb.currentState()
	failures := cb.failures
	cb.mu.Unlock()

	return CircuitBreakerMetrics{
		Name:                cb.settings.Name,
		State:               state,
		TotalRequests:       cb.totalRequests.Load(),
		TotalRejected:       cb.totalRejected.Load(),
		TotalSuccesses:      cb.totalSuccesses.Load(),
		TotalFailures:       cb.totalFailures.Load(),
		ConsecutiveFailures: failures,
	}
}

// CircuitBreakerMetrics contains circuit breaker statistics for one
// guarded publish path.
type CircuitBreakerMetrics struct {
	Name                string
	State               State
	TotalRequests       int64
	TotalRejected       int64
	TotalSuccesses      int64
	TotalFailures       int64
	ConsecutiveFailures int64
}

// currentState returns the effective state, accounting for timeout
// transitions. Must be called with cb.mu held. The timeout-triggered
// transition has no caller-supplied context to attribute telemetry to, so
// it uses a background one.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && time.Since(cb.lastStateChange) >= cb.settings.ResetTimeout {
		cb.setState(context.Background(), StateHalfOpen)
	}
	return cb.state
}

// allowRequest determines if a publish attempt should be let through.
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		return true
	case StateOpen:
		return false
	case StateHalfOpen:
		return cb.successes < cb.settings.HalfOpenMaxRequests
	default:
		return true
	}
}

// recordSuccess records a successful publish.
func (cb *CircuitBreaker) recordSuccess(ctx context.Context) {
	cb.totalSuccesses.Add(1)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.settings.HalfOpenMaxRequests {
			cb.setState(ctx, StateClosed)
		}
	}
}

// recordFailure records a failed publish.
func (cb *CircuitBreaker) recordFailure(ctx context.Context) {
	cb.totalFailures.Add(1)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.settings.MaxFailures {
			cb.setState(ctx, StateOpen)
		}
	case StateHalfOpen:
		// Any failed probe while half-open reopens the circuit.
		cb.setState(ctx, StateOpen)
	}
}

// setState transitions to a new state, recording the open-state telemetry
// and log line a guarded publish path is built around. Must be called with
// cb.mu held.
func (cb *CircuitBreaker) setState(ctx context.Context, newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.failures = 0
	cb.successes = 0
	cb.lastStateChange = time.Now()

	if newState == StateOpen {
		telemetry.CircuitOpenedCounter.Add(ctx, 1)
		util.Log(ctx).WithField("breaker", cb.settings.Name).
			WithField("from", oldState.String()).
			Warn("circuit breaker opened, failing fast on this publish path")
	}

	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, oldState, newState)
	}
}
