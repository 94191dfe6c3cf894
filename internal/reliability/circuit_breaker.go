package reliability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// StateChangeListener receives circuit breaker state change notifications
type StateChangeListener interface {
	OnStateChange(name string, from, to State, reason string)
}

// StateChangeFunc adapts a function to StateChangeListener
type StateChangeFunc func(name string, from, to State, reason string)

func (f StateChangeFunc) OnStateChange(name string, from, to State, reason string) {
	f(name, from, to, reason)
}

// LogListener logs every state change
func LogListener(logger *slog.Logger) StateChangeListener {
	return StateChangeFunc(func(name string, from, to State, reason string) {
		logger.Warn("circuit breaker state changed",
			"breaker", name,
			"from", from.String(),
			"to", to.String(),
			"reason", reason)
	})
}

type transition struct {
	from, to State
	reason   string
}

// CircuitBreaker guards calls to an unreliable collaborator
type CircuitBreaker struct {
	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	totalRequests   int64
	totalFailures   int64
	totalSuccesses  int64
	currentHalfOpen int

	failureThreshold int
	successThreshold int
	timeout          time.Duration
	halfOpenRequests int
	name             string
	now              func() time.Time
	isFailure        func(error) bool

	listeners []StateChangeListener
}

// CircuitBreakerOption configures the circuit breaker
type CircuitBreakerOption func(*CircuitBreaker)

// WithFailureThreshold sets the failure threshold
func WithFailureThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = threshold
	}
}

// WithSuccessThreshold sets the success threshold for half-open state
func WithSuccessThreshold(threshold int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.successThreshold = threshold
	}
}

// WithTimeout sets how long the circuit stays open
func WithTimeout(timeout time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.timeout = timeout
	}
}

// WithHalfOpenRequests sets the max requests in half-open state
func WithHalfOpenRequests(requests int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.halfOpenRequests = requests
	}
}

// WithName sets the circuit breaker name for identification
func WithName(name string) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.name = name
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// WithFailurePredicate decides which errors count against the circuit.
// By default every error except caller cancellation counts.
func WithFailurePredicate(fn func(error) bool) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.isFailure = fn
	}
}

// WithListener registers a state change listener
func WithListener(listener StateChangeListener) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.listeners = append(cb.listeners, listener)
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(options ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 3,
		timeout:          30 * time.Second,
		halfOpenRequests: 3,
		name:             "default",
		now:              time.Now,
		isFailure:        countsAsFailure,
	}

	for _, opt := range options {
		opt(cb)
	}

	return cb
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Execute runs fn with circuit breaker protection. A rejected call returns
// a *CircuitBreakerError without running fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	changed, err := cb.beforeCall()
	cb.notify(changed)
	if err != nil {
		return err
	}

	err = fn()
	cb.notify(cb.afterCall(err))
	return err
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() (failures, successes int, lastFailure time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.successes, cb.lastFailureTime
}

// Reset closes the circuit and clears counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	prev := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.currentHalfOpen = 0
	cb.mu.Unlock()

	if prev != StateClosed {
		cb.notify(&transition{from: prev, to: StateClosed, reason: "reset"})
	}
}

func (cb *CircuitBreaker) beforeCall() (*transition, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateClosed:
		return nil, nil

	case StateOpen:
		nextRetry := cb.lastFailureTime.Add(cb.timeout)
		if !cb.now().Before(nextRetry) {
			cb.state = StateHalfOpen
			cb.currentHalfOpen = 1
			cb.successes = 0
			return &transition{from: StateOpen, to: StateHalfOpen, reason: "timeout expired"}, nil
		}
		return nil, cb.rejection(nextRetry)

	case StateHalfOpen:
		if cb.currentHalfOpen >= cb.halfOpenRequests {
			return nil, cb.rejection(cb.now().Add(time.Second))
		}
		cb.currentHalfOpen++
		return nil, nil

	default:
		return nil, ErrUnknownState
	}
}

func (cb *CircuitBreaker) rejection(nextRetry time.Time) *CircuitBreakerError {
	return &CircuitBreakerError{
		Name:             cb.name,
		State:            cb.state,
		Op:               "execute",
		Failures:         cb.failures,
		FailureThreshold: cb.failureThreshold,
		LastFailure:      cb.lastFailureTime,
		NextRetry:        nextRetry,
	}
}

func (cb *CircuitBreaker) afterCall(err error) *transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil && cb.isFailure(err) {
		cb.failures++
		cb.totalFailures++
		cb.lastFailureTime = cb.now()

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.failureThreshold {
				cb.state = StateOpen
				return &transition{from: StateClosed, to: StateOpen,
					reason: fmt.Sprintf("failure threshold reached (%d/%d)", cb.failures, cb.failureThreshold)}
			}
		case StateHalfOpen:
			cb.state = StateOpen
			cb.currentHalfOpen = 0
			cb.successes = 0
			return &transition{from: StateHalfOpen, to: StateOpen, reason: "failure in half-open state"}
		}
		return nil
	}
	if err != nil {
		return nil
	}

	cb.successes++
	cb.totalSuccesses++

	switch cb.state {
	case StateHalfOpen:
		if cb.successes >= cb.successThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.currentHalfOpen = 0
			return &transition{from: StateHalfOpen, to: StateClosed,
				reason: fmt.Sprintf("success threshold reached (%d/%d)", cb.successes, cb.successThreshold)}
		}
	case StateClosed:
		cb.failures = 0
	}
	return nil
}

// notify runs listeners outside the lock
func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}
	cb.mu.Lock()
	listeners := append([]StateChangeListener(nil), cb.listeners...)
	cb.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(cb.name, t.from, t.to, t.reason)
	}
}

// GetMetrics returns circuit breaker metrics
func (cb *CircuitBreaker) GetMetrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		Name:             cb.name,
		State:            cb.state,
		TotalRequests:    cb.totalRequests,
		TotalFailures:    cb.totalFailures,
		TotalSuccesses:   cb.totalSuccesses,
		CurrentFailures:  cb.failures,
		CurrentSuccesses: cb.successes,
		LastFailureTime:  cb.lastFailureTime,
		Timestamp:        cb.now(),
	}
}

// CircuitBreakerMetrics represents circuit breaker metrics
type CircuitBreakerMetrics struct {
	Name             string
	State            State
	TotalRequests    int64
	TotalFailures    int64
	TotalSuccesses   int64
	CurrentFailures  int
	CurrentSuccesses int
	LastFailureTime  time.Time
	Timestamp        time.Time
}
