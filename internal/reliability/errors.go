package reliability

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCircuitOpen          = errors.New("circuit breaker: circuit is open")
	ErrCircuitHalfOpenLimit = errors.New("circuit breaker: half-open request limit reached")
	ErrUnknownState         = errors.New("circuit breaker: unknown state")
)

// CircuitBreakerError is returned when the breaker refuses a call
type CircuitBreakerError struct {
	Name             string
	State            State
	Op               string
	Failures         int
	FailureThreshold int
	LastFailure      time.Time
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	switch e.State {
	case StateOpen:
		return fmt.Sprintf("circuit breaker %s open: %s blocked (failures=%d/%d, retry after %s)",
			e.Name, e.Op, e.Failures, e.FailureThreshold, e.NextRetry.Format(time.RFC3339))
	case StateHalfOpen:
		return fmt.Sprintf("circuit breaker %s half-open: %s limited", e.Name, e.Op)
	default:
		return fmt.Sprintf("circuit breaker %s error: %s in state %v", e.Name, e.Op, e.State)
	}
}

func (e *CircuitBreakerError) Unwrap() error {
	if e.State == StateHalfOpen {
		return ErrCircuitHalfOpenLimit
	}
	return ErrCircuitOpen
}

// IsRejected reports whether err came from the breaker refusing a call
func IsRejected(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
