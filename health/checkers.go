package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/glimte/mandate-go/internal/reliability"
)

// Pinger is anything that can prove it is reachable: the audit ledger or a
// broker connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports unhealthy when its target cannot be pinged
type PingChecker struct {
	name   string
	target Pinger
}

// NewPingChecker creates a checker called name pinging target
func NewPingChecker(name string, target Pinger) *PingChecker {
	return &PingChecker{name: name, target: target}
}

func (c *PingChecker) Name() string {
	return c.name
}

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	if err := c.target.Ping(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("%s is not reachable", c.name)
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("%s is reachable", c.name)
	}

	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// BreakerChecker reports degraded while a circuit breaker is not closed.
// The protected call has a fallback, so an open circuit is never fatal.
type BreakerChecker struct {
	breaker *reliability.CircuitBreaker
	name    string
}

// NewBreakerChecker creates a checker for breaker
func NewBreakerChecker(name string, breaker *reliability.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{name: name, breaker: breaker}
}

func (c *BreakerChecker) Name() string {
	return c.name
}

func (c *BreakerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	metrics := c.breaker.GetMetrics()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]any{
			"state":          metrics.State.String(),
			"total_failures": metrics.TotalFailures,
			"total_requests": metrics.TotalRequests,
		},
	}

	switch c.breaker.GetState() {
	case reliability.StateClosed:
		result.Status = StatusHealthy
		result.Message = "circuit closed"
	default:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("circuit %s, using fallback", c.breaker.GetState())
	}
	result.Duration = time.Since(start)
	return result
}

// GoroutineChecker flags runaway goroutine counts
type GoroutineChecker struct {
	warning  int
	critical int
}

// NewGoroutineChecker creates a checker with the given thresholds
func NewGoroutineChecker(warning, critical int) *GoroutineChecker {
	return &GoroutineChecker{warning: warning, critical: critical}
}

func (c *GoroutineChecker) Name() string {
	return "goroutines"
}

func (c *GoroutineChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	goroutines := runtime.NumGoroutine()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]any{
			"goroutines":     goroutines,
			"memory_used_mb": float64(m.Sys) / 1024 / 1024,
			"gc_runs":        m.NumGC,
		},
	}

	switch {
	case goroutines > c.critical:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("too many goroutines: %d", goroutines)
	case goroutines > c.warning:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("high goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "goroutine count is normal"
	}

	result.Duration = time.Since(start)
	return result
}
