package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/internal/reliability"
	"github.com/glimte/mandate-go/messaging"
)

// Interceptor wraps the handling of one agent request
type Interceptor interface {
	// Intercept processes a request and calls the next handler in the chain
	Intercept(ctx context.Context, msg *contracts.Message, next messaging.Handler) (*contracts.Message, error)

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, msg *contracts.Message, next messaging.Handler) (*contracts.Message, error)
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, msg *contracts.Message, next messaging.Handler) (*contracts.Message, error)) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, msg *contracts.Message, next messaging.Handler) (*contracts.Message, error) {
	return i.fn(ctx, msg, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// InterceptorChain manages a chain of interceptors around one agent
type InterceptorChain struct {
	agent        string
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewInterceptorChain creates a new interceptor chain for agent
func NewInterceptorChain(agent string, logger *slog.Logger) *InterceptorChain {
	if logger == nil {
		logger = slog.Default()
	}

	return &InterceptorChain{
		agent:        agent,
		interceptors: make([]Interceptor, 0),
		logger:       logger,
	}
}

// Add adds an interceptor to the chain
func (c *InterceptorChain) Add(interceptor Interceptor) *InterceptorChain {
	c.interceptors = append(c.interceptors, interceptor)
	return c
}

// Names returns the interceptor names in execution order
func (c *InterceptorChain) Names() []string {
	names := make([]string, len(c.interceptors))
	for i, ic := range c.interceptors {
		names[i] = ic.Name()
	}
	return names
}

// Execute runs msg through the chain and into finalHandler
func (c *InterceptorChain) Execute(ctx context.Context, msg *contracts.Message, finalHandler messaging.Handler) (*contracts.Message, error) {
	ctx = WithAgent(ctx, c.agent)
	if len(c.interceptors) == 0 {
		return finalHandler.HandleMessage(ctx, msg)
	}

	// Build the chain in reverse order
	handler := finalHandler
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		currentHandler := handler
		handler = messaging.HandlerFunc(func(ctx context.Context, msg *contracts.Message) (*contracts.Message, error) {
			return interceptor.Intercept(ctx, msg, currentHandler)
		})
	}

	return handler.HandleMessage(ctx, msg)
}

// Wrap returns a handler that runs every request through the chain
func (c *InterceptorChain) Wrap(handler messaging.Handler) messaging.Handler {
	return messaging.HandlerFunc(func(ctx context.Context, msg *contracts.Message) (*contracts.Message, error) {
		return c.Execute(ctx, msg, handler)
	})
}

// Built-in interceptors

// LoggingInterceptor logs request handling
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, msg *contracts.Message, next messaging.Handler) (*contracts.Message, error) {
	start := time.Now()
	agent := AgentFromContext(ctx)

	i.logger.Debug("handling request",
		"agent", agent,
		"messageId", msg.GetID(),
		"contextId", msg.GetContextID(),
	)

	reply, err := next.HandleMessage(ctx, msg)
	duration := time.Since(start)

	if err != nil {
		i.logger.Warn("request failed",
			"agent", agent,
			"messageId", msg.GetID(),
			"contextId", msg.GetContextID(),
			"code", contracts.ErrorCode(err),
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Info("request handled",
			"agent", agent,
			"messageId", msg.GetID(),
			"contextId", msg.GetContextID(),
			"duration", duration,
		)
	}

	return reply, err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// MetricsInterceptor collects metrics about request handling
type MetricsInterceptor struct {
	collector MetricsCollector
}

// MetricsCollector defines the interface for collecting metrics
type MetricsCollector interface {
	IncrementRequestCount(agent string)
	RecordProcessingTime(agent string, duration time.Duration)
	IncrementErrorCount(agent string, code string)
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// Intercept implements Interceptor
func (i *MetricsInterceptor) Intercept(ctx context.Context, msg *contracts.Message, next messaging.Handler) (*contracts.Message, error) {
	start := time.Now()
	agent := AgentFromContext(ctx)

	i.collector.IncrementRequestCount(agent)

	reply, err := next.HandleMessage(ctx, msg)
	i.collector.RecordProcessingTime(agent, time.Since(start))

	if err != nil {
		i.collector.IncrementErrorCount(agent, contracts.ErrorCode(err))
	}

	return reply, err
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}

// RecoveryInterceptor turns a handler panic into an internal error
type RecoveryInterceptor struct {
	logger *slog.Logger
}

// NewRecoveryInterceptor creates a new recovery interceptor
func NewRecoveryInterceptor(logger *slog.Logger) *RecoveryInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *RecoveryInterceptor) Intercept(ctx context.Context, msg *contracts.Message, next messaging.Handler) (reply *contracts.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("handler panic",
				"agent", AgentFromContext(ctx),
				"messageId", msg.GetID(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			reply = nil
			err = &contracts.MandateError{
				Kind:   contracts.ErrInternal,
				Op:     AgentFromContext(ctx),
				Detail: fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	return next.HandleMessage(ctx, msg)
}

// Name implements Interceptor
func (i *RecoveryInterceptor) Name() string {
	return "RecoveryInterceptor"
}

// TimeoutInterceptor bounds how long a handler may run
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

type handled struct {
	reply *contracts.Message
	err   error
}

// Intercept implements Interceptor
func (i *TimeoutInterceptor) Intercept(ctx context.Context, msg *contracts.Message, next messaging.Handler) (*contracts.Message, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	done := make(chan handled, 1)
	go func() {
		reply, err := next.HandleMessage(timeoutCtx, msg)
		done <- handled{reply: reply, err: err}
	}()

	select {
	case h := <-done:
		return h.reply, h.err
	case <-timeoutCtx.Done():
		return nil, fmt.Errorf("request processing timeout after %v for message %s: %w", i.timeout, msg.GetID(), timeoutCtx.Err())
	}
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}

// CircuitBreakerInterceptor stops calling a failing handler. Protocol
// rejections such as unauthorized callers do not count as failures.
type CircuitBreakerInterceptor struct {
	breaker *reliability.CircuitBreaker
}

// NewCircuitBreakerInterceptor creates a new circuit breaker interceptor
func NewCircuitBreakerInterceptor(breaker *reliability.CircuitBreaker) *CircuitBreakerInterceptor {
	return &CircuitBreakerInterceptor{breaker: breaker}
}

// Intercept implements Interceptor
func (i *CircuitBreakerInterceptor) Intercept(ctx context.Context, msg *contracts.Message, next messaging.Handler) (*contracts.Message, error) {
	var (
		reply    *contracts.Message
		protocol error
	)
	err := i.breaker.Execute(ctx, func() error {
		var err error
		reply, err = next.HandleMessage(ctx, msg)
		if err != nil && contracts.ErrorCode(err) != contracts.CodeInternal {
			protocol = err
			return nil
		}
		return err
	})
	if protocol != nil {
		return nil, protocol
	}
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Name implements Interceptor
func (i *CircuitBreakerInterceptor) Name() string {
	return "CircuitBreakerInterceptor"
}

// Default interceptor chain builder

// DefaultInterceptorChainBuilder builds a common interceptor chain
type DefaultInterceptorChainBuilder struct {
	chain  *InterceptorChain
	logger *slog.Logger
}

// NewDefaultInterceptorChainBuilder creates a new builder for agent
func NewDefaultInterceptorChainBuilder(agent string, logger *slog.Logger) *DefaultInterceptorChainBuilder {
	if logger == nil {
		logger = slog.Default()
	}

	return &DefaultInterceptorChainBuilder{
		chain:  NewInterceptorChain(agent, logger),
		logger: logger,
	}
}

// WithRecovery adds recovery interceptor
func (b *DefaultInterceptorChainBuilder) WithRecovery() *DefaultInterceptorChainBuilder {
	b.chain.Add(NewRecoveryInterceptor(b.logger))
	return b
}

// WithLogging adds logging interceptor
func (b *DefaultInterceptorChainBuilder) WithLogging() *DefaultInterceptorChainBuilder {
	b.chain.Add(NewLoggingInterceptor(b.logger))
	return b
}

// WithMetrics adds metrics interceptor
func (b *DefaultInterceptorChainBuilder) WithMetrics(collector MetricsCollector) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewMetricsInterceptor(collector))
	return b
}

// WithFilter adds a filtering interceptor
func (b *DefaultInterceptorChainBuilder) WithFilter(filter MessageFilter) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewFilteringInterceptor(filter))
	return b
}

// WithTimeout adds timeout interceptor
func (b *DefaultInterceptorChainBuilder) WithTimeout(timeout time.Duration) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewTimeoutInterceptor(timeout))
	return b
}

// WithCircuitBreaker adds circuit breaker interceptor
func (b *DefaultInterceptorChainBuilder) WithCircuitBreaker(breaker *reliability.CircuitBreaker) *DefaultInterceptorChainBuilder {
	b.chain.Add(NewCircuitBreakerInterceptor(breaker))
	return b
}

// WithCustom adds a custom interceptor
func (b *DefaultInterceptorChainBuilder) WithCustom(interceptor Interceptor) *DefaultInterceptorChainBuilder {
	b.chain.Add(interceptor)
	return b
}

// Build returns the built interceptor chain
func (b *DefaultInterceptorChainBuilder) Build() *InterceptorChain {
	return b.chain
}
