// Package interceptors wraps agent handlers with cross-cutting concerns.
//
// An InterceptorChain belongs to one agent. Every request runs through the
// interceptors in the order they were added before reaching the agent:
//
//	chain := interceptors.NewDefaultInterceptorChainBuilder(merchant.AgentName, logger).
//		WithRecovery().
//		WithLogging().
//		WithMetrics(metrics).
//		WithFilter(interceptors.RequireContext()).
//		WithTimeout(10 * time.Second).
//		Build()
//
//	handler := chain.Wrap(merchantAgent)
//
// Built-in interceptors:
//   - RecoveryInterceptor: turns a handler panic into an internal error
//   - LoggingInterceptor: logs each request with its duration and error code
//   - MetricsInterceptor: counts requests and errors per agent
//   - FilteringInterceptor: rejects envelopes a MessageFilter refuses
//   - TimeoutInterceptor: bounds handler run time
//   - CircuitBreakerInterceptor: stops calling an agent that keeps failing
package interceptors
