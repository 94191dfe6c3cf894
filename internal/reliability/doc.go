// Package reliability guards calls to unreliable collaborators.
//
// The circuit breaker counts consecutive failures of a protected call. Once
// the threshold is reached the circuit opens and calls are refused without
// running until the timeout passes, after which a limited number of probe
// calls decide whether it closes again.
//
//	cb := NewCircuitBreaker(
//	    WithName("matcher"),
//	    WithFailureThreshold(3),
//	    WithTimeout(30 * time.Second),
//	)
//
//	err := cb.Execute(ctx, func() error {
//	    return matcher.Match(ctx, query)
//	})
package reliability
