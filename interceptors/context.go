package interceptors

import (
	"context"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	// agentContextKey holds the name of the agent handling the request
	agentContextKey contextKey = "mandate:interceptor:agent"
)

// WithAgent returns a context carrying the handling agent's name
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, agentContextKey, agent)
}

// AgentFromContext returns the agent name set by the chain, if any
func AgentFromContext(ctx context.Context) string {
	if agent, ok := ctx.Value(agentContextKey).(string); ok {
		return agent
	}
	return ""
}
