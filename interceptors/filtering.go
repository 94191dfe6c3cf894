package interceptors

import (
	"context"
	"fmt"

	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/messaging"
)

// MessageFilter decides whether a request reaches the agent
type MessageFilter interface {
	// ShouldProcess returns true if the message should be processed
	ShouldProcess(ctx context.Context, msg *contracts.Message) (bool, error)
}

// MessageFilterFunc is a function adapter for MessageFilter
type MessageFilterFunc func(ctx context.Context, msg *contracts.Message) (bool, error)

// ShouldProcess implements MessageFilter
func (f MessageFilterFunc) ShouldProcess(ctx context.Context, msg *contracts.Message) (bool, error) {
	return f(ctx, msg)
}

// FilteringInterceptor rejects requests a filter refuses with a
// ValidationError
type FilteringInterceptor struct {
	filter MessageFilter
}

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter MessageFilter) *FilteringInterceptor {
	return &FilteringInterceptor{filter: filter}
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(ctx context.Context, msg *contracts.Message, next messaging.Handler) (*contracts.Message, error) {
	shouldProcess, err := i.filter.ShouldProcess(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("filter error: %w", err)
	}
	if !shouldProcess {
		return nil, contracts.Validation(AgentFromContext(ctx), "message %s was filtered", msg.GetID())
	}
	return next.HandleMessage(ctx, msg)
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// RequireContext refuses envelopes that carry no context id. Peers only
// ever answer inside a session the orchestrator opened.
func RequireContext() MessageFilter {
	return MessageFilterFunc(func(_ context.Context, msg *contracts.Message) (bool, error) {
		return msg.GetContextID() != "", nil
	})
}

// RequireParts refuses envelopes with no parts
func RequireParts() MessageFilter {
	return MessageFilterFunc(func(_ context.Context, msg *contracts.Message) (bool, error) {
		return len(msg.Parts) > 0, nil
	})
}

// AllOf accepts a message only when every filter does
func AllOf(filters ...MessageFilter) MessageFilter {
	return MessageFilterFunc(func(ctx context.Context, msg *contracts.Message) (bool, error) {
		for _, f := range filters {
			ok, err := f.ShouldProcess(ctx, msg)
			if err != nil || !ok {
				return ok, err
			}
		}
		return true, nil
	})
}
