package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/glimte/mandate-go/contracts"
)

// Handler processes one incoming envelope and returns the reply envelope.
// Errors are returned synchronously; bindings turn them into error replies.
type Handler interface {
	HandleMessage(ctx context.Context, msg *contracts.Message) (*contracts.Message, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, msg *contracts.Message) (*contracts.Message, error)

// HandleMessage implements Handler
func (f HandlerFunc) HandleMessage(ctx context.Context, msg *contracts.Message) (*contracts.Message, error) {
	return f(ctx, msg)
}

// Transport delivers a request envelope to a named agent and returns its reply
type Transport interface {
	// Send delivers msg to agent and waits for the reply
	Send(ctx context.Context, agent string, msg *contracts.Message) (*contracts.Message, error)

	// Close releases transport resources
	Close() error
}

// InProcessTransport routes envelopes to handlers registered in the same
// process. Requests and replies pass through the JSON serializer so handlers
// see exactly what a network binding would deliver.
type InProcessTransport struct {
	handlers   map[string]Handler
	serializer *JSONSerializer
	logger     *slog.Logger
	mu         sync.RWMutex
}

// InProcessOption configures the in-process transport
type InProcessOption func(*InProcessTransport)

// WithTransportLogger sets the logger
func WithTransportLogger(logger *slog.Logger) InProcessOption {
	return func(t *InProcessTransport) {
		t.logger = logger
	}
}

// NewInProcessTransport creates an empty in-process transport
func NewInProcessTransport(opts ...InProcessOption) *InProcessTransport {
	t := &InProcessTransport{
		handlers:   make(map[string]Handler),
		serializer: NewJSONSerializer(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register binds a handler to an agent name
func (t *InProcessTransport) Register(agent string, handler Handler) error {
	if agent == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.handlers[agent]; exists {
		return fmt.Errorf("agent %s already registered", agent)
	}
	t.handlers[agent] = handler

	t.logger.Info("registered agent handler", "agent", agent)
	return nil
}

// Agents returns the registered agent names in sorted order
func (t *InProcessTransport) Agents() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send implements Transport
func (t *InProcessTransport) Send(ctx context.Context, agent string, msg *contracts.Message) (*contracts.Message, error) {
	t.mu.RLock()
	handler, exists := t.handlers[agent]
	t.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("no handler registered for agent %s", agent)
	}

	request, err := t.roundTrip(msg)
	if err != nil {
		return nil, err
	}

	reply, err := handler.HandleMessage(ctx, request)
	if err != nil {
		return nil, err
	}

	return t.roundTrip(reply)
}

// Close implements Transport
func (t *InProcessTransport) Close() error {
	return nil
}

func (t *InProcessTransport) roundTrip(msg *contracts.Message) (*contracts.Message, error) {
	data, err := t.serializer.Serialize(msg)
	if err != nil {
		return nil, err
	}
	return t.serializer.Deserialize(data)
}
