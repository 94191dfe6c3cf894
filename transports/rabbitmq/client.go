// Package rabbitmq carries agent envelopes over RabbitMQ as RPC: requests
// go to the agents.<name> queue and replies come back on the broker's
// direct reply-to queue, matched by correlation id.
package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/internal/rabbitmq"
	"github.com/glimte/mandate-go/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrClosed is returned by Send after Close
var ErrClosed = errors.New("rabbitmq transport closed")

type result struct {
	msg *contracts.Message
	err error
}

// Client implements messaging.Transport over a broker connection
type Client struct {
	manager    *rabbitmq.ConnectionManager
	ch         *amqp.Channel
	serializer *messaging.JSONSerializer
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]chan result

	pubMu     sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithClientLogger sets the logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient opens a channel on manager and starts listening for replies
func NewClient(manager *rabbitmq.ConnectionManager, opts ...ClientOption) (*Client, error) {
	c := &Client{
		manager:    manager,
		serializer: messaging.NewJSONSerializer(),
		logger:     slog.Default(),
		pending:    make(map[string]chan result),
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	ch, err := manager.Channel()
	if err != nil {
		return nil, err
	}
	replies, err := ch.Consume(ReplyQueue, "", true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, &rabbitmq.ChannelError{Op: "consume replies", Err: err}
	}
	returns := ch.NotifyReturn(make(chan amqp.Return, 16))
	c.ch = ch

	go c.dispatch(replies)
	go c.unroutable(returns)
	return c, nil
}

func (c *Client) dispatch(replies <-chan amqp.Delivery) {
	for d := range replies {
		msg, err := decodeReply(c.serializer, d)
		if !c.complete(d.CorrelationId, result{msg: msg, err: err}) {
			c.logger.Warn("dropping reply with no waiting request", "correlationId", d.CorrelationId)
		}
	}
}

// unroutable fails requests the broker could not route to any agent queue
func (c *Client) unroutable(returns <-chan amqp.Return) {
	for r := range returns {
		err := contracts.Validation("send", "no agent consumes %s", r.RoutingKey)
		c.complete(r.CorrelationId, result{err: err})
	}
}

func (c *Client) complete(correlationID string, res result) bool {
	c.mu.Lock()
	waiter, ok := c.pending[correlationID]
	delete(c.pending, correlationID)
	c.mu.Unlock()
	if ok {
		waiter <- res
	}
	return ok
}

// Send implements messaging.Transport
func (c *Client) Send(ctx context.Context, agent string, msg *contracts.Message) (*contracts.Message, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}

	deadline, _ := ctx.Deadline()
	pub, err := encodeRequest(c.serializer, msg, deadline)
	if err != nil {
		return nil, err
	}

	waiter := make(chan result, 1)
	c.mu.Lock()
	c.pending[pub.CorrelationId] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, pub.CorrelationId)
		c.mu.Unlock()
	}()

	c.pubMu.Lock()
	err = c.ch.PublishWithContext(ctx, "", QueueName(agent), true, false, pub)
	c.pubMu.Unlock()
	if err != nil {
		return nil, &rabbitmq.ChannelError{Op: "publish", Err: err}
	}

	c.logger.Debug("request published",
		"agent", agent,
		"messageId", msg.MessageID,
		"contextId", msg.ContextID)

	select {
	case res := <-waiter:
		return res.msg, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	}
}

// Ping implements health.Pinger
func (c *Client) Ping(ctx context.Context) error {
	return c.manager.Ping(ctx)
}

// Close implements messaging.Transport. The connection manager stays open.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ch.Close()
	})
	return err
}
