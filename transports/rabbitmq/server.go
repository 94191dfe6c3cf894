package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/internal/rabbitmq"
	"github.com/glimte/mandate-go/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Server consumes agent request queues and publishes replies
type Server struct {
	manager        *rabbitmq.ConnectionManager
	ch             *amqp.Channel
	serializer     *messaging.JSONSerializer
	logger         *slog.Logger
	prefetch       int
	handlerTimeout time.Duration

	mu     sync.Mutex
	agents map[string]string
	pubMu  sync.Mutex
	wg     sync.WaitGroup
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithPrefetch limits unacknowledged requests per agent
func WithPrefetch(n int) ServerOption {
	return func(s *Server) {
		s.prefetch = n
	}
}

// WithHandlerTimeout bounds one request
func WithHandlerTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.handlerTimeout = d
	}
}

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer opens a channel on manager for serving agents
func NewServer(manager *rabbitmq.ConnectionManager, opts ...ServerOption) (*Server, error) {
	s := &Server{
		manager:        manager,
		serializer:     messaging.NewJSONSerializer(),
		logger:         slog.Default(),
		prefetch:       10,
		handlerTimeout: 30 * time.Second,
		agents:         make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	ch, err := manager.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, &rabbitmq.ChannelError{Op: "qos", Err: err}
	}
	s.ch = ch
	return s, nil
}

// Register declares the agent's queue and starts consuming it
func (s *Server) Register(agent string, handler messaging.Handler) error {
	if agent == "" || handler == nil {
		return fmt.Errorf("agent name and handler are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[agent]; exists {
		return fmt.Errorf("agent %s already registered", agent)
	}

	queue := QueueName(agent)
	if _, err := s.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return &rabbitmq.ChannelError{Op: "declare " + queue, Err: err}
	}
	tag := "mandate-" + agent
	deliveries, err := s.ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return &rabbitmq.ChannelError{Op: "consume " + queue, Err: err}
	}
	s.agents[agent] = tag

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for d := range deliveries {
			s.handle(agent, handler, d)
		}
	}()

	s.logger.Info("serving agent over rabbitmq", "agent", agent, "queue", queue)
	return nil
}

func (s *Server) handle(agent string, handler messaging.Handler, d amqp.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), s.handlerTimeout)
	defer cancel()

	var reply *contracts.Message
	msg, err := s.serializer.Deserialize(d.Body)
	if err != nil {
		err = contracts.Validation(agent, "%v", err)
	} else {
		reply, err = handler.HandleMessage(ctx, msg)
	}

	if d.ReplyTo != "" {
		pub, encErr := encodeReply(s.serializer, msg, d.CorrelationId, reply, err)
		if encErr != nil {
			pub, _ = encodeReply(s.serializer, msg, d.CorrelationId, nil, encErr)
		}
		s.pubMu.Lock()
		pubErr := s.ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, pub)
		s.pubMu.Unlock()
		if pubErr != nil {
			s.logger.Error("failed to publish reply",
				"agent", agent,
				"correlationId", d.CorrelationId,
				"error", pubErr)
		}
	}

	if ackErr := d.Ack(false); ackErr != nil {
		s.logger.Error("failed to ack request", "agent", agent, "error", ackErr)
	}
}

// Agents returns the registered agent names
func (s *Server) Agents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.agents))
	for name := range s.agents {
		names = append(names, name)
	}
	return names
}

// Ping implements health.Pinger
func (s *Server) Ping(ctx context.Context) error {
	return s.manager.Ping(ctx)
}

// Close stops consuming and waits for in-flight requests
func (s *Server) Close() error {
	s.mu.Lock()
	for _, tag := range s.agents {
		_ = s.ch.Cancel(tag, false)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return s.ch.Close()
}
