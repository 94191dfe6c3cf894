package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mandate-go/contracts"
)

// RequestStatus represents the status of a request
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusSent      RequestStatus = "sent"
	RequestStatusFailed    RequestStatus = "failed"
	RequestStatusCompleted RequestStatus = "completed"
)

// TrackedRequest represents an outstanding request to a peer agent
type TrackedRequest struct {
	MessageID string
	ContextID string
	Agent     string
	Status    RequestStatus
	SentAt    time.Time
}

// RequestTracker tracks outstanding requests. At most one request per
// context id may be outstanding at a time.
type RequestTracker interface {
	Begin(request *TrackedRequest) error
	UpdateStatus(messageID string, status RequestStatus) error
	End(messageID string) (*TrackedRequest, error)
	Outstanding(contextID string) (*TrackedRequest, bool)
	ActiveRequests() []*TrackedRequest
}

// InMemoryRequestTracker provides in-memory request tracking
type InMemoryRequestTracker struct {
	requests  map[string]*TrackedRequest
	byContext map[string]string
	mu        sync.RWMutex
}

// NewInMemoryRequestTracker creates a new in-memory request tracker
func NewInMemoryRequestTracker() *InMemoryRequestTracker {
	return &InMemoryRequestTracker{
		requests:  make(map[string]*TrackedRequest),
		byContext: make(map[string]string),
	}
}

// Begin starts tracking a request
func (t *InMemoryRequestTracker) Begin(request *TrackedRequest) error {
	if request == nil {
		return fmt.Errorf("request cannot be nil")
	}
	if request.MessageID == "" {
		return fmt.Errorf("message ID is required")
	}
	if request.ContextID == "" {
		return contracts.Validation("track request", "context id is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, busy := t.byContext[request.ContextID]; busy {
		return contracts.Validation("track request",
			"context %s already has outstanding request %s", request.ContextID, existing)
	}

	t.requests[request.MessageID] = request
	t.byContext[request.ContextID] = request.MessageID
	return nil
}

// UpdateStatus updates the status of a tracked request
func (t *InMemoryRequestTracker) UpdateStatus(messageID string, status RequestStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	request, exists := t.requests[messageID]
	if !exists {
		return fmt.Errorf("request not found: %s", messageID)
	}

	request.Status = status
	return nil
}

// End stops tracking a request and returns its final record
func (t *InMemoryRequestTracker) End(messageID string) (*TrackedRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	request, exists := t.requests[messageID]
	if !exists {
		return nil, fmt.Errorf("request not found: %s", messageID)
	}

	delete(t.requests, messageID)
	delete(t.byContext, request.ContextID)
	return request, nil
}

// Outstanding returns the request in flight for a context, if any
func (t *InMemoryRequestTracker) Outstanding(contextID string) (*TrackedRequest, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.byContext[contextID]
	if !ok {
		return nil, false
	}
	return t.requests[id], true
}

// ActiveRequests returns all requests in flight
func (t *InMemoryRequestTracker) ActiveRequests() []*TrackedRequest {
	t.mu.RLock()
	defer t.mu.RUnlock()

	active := make([]*TrackedRequest, 0, len(t.requests))
	for _, req := range t.requests {
		active = append(active, req)
	}
	return active
}

// Peer sends envelopes to other agents. It keeps calls for one context id
// strictly sequential and rejects replies that belong to another session.
type Peer struct {
	transport Transport
	tracker   RequestTracker
	timeout   time.Duration
	logger    *slog.Logger
}

// PeerOption configures a peer
type PeerOption func(*Peer)

// WithRequestTracker sets a custom request tracker
func WithRequestTracker(tracker RequestTracker) PeerOption {
	return func(p *Peer) {
		p.tracker = tracker
	}
}

// WithRequestTimeout bounds each request
func WithRequestTimeout(timeout time.Duration) PeerOption {
	return func(p *Peer) {
		p.timeout = timeout
	}
}

// WithPeerLogger sets the logger
func WithPeerLogger(logger *slog.Logger) PeerOption {
	return func(p *Peer) {
		p.logger = logger
	}
}

// NewPeer creates a peer over a transport
func NewPeer(transport Transport, opts ...PeerOption) *Peer {
	p := &Peer{
		transport: transport,
		tracker:   NewInMemoryRequestTracker(),
		timeout:   30 * time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tracker returns the request tracker
func (p *Peer) Tracker() RequestTracker {
	return p.tracker
}

// Request sends msg to agent and returns the reply. An error reply is
// returned as a typed error; a reply for a different context id is rejected.
func (p *Peer) Request(ctx context.Context, agent string, msg *contracts.Message) (*contracts.Message, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}

	tracked := &TrackedRequest{
		MessageID: msg.MessageID,
		ContextID: msg.ContextID,
		Agent:     agent,
		Status:    RequestStatusPending,
		SentAt:    time.Now(),
	}
	if err := p.tracker.Begin(tracked); err != nil {
		return nil, err
	}
	defer p.tracker.End(msg.MessageID)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	p.tracker.UpdateStatus(msg.MessageID, RequestStatusSent)
	p.logger.Debug("sending request",
		"agent", agent,
		"messageId", msg.MessageID,
		"contextId", msg.ContextID,
	)

	reply, err := p.transport.Send(ctx, agent, msg)
	if err != nil {
		p.tracker.UpdateStatus(msg.MessageID, RequestStatusFailed)
		return nil, fmt.Errorf("request to %s failed: %w", agent, err)
	}
	if reply == nil {
		p.tracker.UpdateStatus(msg.MessageID, RequestStatusFailed)
		return nil, fmt.Errorf("request to %s returned no reply", agent)
	}
	if err := ReplyError(reply); err != nil {
		p.tracker.UpdateStatus(msg.MessageID, RequestStatusFailed)
		return nil, fmt.Errorf("request to %s failed: %w", agent, err)
	}
	if reply.ContextID != msg.ContextID {
		p.tracker.UpdateStatus(msg.MessageID, RequestStatusFailed)
		return nil, contracts.Validation("peer request",
			"reply from %s has context %q, expected %q", agent, reply.ContextID, msg.ContextID)
	}

	p.tracker.UpdateStatus(msg.MessageID, RequestStatusCompleted)
	return reply, nil
}
