// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mandate

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mandate-go/agents/credentials"
	"github.com/glimte/mandate-go/agents/merchant"
	"github.com/glimte/mandate-go/audit"
	"github.com/glimte/mandate-go/catalog"
	"github.com/glimte/mandate-go/health"
	"github.com/glimte/mandate-go/identity"
	"github.com/glimte/mandate-go/integrity"
	"github.com/glimte/mandate-go/interceptors"
	"github.com/glimte/mandate-go/messaging"
	"github.com/glimte/mandate-go/settlement"
	"github.com/glimte/mandate-go/shopping"
)

// Network is the main entry point: a shopping orchestrator wired to the
// merchant agent and the credentials provider. By default both agents are
// hosted in process; WithTransport points the orchestrator at remote agents
// instead.
type Network struct {
	transport    messaging.Transport
	local        map[string]messaging.Handler
	mandates     *integrity.Service
	ledger       audit.Ledger
	processor    settlement.Processor
	orchestrator *shopping.Orchestrator
	metrics      *interceptors.InMemoryMetrics
	health       *health.Registry
	logger       *slog.Logger
}

type networkConfig struct {
	logger          *slog.Logger
	transport       messaging.Transport
	key             *integrity.Key
	verifier        integrity.Verifier
	catalog         *catalog.Catalog
	matcher         catalog.Matcher
	ledger          audit.Ledger
	processor       settlement.Processor
	conversation    shopping.Conversation
	shoppingAgentID string
	trustedCallers  []string
	payerName       string
	payerEmail      string
	intentTTL       time.Duration
	cartWindow      time.Duration
	requestTimeout  time.Duration
	now             func() time.Time
}

// Option configures a Network
type Option func(*networkConfig)

// WithLogger sets the logger for every component
func WithLogger(logger *slog.Logger) Option {
	return func(c *networkConfig) {
		c.logger = logger
	}
}

// WithTransport sends to remote agents instead of hosting them
func WithTransport(t messaging.Transport) Option {
	return func(c *networkConfig) {
		c.transport = t
	}
}

// WithSigningKey sets the key mandates are signed with. Without it a
// random HMAC key is generated, which only suits a single process.
func WithSigningKey(key *integrity.Key) Option {
	return func(c *networkConfig) {
		c.key = key
	}
}

// WithVerifier sets the verifier for tokens signed by other parties
func WithVerifier(v integrity.Verifier) Option {
	return func(c *networkConfig) {
		c.verifier = v
	}
}

// WithCatalog sets what the local merchant sells
func WithCatalog(cat *catalog.Catalog) Option {
	return func(c *networkConfig) {
		c.catalog = cat
	}
}

// WithMatcher sets the external matcher the merchant calls through a breaker
func WithMatcher(m catalog.Matcher) Option {
	return func(c *networkConfig) {
		c.matcher = m
	}
}

// WithLedger sets the audit ledger
func WithLedger(l audit.Ledger) Option {
	return func(c *networkConfig) {
		c.ledger = l
	}
}

// WithProcessor sets the payment processor
func WithProcessor(p settlement.Processor) Option {
	return func(c *networkConfig) {
		c.processor = p
	}
}

// WithConversation sets how the shopping agent phrases its replies
func WithConversation(conv shopping.Conversation) Option {
	return func(c *networkConfig) {
		c.conversation = conv
	}
}

// WithShoppingAgentID sets the identity the orchestrator presents
func WithShoppingAgentID(id string) Option {
	return func(c *networkConfig) {
		c.shoppingAgentID = id
	}
}

// WithTrustedCallers sets which shopping agents the local agents accept
func WithTrustedCallers(ids ...string) Option {
	return func(c *networkConfig) {
		c.trustedCallers = ids
	}
}

// WithPayer sets the payer recorded in payment mandates
func WithPayer(name, email string) Option {
	return func(c *networkConfig) {
		c.payerName = name
		c.payerEmail = email
	}
}

// WithIntentTTL sets how long an intent stays valid
func WithIntentTTL(ttl time.Duration) Option {
	return func(c *networkConfig) {
		c.intentTTL = ttl
	}
}

// WithCartWindow sets how long merchant carts stay payable
func WithCartWindow(d time.Duration) Option {
	return func(c *networkConfig) {
		c.cartWindow = d
	}
}

// WithRequestTimeout bounds each agent request
func WithRequestTimeout(d time.Duration) Option {
	return func(c *networkConfig) {
		c.requestTimeout = d
	}
}

// WithClock replaces the time source of signing and settlement
func WithClock(now func() time.Time) Option {
	return func(c *networkConfig) {
		c.now = now
	}
}

// NewNetwork creates a network with the given options
func NewNetwork(opts ...Option) (*Network, error) {
	cfg := &networkConfig{
		logger:          slog.Default(),
		shoppingAgentID: identity.DefaultShoppingAgentID,
		intentTTL:       shopping.DefaultIntentTTL,
		cartWindow:      merchant.DefaultCartWindow,
		requestTimeout:  30 * time.Second,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.trustedCallers) == 0 {
		cfg.trustedCallers = []string{cfg.shoppingAgentID}
	}

	key := cfg.key
	if key == nil {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate signing secret: %w", err)
		}
		var err error
		if key, err = integrity.NewHMACKey("ephemeral", secret); err != nil {
			return nil, err
		}
	}
	serviceOpts := []integrity.Option{integrity.WithClock(cfg.now)}
	if cfg.verifier != nil {
		serviceOpts = append(serviceOpts, integrity.WithVerifier(cfg.verifier))
	}
	mandates, err := integrity.NewService(key, serviceOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mandate service: %w", err)
	}

	n := &Network{
		local:     make(map[string]messaging.Handler),
		mandates:  mandates,
		ledger:    cfg.ledger,
		processor: cfg.processor,
		metrics:   interceptors.NewInMemoryMetrics(),
		health:    health.NewRegistry(),
		logger:    cfg.logger,
	}
	if n.ledger == nil {
		n.ledger = audit.NewMemoryLedger()
	}
	if n.processor == nil {
		n.processor = settlement.NewSimulatedProcessor(
			settlement.WithClock(cfg.now),
			settlement.WithLogger(cfg.logger))
	}
	if pinger, ok := n.ledger.(health.Pinger); ok {
		n.health.Register(health.NewPingChecker("audit_ledger", pinger))
	}

	n.transport = cfg.transport
	if n.transport == nil {
		inproc := messaging.NewInProcessTransport(messaging.WithTransportLogger(cfg.logger))
		if err := n.hostAgents(cfg, inproc); err != nil {
			return nil, err
		}
		n.transport = inproc
	} else if pinger, ok := n.transport.(health.Pinger); ok {
		n.health.Register(health.NewPingChecker("transport", pinger))
	}

	orchOpts := []shopping.Option{
		shopping.WithAgentID(cfg.shoppingAgentID),
		shopping.WithLedger(n.ledger),
		shopping.WithIntentTTL(cfg.intentTTL),
		shopping.WithPayer(cfg.payerName, cfg.payerEmail),
		shopping.WithLogger(cfg.logger),
	}
	if cfg.conversation != nil {
		orchOpts = append(orchOpts, shopping.WithConversation(cfg.conversation))
	}
	peer := messaging.NewPeer(n.transport,
		messaging.WithRequestTimeout(cfg.requestTimeout),
		messaging.WithPeerLogger(cfg.logger))
	n.orchestrator = shopping.New(peer, mandates, n.processor, orchOpts...)

	n.health.SetMetadata("shopping_agent_id", cfg.shoppingAgentID)
	return n, nil
}

func (n *Network) hostAgents(cfg *networkConfig, inproc *messaging.InProcessTransport) error {
	creds := make([]identity.Credential, 0, len(cfg.trustedCallers))
	for _, id := range cfg.trustedCallers {
		creds = append(creds, identity.NewShoppingAgentCredential(id))
	}
	callers := identity.NewAllowList(creds...)

	cat := cfg.catalog
	if cat == nil {
		cat = catalog.Default()
	}
	var primary catalog.Matcher = catalog.KeywordMatcher{}
	if cfg.matcher != nil {
		primary = cfg.matcher
	}
	matcher := catalog.NewResilientMatcher(primary, catalog.WithMatcherLogger(cfg.logger))
	n.health.Register(health.NewBreakerChecker("catalog_matcher", matcher.Breaker()))

	agents := map[string]messaging.Handler{
		merchant.AgentName: merchant.New(cat, n.mandates, callers,
			merchant.WithMatcher(matcher),
			merchant.WithCartWindow(cfg.cartWindow),
			merchant.WithLogger(cfg.logger)),
		credentials.AgentName: credentials.New(credentials.DefaultMethods(), callers,
			credentials.WithMandateVerification(n.mandates),
			credentials.WithLogger(cfg.logger)),
	}
	for name, agent := range agents {
		chain := interceptors.NewDefaultInterceptorChainBuilder(name, cfg.logger).
			WithRecovery().
			WithLogging().
			WithMetrics(n.metrics).
			WithFilter(interceptors.AllOf(interceptors.RequireContext(), interceptors.RequireParts())).
			Build()
		handler := chain.Wrap(agent)
		if err := inproc.Register(name, handler); err != nil {
			return fmt.Errorf("failed to host %s: %w", name, err)
		}
		n.local[name] = handler
	}
	return nil
}

// Orchestrator returns the shopping orchestrator
func (n *Network) Orchestrator() *shopping.Orchestrator {
	return n.orchestrator
}

// Mandates returns the signing service
func (n *Network) Mandates() *integrity.Service {
	return n.mandates
}

// Ledger returns the audit ledger
func (n *Network) Ledger() audit.Ledger {
	return n.ledger
}

// Transport returns the transport the orchestrator sends through
func (n *Network) Transport() messaging.Transport {
	return n.transport
}

// Handlers returns the locally hosted agents, wrapped in their interceptor
// chains, so they can also be served over HTTP or AMQP.
func (n *Network) Handlers() map[string]messaging.Handler {
	out := make(map[string]messaging.Handler, len(n.local))
	for k, v := range n.local {
		out[k] = v
	}
	return out
}

// Metrics returns request metrics of the local agents
func (n *Network) Metrics() *interceptors.InMemoryMetrics {
	return n.metrics
}

// Health returns the health registry
func (n *Network) Health() *health.Registry {
	return n.health
}

// Shop runs a whole purchase non-interactively: the first cart offered and
// the given payment method.
func (n *Network) Shop(ctx context.Context, intent, methodID string) (shopping.Session, error) {
	o := n.orchestrator
	s, err := o.Submit(ctx, shopping.NewSession(), intent)
	if err != nil {
		return s, err
	}
	if len(s.Carts) == 0 {
		return s, errors.New("merchant offered no carts")
	}
	if s, err = o.SelectCart(ctx, s, s.Carts[0].ID()); err != nil {
		return s, err
	}
	if s, err = o.Confirm(ctx, s, methodID); err != nil {
		return s, err
	}
	return o.Settle(ctx, s)
}

// Audit re-verifies every mandate recorded for a session
func (n *Network) Audit(ctx context.Context, contextID string) (*audit.Report, error) {
	return audit.NewAuditor(n.ledger, n.mandates).Audit(ctx, contextID)
}

// Close releases the transport
func (n *Network) Close() error {
	if n.transport == nil {
		return nil
	}
	return n.transport.Close()
}
