// Package credentials implements the credentials provider agent, the only
// holder of the user's payment methods.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/identity"
	"github.com/glimte/mandate-go/integrity"
	"github.com/glimte/mandate-go/messaging"
)

// AgentName is the default routing name of the credentials provider
const AgentName = "credentials_provider"

// Payment status values
const (
	StatusAccepted = "accepted"
)

// DefaultMethods are the demo user's payment methods
func DefaultMethods() []contracts.PaymentMethod {
	return []contracts.PaymentMethod{
		{ID: "pm-001", Alias: "Personal Visa", Type: contracts.PaymentMethodCard, Brand: "visa", Last4: "4242"},
		{ID: "pm-002", Alias: "Checking account", Type: contracts.PaymentMethodBank, Last4: "6789"},
		{ID: "pm-003", Alias: "Travel wallet", Type: contracts.PaymentMethodWallet, Brand: "paypal"},
	}
}

// Agent is the credentials provider agent
type Agent struct {
	name     string
	methods  []contracts.PaymentMethod
	callers  identity.Verifier
	mandates *integrity.Service
	logger   *slog.Logger
}

// Option configures the credentials provider
type Option func(*Agent)

// WithName sets the agent identity reported in errors
func WithName(name string) Option {
	return func(a *Agent) {
		a.name = name
	}
}

// WithMandateVerification makes initiate_payment verify the mandate's
// signature, its digest and its binding to the accompanying cart.
func WithMandateVerification(svc *integrity.Service) Option {
	return func(a *Agent) {
		a.mandates = svc
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// New creates a credentials provider holding methods
func New(methods []contracts.PaymentMethod, callers identity.Verifier, opts ...Option) *Agent {
	a := &Agent{
		name:    AgentName,
		methods: append([]contracts.PaymentMethod(nil), methods...),
		callers: callers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Methods returns a copy of the configured payment methods
func (a *Agent) Methods() []contracts.PaymentMethod {
	return append([]contracts.PaymentMethod(nil), a.methods...)
}

// HandleMessage implements messaging.Handler
func (a *Agent) HandleMessage(ctx context.Context, msg *contracts.Message) (*contracts.Message, error) {
	caller, _ := messaging.StringData(msg, contracts.KeyCallerID)
	if _, err := a.callers.VerifyCaller(ctx, caller); err != nil {
		a.logger.Warn("rejected credentials request", "caller", caller, "contextId", msg.ContextID)
		return nil, err
	}

	action, err := a.resolveAction(msg)
	if err != nil {
		return nil, err
	}

	switch action {
	case contracts.ActionGetPaymentMethods:
		if _, err := identity.Require(ctx, a.callers, caller, identity.ScopePaymentMethods); err != nil {
			return nil, err
		}
		return a.listMethods(msg), nil
	case contracts.ActionInitiatePayment:
		if _, err := identity.Require(ctx, a.callers, caller, identity.ScopePaymentInitiate); err != nil {
			return nil, err
		}
		return a.initiatePayment(msg)
	default:
		return nil, contracts.Validation(a.name, "unknown action %q", action)
	}
}

func (a *Agent) resolveAction(msg *contracts.Message) (string, error) {
	if action, ok := messaging.StringData(msg, contracts.KeyAction); ok && action != "" {
		return action, nil
	}

	text := strings.ToLower(messaging.AllText(msg))
	switch {
	case strings.Contains(text, "payment method"):
		return contracts.ActionGetPaymentMethods, nil
	case strings.Contains(text, "pay") || strings.Contains(text, "purchase"):
		return contracts.ActionInitiatePayment, nil
	}
	return "", contracts.Validation(a.name, "no action given and none could be inferred")
}

func (a *Agent) listMethods(msg *contracts.Message) *contracts.Message {
	methods := a.Methods()
	a.logger.Info("listed payment methods", "contextId", msg.ContextID, "count", len(methods))

	return messaging.NewReply(msg).
		WithText(fmt.Sprintf("%d payment method(s) available.", len(methods))).
		WithData(contracts.KeyPaymentMethods, methods).
		Build()
}

func (a *Agent) initiatePayment(msg *contracts.Message) (*contracts.Message, error) {
	var mandate contracts.PaymentMandate
	if err := messaging.DecodeData(msg, contracts.KeyPaymentMandate, &mandate); err != nil {
		return nil, err
	}
	if mandate.ID() == "" {
		return nil, contracts.Validation(a.name, "payment mandate has no id")
	}
	if !a.hasMethod(mandate.Contents.PaymentResponse.MethodName) {
		return nil, contracts.Validation(a.name, "unknown payment method %q", mandate.Contents.PaymentResponse.MethodName)
	}

	verified := false
	if a.mandates != nil {
		var cart contracts.CartMandate
		if err := messaging.DecodeData(msg, contracts.KeyCartMandate, &cart); err != nil {
			return nil, err
		}
		if _, err := a.mandates.VerifyCartMandate(cart); err != nil {
			return nil, err
		}
		if _, err := a.mandates.VerifyPaymentMandate(mandate, cart); err != nil {
			return nil, err
		}
		verified = true
	}

	a.logger.Info("payment initiated",
		"contextId", msg.ContextID,
		"paymentMandateId", mandate.ID(),
		"verified", verified)

	return messaging.NewReply(msg).
		WithText(fmt.Sprintf("Payment mandate %s accepted.", mandate.ID())).
		WithData(contracts.KeyPaymentStatus, contracts.PaymentStatus{
			Status:           StatusAccepted,
			PaymentMandateID: mandate.ID(),
			Verified:         verified,
		}).
		Build(), nil
}

func (a *Agent) hasMethod(id string) bool {
	for _, m := range a.methods {
		if m.ID == id {
			return true
		}
	}
	return false
}
