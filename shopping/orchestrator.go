// Package shopping implements the shopping agent orchestrator: the state
// machine that drives a transaction from free text to a settled payment.
package shopping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mandate-go/agents/credentials"
	"github.com/glimte/mandate-go/agents/merchant"
	"github.com/glimte/mandate-go/audit"
	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/identity"
	"github.com/glimte/mandate-go/integrity"
	"github.com/glimte/mandate-go/messaging"
	"github.com/glimte/mandate-go/settlement"
	"github.com/google/uuid"
)

// DefaultIntentTTL is how long a built intent stays valid
const DefaultIntentTTL = time.Hour

// Orchestrator drives sessions. It holds no per-session state and is safe
// for concurrent use across sessions.
type Orchestrator struct {
	peer             *messaging.Peer
	mandates         *integrity.Service
	processor        settlement.Processor
	ledger           audit.Ledger
	conversation     Conversation
	agentID          string
	merchantAgent    string
	credentialsAgent string
	intentTTL        time.Duration
	confirmCart      bool
	payerName        string
	payerEmail       string
	logger           *slog.Logger
}

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithAgentID sets the caller id presented to peer agents
func WithAgentID(id string) Option {
	return func(o *Orchestrator) {
		o.agentID = id
	}
}

// WithMerchantAgent sets the routing name of the merchant agent
func WithMerchantAgent(name string) Option {
	return func(o *Orchestrator) {
		o.merchantAgent = name
	}
}

// WithCredentialsProvider sets the routing name of the credentials provider
func WithCredentialsProvider(name string) Option {
	return func(o *Orchestrator) {
		o.credentialsAgent = name
	}
}

// WithConversation sets the conversational capability
func WithConversation(c Conversation) Option {
	return func(o *Orchestrator) {
		o.conversation = c
	}
}

// WithLedger records every signed mandate and receipt
func WithLedger(l audit.Ledger) Option {
	return func(o *Orchestrator) {
		o.ledger = l
	}
}

// WithIntentTTL sets the intent expiry window
func WithIntentTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.intentTTL = ttl
	}
}

// WithCartConfirmation sets user_cart_confirmation_required on intents
func WithCartConfirmation(required bool) Option {
	return func(o *Orchestrator) {
		o.confirmCart = required
	}
}

// WithPayer sets the payer details placed in payment responses
func WithPayer(name, email string) Option {
	return func(o *Orchestrator) {
		o.payerName = name
		o.payerEmail = email
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator calling peers through peer, signing payment
// mandates with mandates and settling through processor.
func New(peer *messaging.Peer, mandates *integrity.Service, processor settlement.Processor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		peer:             peer,
		mandates:         mandates,
		processor:        processor,
		conversation:     ScriptedConversation{},
		agentID:          identity.DefaultShoppingAgentID,
		merchantAgent:    merchant.AgentName,
		credentialsAgent: credentials.AgentName,
		intentTTL:        DefaultIntentTTL,
		confirmCart:      true,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit adds a user utterance, rebuilds the intent from every user turn
// and asks the merchant for carts.
func (o *Orchestrator) Submit(ctx context.Context, s Session, text string) (Session, error) {
	const op = "submit"
	if text == "" {
		return s, contracts.Validation(op, "empty request")
	}
	switch s.State {
	case StateIdle, StateIntentGathering, StateCartsOffered, StatePaymentMethodsOffered:
	default:
		return s, o.badState(op, s)
	}

	next := s.clone()
	if next.Version == "" {
		next.Version = NewSession().Version
	}
	if next.ContextID == "" {
		next.ContextID = "ctx-" + uuid.New().String()
	}
	now := o.mandates.Now()
	next.say(TurnUser, text, now)
	next.State = StateIntentGathering

	reply, err := o.conversation.Reply(ctx, next.History)
	if err != nil {
		return s, fmt.Errorf("failed to get conversational reply: %w", err)
	}
	if reply != "" {
		next.say(TurnAgent, reply, now)
	}

	next.Intent = &contracts.IntentMandate{
		NaturalLanguageDescription:   next.UserText(),
		UserCartConfirmationRequired: o.confirmCart,
		IntentExpiry:                 now.Add(o.intentTTL).UTC(),
	}
	return o.requestCarts(ctx, next)
}

// SelectCart re-verifies the chosen cart and fetches payment methods. An
// expired cart triggers a fresh cart request and an ExpiredError.
func (o *Orchestrator) SelectCart(ctx context.Context, s Session, cartID string) (Session, error) {
	const op = "select cart"
	if s.State != StateCartsOffered && s.State != StatePaymentMethodsOffered {
		return s, o.badState(op, s)
	}
	cart, ok := s.Cart(cartID)
	if !ok {
		return s, contracts.Validation(op, "cart %s was not offered", cartID)
	}

	next := s.clone()
	if err := o.checkCart(cart); err != nil {
		return o.recoverCart(ctx, next, err)
	}
	next.SelectedCartID = cart.ID()
	next.SelectedMethodID = ""

	msg := o.envelope(next).
		WithText("What payment methods are available?").
		WithData(contracts.KeyAction, contracts.ActionGetPaymentMethods).
		Build()
	reply, err := o.peer.Request(ctx, o.credentialsAgent, msg)
	if err != nil {
		return o.fail(next, op, err)
	}

	var methods []contracts.PaymentMethod
	if err := messaging.DecodeData(reply, contracts.KeyPaymentMethods, &methods); err != nil {
		return s, err
	}
	next.PaymentMethods = methods
	next.State = StatePaymentMethodsOffered
	next.say(TurnAgent, messaging.AllText(reply), o.mandates.Now())

	o.logger.Info("cart selected", "contextId", next.ContextID, "cartId", cart.ID(), "methods", len(methods))
	return next, nil
}

// Confirm signs a payment mandate for the selected cart and method
func (o *Orchestrator) Confirm(ctx context.Context, s Session, methodID string) (Session, error) {
	const op = "confirm"
	if s.State != StatePaymentMethodsOffered {
		return s, o.badState(op, s)
	}
	method, ok := s.Method(methodID)
	if !ok {
		return s, contracts.Validation(op, "payment method %s was not offered", methodID)
	}

	next := s.clone()
	next.SelectedMethodID = method.ID
	next.Attempts = 0
	return o.signPayment(ctx, next)
}

// Settle hands the signed mandate to the credentials provider and then to
// the payment processor.
func (o *Orchestrator) Settle(ctx context.Context, s Session) (Session, error) {
	const op = "settle"
	if s.State != StatePaymentMandateSigned || s.PaymentMandate == nil {
		return s, o.badState(op, s)
	}
	cart, ok := s.SelectedCart()
	if !ok {
		return s, contracts.Validation(op, "no cart selected")
	}

	next := s.clone()
	next.Attempts++
	mandate := *next.PaymentMandate

	msg := o.envelope(next).
		WithText("Please pay with the authorized mandate.").
		WithData(contracts.KeyAction, contracts.ActionInitiatePayment).
		WithData(contracts.KeyPaymentMandate, mandate).
		WithData(contracts.KeyCartMandate, cart).
		Build()
	if _, err := o.peer.Request(ctx, o.credentialsAgent, msg); err != nil {
		return o.fail(next, op, err)
	}

	receipt, err := o.processor.Settle(ctx, mandate)
	if err != nil {
		return o.settlementFailed(next, op, err)
	}

	// Funds are captured from here on; the session settles even if the
	// receipt cannot be recorded.
	next.Receipt = receipt
	next.State = StatePaymentSettled
	next.say(TurnAgent, fmt.Sprintf("Payment of %s %s settled, receipt %s.",
		receipt.Amount.Currency, receipt.Amount.Value.StringFixed(2), receipt.ID), o.mandates.Now())

	o.logger.Info("payment settled",
		"contextId", next.ContextID,
		"paymentMandateId", mandate.ID(),
		"receiptId", receipt.ID,
		"attempts", next.Attempts)

	if err := o.record(ctx, func() (audit.Entry, error) {
		return audit.ReceiptEntry(next.ContextID, mandate.ID(), receipt)
	}); err != nil {
		o.logger.Error("settled payment not recorded",
			"contextId", next.ContextID,
			"receiptId", receipt.ID,
			"error", err)
		return next, err
	}
	return next, nil
}

// Retry re-signs a fresh payment mandate after a failed settlement. The
// failed mandate is never resubmitted.
func (o *Orchestrator) Retry(ctx context.Context, s Session) (Session, error) {
	const op = "retry"
	if s.State != StatePaymentFailed {
		return s, o.badState(op, s)
	}
	return o.signPayment(ctx, s.clone())
}

func (o *Orchestrator) signPayment(ctx context.Context, next Session) (Session, error) {
	const op = "sign payment"
	cart, ok := next.SelectedCart()
	if !ok {
		return next, contracts.Validation(op, "no cart selected")
	}
	method, ok := next.Method(next.SelectedMethodID)
	if !ok {
		return next, contracts.Validation(op, "no payment method selected")
	}
	if err := o.checkCart(cart); err != nil {
		return o.recoverCart(ctx, next, err)
	}

	cartHash, err := integrity.Digest(cart.Contents)
	if err != nil {
		return next, err
	}
	contents := contracts.PaymentMandateContents{
		PaymentMandateID:    "pm_" + uuid.New().String(),
		PaymentDetailsID:    cart.PaymentDetailsID(),
		PaymentDetailsTotal: cart.Total(),
		PaymentResponse: contracts.PaymentResponse{
			RequestID:  cart.PaymentDetailsID(),
			MethodName: method.ID,
			Details:    map[string]any{"type": string(method.Type)},
			PayerName:  o.payerName,
			PayerEmail: o.payerEmail,
		},
		MerchantAgent: o.merchantAgent,
		Timestamp:     o.mandates.Now().UTC(),
	}
	token, err := o.mandates.SignPayment(contents, cartHash)
	if err != nil {
		return next, fmt.Errorf("failed to sign payment mandate: %w", err)
	}
	mandate := contracts.PaymentMandate{Contents: contents, UserAuthorization: token}

	if err := o.record(ctx, func() (audit.Entry, error) {
		return audit.PaymentEntry(next.ContextID, mandate)
	}); err != nil {
		return next, err
	}

	next.PaymentMandate = &mandate
	next.State = StatePaymentMandateSigned
	next.say(TurnAgent, fmt.Sprintf("Payment mandate %s signed for %s %s with %s.",
		mandate.ID(), cart.Total().Amount.Currency, cart.Total().Amount.Value.StringFixed(2), method.Alias), o.mandates.Now())

	o.logger.Info("payment mandate signed",
		"contextId", next.ContextID,
		"paymentMandateId", mandate.ID(),
		"cartId", cart.ID())
	return next, nil
}

func (o *Orchestrator) requestCarts(ctx context.Context, next Session) (Session, error) {
	const op = "request carts"
	if next.Intent == nil {
		return next, contracts.Validation(op, "no intent")
	}

	msg := o.envelope(next).
		WithText(next.Intent.NaturalLanguageDescription).
		WithData(contracts.KeyIntentMandate, *next.Intent).
		Build()
	reply, err := o.peer.Request(ctx, o.merchantAgent, msg)
	if err != nil {
		return o.fail(next, op, err)
	}

	var carts []contracts.CartMandate
	if err := messaging.DecodeData(reply, contracts.KeyCartMandates, &carts); err != nil {
		return o.fail(next, op, err)
	}
	for _, cart := range carts {
		if _, err := o.mandates.VerifyCartMandate(cart); err != nil {
			return o.fail(next, op, err)
		}
	}
	for _, cart := range carts {
		if err := o.record(ctx, func() (audit.Entry, error) {
			return audit.CartEntry(next.ContextID, cart)
		}); err != nil {
			return next, err
		}
	}

	next.Carts = carts
	next.SelectedCartID = ""
	next.PaymentMethods = nil
	next.SelectedMethodID = ""
	next.State = StateCartsOffered
	next.say(TurnAgent, messaging.AllText(reply), o.mandates.Now())

	o.logger.Info("carts offered", "contextId", next.ContextID, "carts", len(carts))
	return next, nil
}

// checkCart verifies the merchant signature, digest and cart window
func (o *Orchestrator) checkCart(cart contracts.CartMandate) error {
	_, err := o.mandates.VerifyCartMandate(cart)
	return err
}

// recoverCart handles a cart that no longer verifies. Expired carts are
// replaced by a fresh offer; anything else aborts.
func (o *Orchestrator) recoverCart(ctx context.Context, next Session, cause error) (Session, error) {
	if !errors.Is(cause, contracts.ErrExpired) {
		return o.fail(next, "verify cart", cause)
	}
	o.logger.Info("cart expired, requesting fresh carts", "contextId", next.ContextID, "cartId", next.SelectedCartID)

	now := o.mandates.Now()
	next.Intent = &contracts.IntentMandate{
		NaturalLanguageDescription:   next.UserText(),
		UserCartConfirmationRequired: o.confirmCart,
		IntentExpiry:                 now.Add(o.intentTTL).UTC(),
	}
	next.PaymentMandate = nil
	refreshed, err := o.requestCarts(ctx, next)
	if err != nil {
		return refreshed, err
	}
	return refreshed, cause
}

// fail moves the session to aborted on integrity failures and returns err
func (o *Orchestrator) fail(next Session, op string, err error) (Session, error) {
	if errors.Is(err, contracts.ErrIntegrity) {
		o.logger.Error("integrity failure, aborting transaction", "contextId", next.ContextID, "op", op, "error", err)
		next.State = StateAborted
		next.say(TurnAgent, "The transaction was aborted because a mandate failed verification.", o.mandates.Now())
	}
	return next, err
}

func (o *Orchestrator) settlementFailed(next Session, op string, err error) (Session, error) {
	o.logger.Warn("settlement failed", "contextId", next.ContextID, "attempts", next.Attempts, "error", err)
	next.State = StatePaymentFailed
	next.say(TurnAgent, "The payment did not go through. You can retry with a new authorization.", o.mandates.Now())
	return next, contracts.Settlement(op, err)
}

func (o *Orchestrator) envelope(s Session) *messaging.EnvelopeBuilder {
	return messaging.NewEnvelope(contracts.RoleUser).
		WithContext(s.ContextID).
		WithData(contracts.KeyCallerID, o.agentID)
}

func (o *Orchestrator) record(ctx context.Context, build func() (audit.Entry, error)) error {
	if o.ledger == nil {
		return nil
	}
	entry, err := build()
	if err != nil {
		return err
	}
	if _, err := o.ledger.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to record %s: %w", entry.Kind, err)
	}
	return nil
}

func (o *Orchestrator) badState(op string, s Session) error {
	return contracts.Validation(op, "not allowed in state %s", s.State)
}
