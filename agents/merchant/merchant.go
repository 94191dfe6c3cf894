// Package merchant implements the merchant agent: it turns an intent mandate
// into signed cart mandates, one per matched catalog item.
package merchant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glimte/mandate-go/catalog"
	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/identity"
	"github.com/glimte/mandate-go/integrity"
	"github.com/glimte/mandate-go/messaging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AgentName is the default routing name of the merchant agent
const AgentName = "merchant_agent"

// DefaultCartWindow is how long a cart can be selected after it is offered
const DefaultCartWindow = 30 * time.Minute

// LineItemPolicy splits a catalog price into display items. The service fee
// takes whatever remains so the items always sum to the price.
type LineItemPolicy struct {
	PackageShare   decimal.Decimal
	InsuranceShare decimal.Decimal
}

// DefaultPolicy charges 85% package, 10% insurance and the rest as fee
var DefaultPolicy = LineItemPolicy{
	PackageShare:   decimal.RequireFromString("0.85"),
	InsuranceShare: decimal.RequireFromString("0.10"),
}

// Split breaks price into package, insurance and service fee amounts
func (p LineItemPolicy) Split(price decimal.Decimal) (pkg, insurance, fee decimal.Decimal) {
	pkg = price.Mul(p.PackageShare).Round(2)
	insurance = price.Mul(p.InsuranceShare).Round(2)
	fee = price.Sub(pkg).Sub(insurance)
	return pkg, insurance, fee
}

// Agent is the merchant agent. It holds no per-session state.
type Agent struct {
	name       string
	catalog    *catalog.Catalog
	matcher    catalog.Matcher
	mandates   *integrity.Service
	callers    identity.Verifier
	cartWindow time.Duration
	policy     LineItemPolicy
	methods    []contracts.PaymentMethodType
	logger     *slog.Logger
}

// Option configures the merchant agent
type Option func(*Agent)

// WithName sets the agent identity reported in errors
func WithName(name string) Option {
	return func(a *Agent) {
		a.name = name
	}
}

// WithMatcher replaces the catalog matcher
func WithMatcher(m catalog.Matcher) Option {
	return func(a *Agent) {
		a.matcher = m
	}
}

// WithCartWindow sets how long offered carts stay valid
func WithCartWindow(d time.Duration) Option {
	return func(a *Agent) {
		a.cartWindow = d
	}
}

// WithPolicy replaces the line item policy
func WithPolicy(p LineItemPolicy) Option {
	return func(a *Agent) {
		a.policy = p
	}
}

// WithAcceptedMethods sets the payment method types offered in carts
func WithAcceptedMethods(types ...contracts.PaymentMethodType) Option {
	return func(a *Agent) {
		a.methods = types
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// New creates a merchant agent selling from cat, signing carts with
// mandates and trusting only callers accepted by callers.
func New(cat *catalog.Catalog, mandates *integrity.Service, callers identity.Verifier, opts ...Option) *Agent {
	a := &Agent{
		name:       AgentName,
		catalog:    cat,
		matcher:    catalog.NewResilientMatcher(catalog.KeywordMatcher{}),
		mandates:   mandates,
		callers:    callers,
		cartWindow: DefaultCartWindow,
		policy:     DefaultPolicy,
		methods:    []contracts.PaymentMethodType{contracts.PaymentMethodCard, contracts.PaymentMethodBank, contracts.PaymentMethodWallet},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent identity
func (a *Agent) Name() string {
	return a.name
}

// HandleMessage implements messaging.Handler
func (a *Agent) HandleMessage(ctx context.Context, msg *contracts.Message) (*contracts.Message, error) {
	caller, _ := messaging.StringData(msg, contracts.KeyCallerID)
	if _, err := identity.Require(ctx, a.callers, caller, identity.ScopeCartRequest); err != nil {
		a.logger.Warn("rejected cart request", "caller", caller, "contextId", msg.ContextID)
		return nil, err
	}

	var intent contracts.IntentMandate
	if err := messaging.DecodeData(msg, contracts.KeyIntentMandate, &intent); err != nil {
		return nil, err
	}
	if strings.TrimSpace(intent.NaturalLanguageDescription) == "" {
		return nil, contracts.Validation(a.name, "intent has no description")
	}
	now := a.mandates.Now()
	if !intent.IntentExpiry.IsZero() && intent.Expired(now) {
		return nil, contracts.Expired(a.name, "intent expired at %s", intent.IntentExpiry.Format(time.RFC3339))
	}

	carts, err := a.CreateCarts(ctx, intent)
	if err != nil {
		return nil, err
	}

	a.logger.Info("offered carts",
		"contextId", msg.ContextID,
		"carts", len(carts),
		"description", intent.NaturalLanguageDescription)

	return messaging.NewReply(msg).
		WithText(a.summarize(carts)).
		WithData(contracts.KeyCartMandates, carts).
		Build(), nil
}

// CreateCarts matches the intent against the catalog and signs one cart
// per matched item.
func (a *Agent) CreateCarts(ctx context.Context, intent contracts.IntentMandate) ([]contracts.CartMandate, error) {
	if len(intent.Merchants) > 0 && !containsFold(intent.Merchants, a.catalog.Merchant) {
		return []contracts.CartMandate{}, nil
	}

	candidates := a.candidates(intent)
	ids, err := a.matcher.Match(ctx, intent.NaturalLanguageDescription, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to match catalog: %w", err)
	}

	items := a.catalog.Resolve(ids, catalog.MaxMatches)
	carts := make([]contracts.CartMandate, 0, len(items))
	for _, item := range items {
		cart, err := a.buildCart(item, intent)
		if err != nil {
			return nil, err
		}
		carts = append(carts, cart)
	}
	return carts, nil
}

func (a *Agent) candidates(intent contracts.IntentMandate) []catalog.Item {
	all := a.catalog.Items()
	out := all[:0]
	for _, it := range all {
		if intent.RequiresRefundability && !it.Refundable {
			continue
		}
		if len(intent.SKUs) > 0 && !containsFold(intent.SKUs, it.ID) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func (a *Agent) buildCart(item catalog.Item, intent contracts.IntentMandate) (contracts.CartMandate, error) {
	now := a.mandates.Now()
	pkg, insurance, fee := a.policy.Split(item.Price)
	amount := func(v decimal.Decimal) contracts.CurrencyAmount {
		return contracts.CurrencyAmount{Currency: item.Currency, Value: v}
	}

	methodData := make([]contracts.PaymentMethodData, 0, len(a.methods))
	for _, t := range a.methods {
		methodData = append(methodData, contracts.PaymentMethodData{SupportedMethods: string(t)})
	}

	contents := contracts.CartContents{
		ID:                           "cart_" + uuid.New().String(),
		UserCartConfirmationRequired: intent.UserCartConfirmationRequired,
		MerchantName:                 a.catalog.Merchant,
		CartExpiry:                   now.Add(a.cartWindow).UTC(),
		PaymentRequest: contracts.PaymentRequest{
			MethodData: methodData,
			Details: contracts.PaymentDetails{
				ID: "order_" + uuid.New().String(),
				DisplayItems: []contracts.PaymentItem{
					{Label: item.Name + " package", Amount: amount(pkg)},
					{Label: "Travel insurance", Amount: amount(insurance)},
					{Label: "Service fee", Amount: amount(fee)},
				},
				Total: contracts.PaymentItem{Label: "Total", Amount: amount(item.Price)},
			},
			Options: &contracts.PaymentOptions{RequestPayerName: true, RequestPayerEmail: true},
		},
	}

	token, err := a.mandates.SignCart(contents)
	if err != nil {
		return contracts.CartMandate{}, fmt.Errorf("failed to sign cart %s: %w", contents.ID, err)
	}
	return contracts.CartMandate{Contents: contents, MerchantAuthorization: token}, nil
}

func (a *Agent) summarize(carts []contracts.CartMandate) string {
	if len(carts) == 0 {
		return fmt.Sprintf("%s has no packages matching your request.", a.catalog.Merchant)
	}
	lines := make([]string, 0, len(carts))
	for i, c := range carts {
		total := c.Total().Amount
		lines = append(lines, fmt.Sprintf("%d. %s %s %s",
			i+1, c.Contents.PaymentRequest.Details.DisplayItems[0].Label, total.Currency, total.Value.StringFixed(2)))
	}
	return fmt.Sprintf("%s found %d option(s): %s", a.catalog.Merchant, len(carts), strings.Join(lines, "; "))
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
