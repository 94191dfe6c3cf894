package contracts

import (
	"github.com/shopspring/decimal"
)

// CurrencyAmount is an exact monetary value. Value serializes as a JSON
// string so digests never depend on float formatting.
type CurrencyAmount struct {
	Currency string          `json:"currency"`
	Value    decimal.Decimal `json:"value"`
}

// Equal reports whether both amounts have the same currency and value
func (a CurrencyAmount) Equal(other CurrencyAmount) bool {
	return a.Currency == other.Currency && a.Value.Equal(other.Value)
}

// PaymentItem is a labelled line of a payment request
type PaymentItem struct {
	Label   string         `json:"label"`
	Amount  CurrencyAmount `json:"amount"`
	Pending bool           `json:"pending,omitempty"`
}

// Equal compares label and amount
func (i PaymentItem) Equal(other PaymentItem) bool {
	return i.Label == other.Label && i.Pending == other.Pending && i.Amount.Equal(other.Amount)
}

// PaymentMethodData declares a payment method a merchant accepts
type PaymentMethodData struct {
	SupportedMethods string         `json:"supported_methods"`
	Data             map[string]any `json:"data,omitempty"`
}

// PaymentDetails carries the display items and the total of a request
type PaymentDetails struct {
	ID           string        `json:"id"`
	DisplayItems []PaymentItem `json:"display_items"`
	Total        PaymentItem   `json:"total"`
}

// PaymentOptions lists the payer information a merchant asks for
type PaymentOptions struct {
	RequestPayerName  bool `json:"request_payer_name"`
	RequestPayerEmail bool `json:"request_payer_email"`
	RequestShipping   bool `json:"request_shipping"`
}

// PaymentRequest is the merchant's statement of what will be charged
type PaymentRequest struct {
	MethodData []PaymentMethodData `json:"method_data"`
	Details    PaymentDetails      `json:"details"`
	Options    *PaymentOptions     `json:"options,omitempty"`
}

// PaymentResponse records the payer's chosen method
type PaymentResponse struct {
	RequestID  string         `json:"request_id"`
	MethodName string         `json:"method_name"`
	Details    map[string]any `json:"details,omitempty"`
	PayerName  string         `json:"payer_name,omitempty"`
	PayerEmail string         `json:"payer_email,omitempty"`
}

// PaymentMethodType is the family of a stored payment method
type PaymentMethodType string

const (
	PaymentMethodCard   PaymentMethodType = "card"
	PaymentMethodBank   PaymentMethodType = "bank"
	PaymentMethodWallet PaymentMethodType = "wallet"
)

// PaymentMethod is a payment credential owned by the credentials provider
type PaymentMethod struct {
	ID    string            `json:"id" mapstructure:"id" yaml:"id"`
	Alias string            `json:"alias" mapstructure:"alias" yaml:"alias"`
	Type  PaymentMethodType `json:"type" mapstructure:"type" yaml:"type"`
	Brand string            `json:"brand,omitempty" mapstructure:"brand" yaml:"brand,omitempty"`
	Last4 string            `json:"last4,omitempty" mapstructure:"last4" yaml:"last4,omitempty"`
}

// PaymentStatus acknowledges a payment initiation
type PaymentStatus struct {
	Status           string `json:"status"`
	PaymentMandateID string `json:"payment_mandate_id"`
	Verified         bool   `json:"verified"`
}
