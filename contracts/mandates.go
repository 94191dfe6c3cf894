package contracts

import (
	"time"
)

// IntentMandate captures what the user asked the shopping agent to find.
// It is built from the whole conversation and never mutated once sent.
type IntentMandate struct {
	NaturalLanguageDescription   string    `json:"natural_language_description"`
	UserCartConfirmationRequired bool      `json:"user_cart_confirmation_required"`
	Merchants                    []string  `json:"merchants,omitempty"`
	SKUs                         []string  `json:"skus,omitempty"`
	RequiresRefundability        bool      `json:"requires_refundability"`
	IntentExpiry                 time.Time `json:"intent_expiry"`
}

// Expired reports whether the intent is past its expiry at now
func (i IntentMandate) Expired(now time.Time) bool {
	return !now.Before(i.IntentExpiry)
}

// CartContents is the merchant-signed offer
type CartContents struct {
	ID                           string         `json:"id"`
	UserCartConfirmationRequired bool           `json:"user_cart_confirmation_required"`
	PaymentRequest               PaymentRequest `json:"payment_request"`
	CartExpiry                   time.Time      `json:"cart_expiry"`
	MerchantName                 string         `json:"merchant_name"`
}

// Expired reports whether the cart window has closed at now
func (c CartContents) Expired(now time.Time) bool {
	return !now.Before(c.CartExpiry)
}

// CartMandate binds cart contents to the merchant's signed authorization
type CartMandate struct {
	Contents              CartContents `json:"contents"`
	MerchantAuthorization string       `json:"merchant_authorization,omitempty"`
}

// ID returns the cart id
func (c CartMandate) ID() string {
	return c.Contents.ID
}

// Total returns the agreed total of the cart
func (c CartMandate) Total() PaymentItem {
	return c.Contents.PaymentRequest.Details.Total
}

// PaymentDetailsID returns the id of the cart's payment details
func (c CartMandate) PaymentDetailsID() string {
	return c.Contents.PaymentRequest.Details.ID
}

// PaymentMandateContents is what the user authorizes to be paid
type PaymentMandateContents struct {
	PaymentMandateID    string          `json:"payment_mandate_id"`
	PaymentDetailsID    string          `json:"payment_details_id"`
	PaymentDetailsTotal PaymentItem     `json:"payment_details_total"`
	PaymentResponse     PaymentResponse `json:"payment_response"`
	MerchantAgent       string          `json:"merchant_agent"`
	Timestamp           time.Time       `json:"timestamp"`
}

// PaymentMandate binds payment contents to the user's signed authorization.
// It is terminal: a retry creates a new mandate instead of editing this one.
type PaymentMandate struct {
	Contents          PaymentMandateContents `json:"payment_mandate_contents"`
	UserAuthorization string                 `json:"user_authorization,omitempty"`
}

// ID returns the payment mandate id
func (p PaymentMandate) ID() string {
	return p.Contents.PaymentMandateID
}
