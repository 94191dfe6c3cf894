package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/integrity"
)

// Finding is the outcome of re-verifying one payment mandate
type Finding struct {
	PaymentMandateID string `json:"payment_mandate_id"`
	CartID           string `json:"cart_id,omitempty"`
	Settled          bool   `json:"settled"`
	Error            string `json:"error,omitempty"`
}

// Report summarizes the audit of one transaction
type Report struct {
	ContextID string    `json:"context_id"`
	Carts     int       `json:"carts"`
	Payments  int       `json:"payments"`
	Findings  []Finding `json:"findings"`
}

// OK reports whether every recorded payment chain verified
func (r *Report) OK() bool {
	for _, f := range r.Findings {
		if f.Error != "" {
			return false
		}
	}
	return true
}

// Auditor re-verifies recorded mandate chains
type Auditor struct {
	ledger   Ledger
	mandates *integrity.Service
}

// NewAuditor creates an auditor reading ledger and verifying with mandates
func NewAuditor(ledger Ledger, mandates *integrity.Service) *Auditor {
	return &Auditor{ledger: ledger, mandates: mandates}
}

// Audit checks every payment mandate recorded under contextID against the
// cart it claims to pay for. Token lifetimes are not considered.
func (a *Auditor) Audit(ctx context.Context, contextID string) (*Report, error) {
	entries, err := a.ledger.Entries(ctx, contextID)
	if err != nil {
		return nil, err
	}

	report := &Report{ContextID: contextID, Findings: []Finding{}}
	cartsByDetails := make(map[string]contracts.CartMandate)
	settled := make(map[string]bool)
	var payments []contracts.PaymentMandate

	for _, e := range entries {
		switch e.Kind {
		case KindCartMandate:
			var cart contracts.CartMandate
			if err := json.Unmarshal(e.Payload, &cart); err != nil {
				return nil, fmt.Errorf("failed to decode cart entry %d: %w", e.Seq, err)
			}
			cartsByDetails[cart.PaymentDetailsID()] = cart
			report.Carts++
		case KindPaymentMandate:
			var payment contracts.PaymentMandate
			if err := json.Unmarshal(e.Payload, &payment); err != nil {
				return nil, fmt.Errorf("failed to decode payment entry %d: %w", e.Seq, err)
			}
			payments = append(payments, payment)
			report.Payments++
		case KindReceipt:
			settled[e.SubjectID] = true
		}
	}

	for _, payment := range payments {
		finding := Finding{PaymentMandateID: payment.ID(), Settled: settled[payment.ID()]}
		cart, ok := cartsByDetails[payment.Contents.PaymentDetailsID]
		if !ok {
			finding.Error = fmt.Sprintf("no recorded cart for payment details %s", payment.Contents.PaymentDetailsID)
			report.Findings = append(report.Findings, finding)
			continue
		}
		finding.CartID = cart.ID()
		if err := a.mandates.VerifyChain(cart, payment); err != nil {
			finding.Error = err.Error()
		}
		report.Findings = append(report.Findings, finding)
	}
	return report, nil
}
