// Package audit records signed mandates per transaction and re-verifies
// recorded chains after the fact.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/integrity"
)

// EntryKind names what an entry records
type EntryKind string

const (
	KindCartMandate    EntryKind = "cart_mandate"
	KindPaymentMandate EntryKind = "payment_mandate"
	KindReceipt        EntryKind = "receipt"
)

// Entry is one append-only ledger record
type Entry struct {
	Seq        int64           `json:"seq"`
	ContextID  string          `json:"context_id"`
	Kind       EntryKind       `json:"kind"`
	SubjectID  string          `json:"subject_id"`
	Digest     integrity.Hash  `json:"digest,omitempty"`
	Token      string          `json:"token,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Ledger stores entries in append order
type Ledger interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	Entries(ctx context.Context, contextID string) ([]Entry, error)
}

// CartEntry builds the entry for a signed cart
func CartEntry(contextID string, cart contracts.CartMandate) (Entry, error) {
	digest, err := integrity.Digest(cart.Contents)
	if err != nil {
		return Entry{}, err
	}
	payload, err := json.Marshal(cart)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal cart mandate: %w", err)
	}
	return Entry{
		ContextID: contextID,
		Kind:      KindCartMandate,
		SubjectID: cart.ID(),
		Digest:    digest,
		Token:     cart.MerchantAuthorization,
		Payload:   payload,
	}, nil
}

// PaymentEntry builds the entry for a signed payment mandate
func PaymentEntry(contextID string, payment contracts.PaymentMandate) (Entry, error) {
	digest, err := integrity.Digest(payment.Contents)
	if err != nil {
		return Entry{}, err
	}
	payload, err := json.Marshal(payment)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal payment mandate: %w", err)
	}
	return Entry{
		ContextID: contextID,
		Kind:      KindPaymentMandate,
		SubjectID: payment.ID(),
		Digest:    digest,
		Token:     payment.UserAuthorization,
		Payload:   payload,
	}, nil
}

// ReceiptEntry builds the entry for a settlement receipt
func ReceiptEntry(contextID, paymentMandateID string, receipt any) (Entry, error) {
	payload, err := json.Marshal(receipt)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return Entry{
		ContextID: contextID,
		Kind:      KindReceipt,
		SubjectID: paymentMandateID,
		Payload:   payload,
	}, nil
}

// MemoryLedger keeps entries in process memory
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{now: time.Now}
}

// Append implements Ledger
func (l *MemoryLedger) Append(ctx context.Context, entry Entry) (Entry, error) {
	if err := validate(entry); err != nil {
		return Entry{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Seq = int64(len(l.entries) + 1)
	entry.RecordedAt = l.now().UTC()
	entry.Payload = append(json.RawMessage(nil), entry.Payload...)
	l.entries = append(l.entries, entry)
	return entry, nil
}

// Entries implements Ledger
func (l *MemoryLedger) Entries(ctx context.Context, contextID string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if e.ContextID == contextID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Ping implements health.Pinger
func (l *MemoryLedger) Ping(ctx context.Context) error {
	return nil
}

func validate(entry Entry) error {
	if entry.ContextID == "" {
		return contracts.Validation("audit append", "entry has no context id")
	}
	switch entry.Kind {
	case KindCartMandate, KindPaymentMandate, KindReceipt:
	default:
		return contracts.Validation("audit append", "unknown entry kind %q", entry.Kind)
	}
	if len(entry.Payload) == 0 {
		return contracts.Validation("audit append", "entry has no payload")
	}
	return nil
}
