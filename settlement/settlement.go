// Package settlement is the port to the external payment processor that
// moves funds once a payment mandate exists.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/mandate-go/contracts"
	"github.com/google/uuid"
)

var (
	// ErrDeclined is returned when the processor refuses the charge
	ErrDeclined = errors.New("payment declined")
	// ErrMandateReused is returned when a mandate id is submitted twice
	ErrMandateReused = errors.New("payment mandate already submitted")
)

// Receipt records a completed settlement
type Receipt struct {
	ID               string                   `json:"id"`
	PaymentMandateID string                   `json:"payment_mandate_id"`
	Amount           contracts.CurrencyAmount `json:"amount"`
	MethodName       string                   `json:"method_name"`
	SettledAt        time.Time                `json:"settled_at"`
}

// Processor moves funds for a payment mandate
type Processor interface {
	Settle(ctx context.Context, mandate contracts.PaymentMandate) (*Receipt, error)
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(ctx context.Context, mandate contracts.PaymentMandate) (*Receipt, error)

func (f ProcessorFunc) Settle(ctx context.Context, mandate contracts.PaymentMandate) (*Receipt, error) {
	return f(ctx, mandate)
}

// SimulatedProcessor settles in memory. It can be scripted to decline the
// next attempts and never accepts the same mandate id twice.
type SimulatedProcessor struct {
	mu        sync.Mutex
	declines  int
	submitted map[string]bool
	receipts  []Receipt
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures the simulated processor
type Option func(*SimulatedProcessor)

// WithDeclines makes the next n settlements fail
func WithDeclines(n int) Option {
	return func(p *SimulatedProcessor) {
		p.declines = n
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(p *SimulatedProcessor) {
		p.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *SimulatedProcessor) {
		p.logger = logger
	}
}

// NewSimulatedProcessor creates a simulated processor
func NewSimulatedProcessor(opts ...Option) *SimulatedProcessor {
	p := &SimulatedProcessor{
		submitted: make(map[string]bool),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DeclineNext makes the next n settlements fail
func (p *SimulatedProcessor) DeclineNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.declines = n
}

// Receipts returns the settled payments in order
func (p *SimulatedProcessor) Receipts() []Receipt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Receipt(nil), p.receipts...)
}

// Settle implements Processor
func (p *SimulatedProcessor) Settle(ctx context.Context, mandate contracts.PaymentMandate) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := mandate.ID()
	if id == "" {
		return nil, fmt.Errorf("payment mandate has no id")
	}
	if p.submitted[id] {
		return nil, fmt.Errorf("%w: %s", ErrMandateReused, id)
	}
	p.submitted[id] = true

	if p.declines > 0 {
		p.declines--
		p.logger.Info("simulated decline", "paymentMandateId", id)
		return nil, fmt.Errorf("%w: issuer unavailable", ErrDeclined)
	}

	receipt := Receipt{
		ID:               "rcpt_" + uuid.New().String(),
		PaymentMandateID: id,
		Amount:           mandate.Contents.PaymentDetailsTotal.Amount,
		MethodName:       mandate.Contents.PaymentResponse.MethodName,
		SettledAt:        p.now().UTC(),
	}
	p.receipts = append(p.receipts, receipt)
	p.logger.Info("payment settled", "paymentMandateId", id, "receiptId", receipt.ID)
	return &receipt, nil
}
