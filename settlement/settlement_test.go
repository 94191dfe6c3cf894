package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/glimte/mandate-go/contracts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mandate(id string) contracts.PaymentMandate {
	return contracts.PaymentMandate{Contents: contracts.PaymentMandateContents{
		PaymentMandateID: id,
		PaymentDetailsTotal: contracts.PaymentItem{
			Label:  "Total",
			Amount: contracts.CurrencyAmount{Currency: "USD", Value: decimal.RequireFromString("1850")},
		},
		PaymentResponse: contracts.PaymentResponse{MethodName: "pm-001"},
	}}
}

func TestSimulatedProcessor(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("settles and records a receipt", func(t *testing.T) {
		p := NewSimulatedProcessor(WithClock(func() time.Time { return at }))
		receipt, err := p.Settle(ctx, mandate("pm_1"))
		require.NoError(t, err)

		assert.Equal(t, "pm_1", receipt.PaymentMandateID)
		assert.Equal(t, "pm-001", receipt.MethodName)
		assert.Equal(t, "1850", receipt.Amount.Value.String())
		assert.Equal(t, at, receipt.SettledAt)
		assert.Len(t, p.Receipts(), 1)
	})

	t.Run("scripted declines", func(t *testing.T) {
		p := NewSimulatedProcessor(WithDeclines(1))
		_, err := p.Settle(ctx, mandate("pm_1"))
		assert.ErrorIs(t, err, ErrDeclined)

		_, err = p.Settle(ctx, mandate("pm_2"))
		assert.NoError(t, err)

		p.DeclineNext(2)
		_, err = p.Settle(ctx, mandate("pm_3"))
		assert.ErrorIs(t, err, ErrDeclined)
	})

	t.Run("a failed mandate is never accepted again", func(t *testing.T) {
		p := NewSimulatedProcessor(WithDeclines(1))
		_, err := p.Settle(ctx, mandate("pm_1"))
		require.ErrorIs(t, err, ErrDeclined)

		_, err = p.Settle(ctx, mandate("pm_1"))
		assert.ErrorIs(t, err, ErrMandateReused)
		assert.Empty(t, p.Receipts())
	})

	t.Run("rejects mandate without id and cancelled context", func(t *testing.T) {
		p := NewSimulatedProcessor()
		_, err := p.Settle(ctx, mandate(""))
		assert.Error(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = p.Settle(cctx, mandate("pm_9"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
