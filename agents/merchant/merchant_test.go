package merchant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glimte/mandate-go/catalog"
	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/identity"
	"github.com/glimte/mandate-go/integrity"
	"github.com/glimte/mandate-go/messaging"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) *integrity.Service {
	key, err := integrity.NewHMACKey("demo", []byte("merchant-test-secret-0123456789ab"))
	require.NoError(t, err)
	svc, err := integrity.NewService(key, integrity.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return svc
}

func newAgent(t *testing.T, opts ...Option) (*Agent, *integrity.Service) {
	svc := newService(t)
	callers := identity.NewAllowList(identity.NewShoppingAgentCredential(identity.DefaultShoppingAgentID))
	return New(catalog.Default(), svc, callers, opts...), svc
}

func intentMessage(caller string, intent contracts.IntentMandate) *contracts.Message {
	return messaging.NewEnvelope(contracts.RoleAgent).
		WithContext("ctx-merchant").
		WithTask("task-1").
		WithText("Find me carts").
		WithData(contracts.KeyIntentMandate, intent).
		WithData(contracts.KeyCallerID, caller).
		Build()
}

func tropical() contracts.IntentMandate {
	return contracts.IntentMandate{
		NaturalLanguageDescription:   "tropical beach vacation",
		UserCartConfirmationRequired: true,
		IntentExpiry:                 now.Add(time.Hour),
	}
}

func TestLineItemPolicy(t *testing.T) {
	prices := []string{"4200.00", "1399.99", "0.01", "1", "2275.50", "999.995"}
	for _, p := range prices {
		t.Run(p, func(t *testing.T) {
			price := decimal.RequireFromString(p)
			pkg, ins, fee := DefaultPolicy.Split(price)
			assert.True(t, pkg.Add(ins).Add(fee).Equal(price))
		})
	}

	pkg, ins, fee := DefaultPolicy.Split(decimal.RequireFromString("1000"))
	assert.Equal(t, "850", pkg.String())
	assert.Equal(t, "100", ins.String())
	assert.Equal(t, "50", fee.String())
}

func TestHandleMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("returns signed carts for matched items", func(t *testing.T) {
		agent, svc := newAgent(t)
		reply, err := agent.HandleMessage(ctx, intentMessage(identity.DefaultShoppingAgentID, tropical()))
		require.NoError(t, err)

		assert.Equal(t, "ctx-merchant", reply.ContextID)
		assert.Equal(t, "task-1", reply.TaskID)
		assert.Contains(t, messaging.AllText(reply), "Sunset Travel found 3 option(s)")

		var carts []contracts.CartMandate
		require.NoError(t, messaging.DecodeData(reply, contracts.KeyCartMandates, &carts))
		require.Len(t, carts, 3)

		ids := map[string]bool{}
		for _, cart := range carts {
			_, err := svc.VerifyCartMandate(cart)
			require.NoError(t, err)
			assert.True(t, cart.Total().Amount.Value.IsPositive())
			assert.True(t, now.Add(DefaultCartWindow).Equal(cart.Contents.CartExpiry))
			assert.Len(t, cart.Contents.PaymentRequest.Details.DisplayItems, 3)
			assert.True(t, cart.Contents.UserCartConfirmationRequired)
			assert.False(t, ids[cart.ID()])
			ids[cart.ID()] = true

			sum := decimal.Zero
			for _, it := range cart.Contents.PaymentRequest.Details.DisplayItems {
				sum = sum.Add(it.Amount.Value)
			}
			assert.True(t, sum.Equal(cart.Total().Amount.Value))
		}
	})

	t.Run("carts survive the wire", func(t *testing.T) {
		agent, svc := newAgent(t)
		transport := messaging.NewInProcessTransport()
		require.NoError(t, transport.Register(AgentName, agent))

		reply, err := transport.Send(ctx, AgentName, intentMessage(identity.DefaultShoppingAgentID, tropical()))
		require.NoError(t, err)

		var carts []contracts.CartMandate
		require.NoError(t, messaging.DecodeData(reply, contracts.KeyCartMandates, &carts))
		require.NotEmpty(t, carts)
		for _, cart := range carts {
			_, err := svc.VerifyCartMandate(cart)
			assert.NoError(t, err)
		}
	})

	t.Run("untrusted caller is rejected regardless of payload", func(t *testing.T) {
		agent, _ := newAgent(t)
		for _, caller := range []string{"", "rogue_agent", "  " + identity.DefaultShoppingAgentID + "\n"} {
			_, err := agent.HandleMessage(ctx, intentMessage(caller, tropical()))
			assert.ErrorIs(t, err, contracts.ErrUnauthorized)
		}

		msg := messaging.NewEnvelope(contracts.RoleAgent).WithData(contracts.KeyCallerID, "rogue_agent").Build()
		_, err := agent.HandleMessage(ctx, msg)
		assert.ErrorIs(t, err, contracts.ErrUnauthorized)
	})

	t.Run("missing intent is a validation error", func(t *testing.T) {
		agent, _ := newAgent(t)
		msg := messaging.NewEnvelope(contracts.RoleAgent).
			WithData(contracts.KeyCallerID, identity.DefaultShoppingAgentID).
			Build()
		_, err := agent.HandleMessage(ctx, msg)
		assert.ErrorIs(t, err, contracts.ErrValidation)

		_, err = agent.HandleMessage(ctx, intentMessage(identity.DefaultShoppingAgentID, contracts.IntentMandate{}))
		assert.ErrorIs(t, err, contracts.ErrValidation)
	})

	t.Run("expired intent", func(t *testing.T) {
		agent, _ := newAgent(t)
		intent := tropical()
		intent.IntentExpiry = now.Add(-time.Second)
		_, err := agent.HandleMessage(ctx, intentMessage(identity.DefaultShoppingAgentID, intent))
		assert.ErrorIs(t, err, contracts.ErrExpired)
	})

	t.Run("refundability and sku filters", func(t *testing.T) {
		agent, _ := newAgent(t)

		intent := tropical()
		intent.RequiresRefundability = true
		carts, err := agent.CreateCarts(ctx, intent)
		require.NoError(t, err)
		require.Len(t, carts, 2)
		assert.Contains(t, carts[0].Contents.PaymentRequest.Details.DisplayItems[0].Label, "Maldives")
		assert.Contains(t, carts[1].Contents.PaymentRequest.Details.DisplayItems[0].Label, "Bali")

		intent = tropical()
		intent.SKUs = []string{"pkg-cancun-4n"}
		carts, err = agent.CreateCarts(ctx, intent)
		require.NoError(t, err)
		require.Len(t, carts, 1)
		assert.Equal(t, "1399.99", carts[0].Total().Amount.Value.StringFixed(2))
	})

	t.Run("other merchant requested", func(t *testing.T) {
		agent, _ := newAgent(t)
		intent := tropical()
		intent.Merchants = []string{"Another Shop"}

		reply, err := agent.HandleMessage(ctx, intentMessage(identity.DefaultShoppingAgentID, intent))
		require.NoError(t, err)
		var carts []contracts.CartMandate
		require.NoError(t, messaging.DecodeData(reply, contracts.KeyCartMandates, &carts))
		assert.Empty(t, carts)
		assert.Contains(t, messaging.AllText(reply), "no packages")
	})

	t.Run("failing matcher falls back to first three", func(t *testing.T) {
		broken := catalog.NewResilientMatcher(catalog.MatcherFunc(func(context.Context, string, []catalog.Item) ([]string, error) {
			return nil, errors.New("matcher down")
		}))
		agent, _ := newAgent(t, WithMatcher(broken))

		intent := tropical()
		intent.NaturalLanguageDescription = "ski trip"
		carts, err := agent.CreateCarts(ctx, intent)
		require.NoError(t, err)
		require.Len(t, carts, 3)
		assert.Contains(t, carts[0].Contents.PaymentRequest.Details.DisplayItems[0].Label, "Maldives")
	})

	t.Run("custom cart window", func(t *testing.T) {
		agent, _ := newAgent(t, WithCartWindow(5*time.Minute), WithAcceptedMethods(contracts.PaymentMethodCard))
		carts, err := agent.CreateCarts(ctx, tropical())
		require.NoError(t, err)
		require.NotEmpty(t, carts)
		assert.True(t, now.Add(5*time.Minute).Equal(carts[0].Contents.CartExpiry))
		assert.Len(t, carts[0].Contents.PaymentRequest.MethodData, 1)
	})
}
