package shopping

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glimte/mandate-go/agents/credentials"
	"github.com/glimte/mandate-go/agents/merchant"
	"github.com/glimte/mandate-go/audit"
	"github.com/glimte/mandate-go/catalog"
	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/identity"
	"github.com/glimte/mandate-go/integrity"
	"github.com/glimte/mandate-go/messaging"
	"github.com/glimte/mandate-go/settlement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingTransport keeps every request sent through it
type recordingTransport struct {
	messaging.Transport
	mu   sync.Mutex
	sent map[string][]*contracts.Message
}

func (r *recordingTransport) Send(ctx context.Context, agent string, msg *contracts.Message) (*contracts.Message, error) {
	r.mu.Lock()
	r.sent[agent] = append(r.sent[agent], msg)
	r.mu.Unlock()
	return r.Transport.Send(ctx, agent, msg)
}

type harness struct {
	clock     *testClock
	mandates  *integrity.Service
	transport *recordingTransport
	processor *settlement.SimulatedProcessor
	ledger    *audit.MemoryLedger
	orch      *Orchestrator
}

func newHarness(t *testing.T, opts ...settlement.Option) *harness {
	clock := &testClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	key, err := integrity.NewHMACKey("demo", []byte("shopping-test-secret-0123456789ab"))
	require.NoError(t, err)
	svc, err := integrity.NewService(key, integrity.WithClock(clock.Now))
	require.NoError(t, err)

	callers := identity.NewAllowList(identity.NewShoppingAgentCredential(identity.DefaultShoppingAgentID))
	inproc := messaging.NewInProcessTransport()
	require.NoError(t, inproc.Register(merchant.AgentName, merchant.New(catalog.Default(), svc, callers)))
	require.NoError(t, inproc.Register(credentials.AgentName,
		credentials.New(credentials.DefaultMethods(), callers, credentials.WithMandateVerification(svc))))

	transport := &recordingTransport{Transport: inproc, sent: make(map[string][]*contracts.Message)}
	processor := settlement.NewSimulatedProcessor(append(opts, settlement.WithClock(clock.Now))...)
	ledger := audit.NewMemoryLedger()

	orch := New(messaging.NewPeer(transport), svc, processor,
		WithLedger(ledger),
		WithPayer("Ada Traveler", "ada@example.com"))

	return &harness{clock: clock, mandates: svc, transport: transport, processor: processor, ledger: ledger, orch: orch}
}

func (h *harness) sent(agent string) []*contracts.Message {
	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	return append([]*contracts.Message(nil), h.transport.sent[agent]...)
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	s, err := h.orch.Submit(ctx, NewSession(), "tropical beach vacation")
	require.NoError(t, err)
	assert.Equal(t, StateCartsOffered, s.State)
	assert.NotEmpty(t, s.ContextID)
	require.NotEmpty(t, s.Carts)
	assert.LessOrEqual(t, len(s.Carts), 3)
	for _, cart := range s.Carts {
		_, err := h.mandates.VerifyCartMandate(cart)
		assert.NoError(t, err)
		assert.True(t, cart.Total().Amount.Value.GreaterThan(decimal.Zero))
	}

	first := s.Carts[0]
	s, err = h.orch.SelectCart(ctx, s, first.ID())
	require.NoError(t, err)
	assert.Equal(t, StatePaymentMethodsOffered, s.State)
	assert.Len(t, s.PaymentMethods, 3)

	s, err = h.orch.Confirm(ctx, s, "pm-001")
	require.NoError(t, err)
	assert.Equal(t, StatePaymentMandateSigned, s.State)
	require.NotNil(t, s.PaymentMandate)

	pm := *s.PaymentMandate
	assert.True(t, pm.Contents.PaymentDetailsTotal.Equal(first.Total()))
	assert.Equal(t, first.PaymentDetailsID(), pm.Contents.PaymentDetailsID)
	assert.Equal(t, "pm-001", pm.Contents.PaymentResponse.MethodName)
	assert.Equal(t, "Ada Traveler", pm.Contents.PaymentResponse.PayerName)
	_, err = h.mandates.VerifyPaymentMandate(pm, first)
	assert.NoError(t, err)

	s, err = h.orch.Settle(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, StatePaymentSettled, s.State)
	require.NotNil(t, s.Receipt)
	assert.Equal(t, pm.ID(), s.Receipt.PaymentMandateID)
	assert.Equal(t, 1, s.Attempts)
	assert.True(t, s.State.Terminal())

	t.Run("every envelope carries the session context", func(t *testing.T) {
		for _, agent := range []string{merchant.AgentName, credentials.AgentName} {
			for _, msg := range h.sent(agent) {
				assert.Equal(t, s.ContextID, msg.ContextID)
				caller, _ := messaging.StringData(msg, contracts.KeyCallerID)
				assert.Equal(t, identity.DefaultShoppingAgentID, caller)
			}
		}
	})

	t.Run("ledger chain audits clean", func(t *testing.T) {
		report, err := audit.NewAuditor(h.ledger, h.mandates).Audit(ctx, s.ContextID)
		require.NoError(t, err)
		assert.True(t, report.OK())
		assert.Equal(t, len(s.Carts), report.Carts)
		require.Len(t, report.Findings, 1)
		assert.True(t, report.Findings[0].Settled)
	})

	t.Run("settled session accepts nothing more", func(t *testing.T) {
		_, err := h.orch.Submit(ctx, s, "another trip")
		assert.ErrorIs(t, err, contracts.ErrValidation)
		_, err = h.orch.Retry(ctx, s)
		assert.ErrorIs(t, err, contracts.ErrValidation)
	})
}

func TestRetryAfterSettlementFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, settlement.WithDeclines(1))

	s, err := h.orch.Submit(ctx, NewSession(), "tropical beach vacation")
	require.NoError(t, err)
	s, err = h.orch.SelectCart(ctx, s, s.Carts[0].ID())
	require.NoError(t, err)
	s, err = h.orch.Confirm(ctx, s, "pm-001")
	require.NoError(t, err)
	failed := *s.PaymentMandate

	s, err = h.orch.Settle(ctx, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrSettlement)
	assert.ErrorIs(t, err, settlement.ErrDeclined)
	assert.Equal(t, StatePaymentFailed, s.State)

	_, err = h.orch.Settle(ctx, s)
	assert.ErrorIs(t, err, contracts.ErrValidation)

	s, err = h.orch.Retry(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, StatePaymentMandateSigned, s.State)
	retried := *s.PaymentMandate
	assert.NotEqual(t, failed.ID(), retried.ID())
	assert.NotEqual(t, failed.UserAuthorization, retried.UserAuthorization)
	assert.True(t, retried.Contents.PaymentDetailsTotal.Equal(failed.Contents.PaymentDetailsTotal))

	s, err = h.orch.Settle(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, StatePaymentSettled, s.State)
	assert.Equal(t, 2, s.Attempts)
	assert.Equal(t, retried.ID(), s.Receipt.PaymentMandateID)
}

func TestTwoIntentsShareContext(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	s, err := h.orch.Submit(ctx, NewSession(), "tropical beach vacation")
	require.NoError(t, err)
	s, err = h.orch.Submit(ctx, s, "somewhere with snow for skiing instead")
	require.NoError(t, err)

	sent := h.sent(merchant.AgentName)
	require.Len(t, sent, 2)
	assert.Equal(t, s.ContextID, sent[0].ContextID)
	assert.Equal(t, sent[0].ContextID, sent[1].ContextID)
	assert.NotEqual(t, sent[0].MessageID, sent[1].MessageID)

	var intent contracts.IntentMandate
	require.NoError(t, messaging.DecodeData(sent[1], contracts.KeyIntentMandate, &intent))
	assert.Equal(t, "tropical beach vacation somewhere with snow for skiing instead", intent.NaturalLanguageDescription)
}

func TestExpiredCartIsReplaced(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	s, err := h.orch.Submit(ctx, NewSession(), "tropical beach vacation")
	require.NoError(t, err)
	stale := s.Carts[0]

	h.clock.Advance(merchant.DefaultCartWindow + time.Minute)
	s, err = h.orch.SelectCart(ctx, s, stale.ID())
	assert.ErrorIs(t, err, contracts.ErrExpired)
	assert.Equal(t, StateCartsOffered, s.State)
	require.NotEmpty(t, s.Carts)
	_, still := s.Cart(stale.ID())
	assert.False(t, still)
	assert.Len(t, h.sent(merchant.AgentName), 2)

	s, err = h.orch.SelectCart(ctx, s, s.Carts[0].ID())
	require.NoError(t, err)
	assert.Equal(t, StatePaymentMethodsOffered, s.State)
}

func TestTamperedCartAborts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	s, err := h.orch.Submit(ctx, NewSession(), "tropical beach vacation")
	require.NoError(t, err)
	s.Carts[0].Contents.PaymentRequest.Details.Total.Amount.Value = decimal.RequireFromString("1.00")

	s, err = h.orch.SelectCart(ctx, s, s.Carts[0].ID())
	assert.ErrorIs(t, err, contracts.ErrIntegrity)
	assert.Equal(t, StateAborted, s.State)
	assert.True(t, s.State.Terminal())
	assert.Empty(t, h.sent(credentials.AgentName))
}

func TestContextMismatchRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	rogue := messaging.HandlerFunc(func(ctx context.Context, msg *contracts.Message) (*contracts.Message, error) {
		return messaging.NewReply(msg).WithContext("ctx-other").
			WithData(contracts.KeyCartMandates, []contracts.CartMandate{}).Build(), nil
	})
	inproc := messaging.NewInProcessTransport()
	require.NoError(t, inproc.Register(merchant.AgentName, rogue))
	orch := New(messaging.NewPeer(inproc), h.mandates, h.processor)

	s, err := orch.Submit(ctx, NewSession(), "tropical beach vacation")
	assert.ErrorIs(t, err, contracts.ErrValidation)
	assert.Equal(t, StateIntentGathering, s.State)
	assert.Empty(t, s.Carts)
}

func TestUnauthorizedShoppingAgent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	orch := New(messaging.NewPeer(h.transport), h.mandates, h.processor, WithAgentID("rogue_agent"))

	s, err := orch.Submit(ctx, NewSession(), "tropical beach vacation")
	assert.ErrorIs(t, err, contracts.ErrUnauthorized)
	assert.NotEqual(t, StateCartsOffered, s.State)
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.orch.Submit(ctx, NewSession(), "")
	assert.ErrorIs(t, err, contracts.ErrValidation)

	_, err = h.orch.SelectCart(ctx, NewSession(), "cart_x")
	assert.ErrorIs(t, err, contracts.ErrValidation)

	_, err = h.orch.Confirm(ctx, NewSession(), "pm-001")
	assert.ErrorIs(t, err, contracts.ErrValidation)

	s, err := h.orch.Submit(ctx, NewSession(), "tropical beach vacation")
	require.NoError(t, err)
	_, err = h.orch.SelectCart(ctx, s, "cart_unknown")
	assert.ErrorIs(t, err, contracts.ErrValidation)

	s, err = h.orch.SelectCart(ctx, s, s.Carts[0].ID())
	require.NoError(t, err)
	_, err = h.orch.Confirm(ctx, s, "pm-999")
	assert.ErrorIs(t, err, contracts.ErrValidation)
}

func TestSessionSurvivesSerialization(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	s, err := h.orch.Submit(ctx, NewSession(), "tropical beach vacation")
	require.NoError(t, err)
	s, err = h.orch.SelectCart(ctx, s, s.Carts[0].ID())
	require.NoError(t, err)
	s, err = h.orch.Confirm(ctx, s, "pm-001")
	require.NoError(t, err)

	data, err := MarshalSession(s)
	require.NoError(t, err)
	restored, err := UnmarshalSession(data)
	require.NoError(t, err)
	assert.Equal(t, s.ContextID, restored.ContextID)
	assert.Equal(t, s.State, restored.State)

	settled, err := h.orch.Settle(ctx, restored)
	require.NoError(t, err)
	assert.Equal(t, StatePaymentSettled, settled.State)
}

// receiptRejectingLedger fails every receipt append
type receiptRejectingLedger struct {
	*audit.MemoryLedger
}

func (l receiptRejectingLedger) Append(ctx context.Context, entry audit.Entry) (audit.Entry, error) {
	if entry.Kind == audit.KindReceipt {
		return audit.Entry{}, errors.New("db down")
	}
	return l.MemoryLedger.Append(ctx, entry)
}

func signedSession(t *testing.T, ctx context.Context, orch *Orchestrator) Session {
	t.Helper()
	s, err := orch.Submit(ctx, NewSession(), "tropical beach vacation")
	require.NoError(t, err)
	s, err = orch.SelectCart(ctx, s, s.Carts[0].ID())
	require.NoError(t, err)
	s, err = orch.Confirm(ctx, s, "pm-001")
	require.NoError(t, err)
	return s
}

func TestSettledDespiteLedgerFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	orch := New(messaging.NewPeer(h.transport), h.mandates, h.processor,
		WithLedger(receiptRejectingLedger{MemoryLedger: audit.NewMemoryLedger()}))

	s := signedSession(t, ctx, orch)

	settled, err := orch.Settle(ctx, s)
	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, StatePaymentSettled, settled.State)
	require.NotNil(t, settled.Receipt)
	assert.Len(t, h.processor.Receipts(), 1)

	t.Run("settled session cannot be charged again", func(t *testing.T) {
		again, err := orch.Settle(ctx, settled)
		assert.ErrorIs(t, err, contracts.ErrValidation)
		assert.Equal(t, StatePaymentSettled, again.State)

		_, err = orch.Retry(ctx, settled)
		assert.ErrorIs(t, err, contracts.ErrValidation)
		assert.Len(t, h.processor.Receipts(), 1)
	})
}

func TestCredentialsRejectionIsNotSettlementFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	s := signedSession(t, ctx, h.orch)

	rogue := New(messaging.NewPeer(h.transport), h.mandates, h.processor, WithAgentID("rogue_agent"))
	rejected, err := rogue.Settle(ctx, s)
	assert.ErrorIs(t, err, contracts.ErrUnauthorized)
	assert.NotErrorIs(t, err, contracts.ErrSettlement)
	assert.Equal(t, StatePaymentMandateSigned, rejected.State)
	assert.Empty(t, h.processor.Receipts())

	settled, err := h.orch.Settle(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, StatePaymentSettled, settled.State)
}
