package mandate

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/glimte/mandate-go/agents/credentials"
	"github.com/glimte/mandate-go/agents/merchant"
	"github.com/glimte/mandate-go/catalog"
	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/health"
	"github.com/glimte/mandate-go/integrity"
	"github.com/glimte/mandate-go/settlement"
	"github.com/glimte/mandate-go/shopping"
	httptransport "github.com/glimte/mandate-go/transports/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkShop(t *testing.T) {
	ctx := context.Background()
	n, err := NewNetwork(WithPayer("Ada Traveler", "ada@example.com"))
	require.NoError(t, err)
	defer n.Close()

	s, err := n.Shop(ctx, "tropical beach vacation", "pm-001")
	require.NoError(t, err)
	assert.Equal(t, shopping.StatePaymentSettled, s.State)
	require.NotNil(t, s.Receipt)

	report, err := n.Audit(ctx, s.ContextID)
	require.NoError(t, err)
	assert.True(t, report.OK())

	t.Run("local agents are instrumented", func(t *testing.T) {
		stats := n.Metrics().Snapshot()
		require.Len(t, stats, 2)
		for _, st := range stats {
			assert.Positive(t, st.Requests, st.Agent)
		}
	})

	t.Run("health covers ledger and matcher", func(t *testing.T) {
		report := n.Health().Check(ctx)
		assert.Equal(t, health.StatusHealthy, report.Status)
		assert.Contains(t, report.Checks, "audit_ledger")
		assert.Contains(t, report.Checks, "catalog_matcher")
	})
}

func TestNetworkOptions(t *testing.T) {
	ctx := context.Background()

	t.Run("untrusted shopping agent", func(t *testing.T) {
		n, err := NewNetwork(
			WithShoppingAgentID("rogue_agent"),
			WithTrustedCallers("trusted_shopping_agent"))
		require.NoError(t, err)

		_, err = n.Shop(ctx, "tropical beach vacation", "pm-001")
		assert.ErrorIs(t, err, contracts.ErrUnauthorized)
	})

	t.Run("declining processor", func(t *testing.T) {
		n, err := NewNetwork(WithProcessor(settlement.NewSimulatedProcessor(settlement.WithDeclines(1))))
		require.NoError(t, err)

		s, err := n.Shop(ctx, "tropical beach vacation", "pm-002")
		assert.ErrorIs(t, err, contracts.ErrSettlement)
		assert.Equal(t, shopping.StatePaymentFailed, s.State)

		s, err = n.Orchestrator().Retry(ctx, s)
		require.NoError(t, err)
		s, err = n.Orchestrator().Settle(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, shopping.StatePaymentSettled, s.State)
	})

	t.Run("failing matcher falls back", func(t *testing.T) {
		broken := catalog.MatcherFunc(func(context.Context, string, []catalog.Item) ([]string, error) {
			return nil, errors.New("matcher offline")
		})
		n, err := NewNetwork(WithMatcher(broken))
		require.NoError(t, err)

		s, err := n.Orchestrator().Submit(ctx, shopping.NewSession(), "tropical beach vacation")
		require.NoError(t, err)
		assert.NotEmpty(t, s.Carts)
	})

	t.Run("explicit signing key", func(t *testing.T) {
		key, err := integrity.NewHMACKey("shared", []byte("network-test-secret-0123456789abc"))
		require.NoError(t, err)
		n, err := NewNetwork(WithSigningKey(key))
		require.NoError(t, err)

		s, err := n.Orchestrator().Submit(ctx, shopping.NewSession(), "tropical beach vacation")
		require.NoError(t, err)
		require.NotEmpty(t, s.Carts)
		decoded, err := integrity.Decode(s.Carts[0].MerchantAuthorization)
		require.NoError(t, err)
		assert.Equal(t, "shared", decoded.Header["kid"])
	})
}

func TestNetworkOverHTTP(t *testing.T) {
	ctx := context.Background()
	key, err := integrity.NewHMACKey("shared", []byte("network-test-secret-0123456789abc"))
	require.NoError(t, err)

	host, err := NewNetwork(WithSigningKey(key))
	require.NoError(t, err)

	srv := httptransport.NewServer(httptransport.WithHealth(host.Health()), httptransport.WithMetrics(host.Metrics()))
	handlers := host.Handlers()
	require.Contains(t, handlers, merchant.AgentName)
	require.Contains(t, handlers, credentials.AgentName)
	for name, h := range handlers {
		require.NoError(t, srv.Register(name, h))
	}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client, err := NewNetwork(WithSigningKey(key), WithTransport(httptransport.NewClient(ts.URL)))
	require.NoError(t, err)
	defer client.Close()
	assert.Empty(t, client.Handlers())

	s, err := client.Shop(ctx, "tropical beach vacation", "pm-003")
	require.NoError(t, err)
	assert.Equal(t, shopping.StatePaymentSettled, s.State)
}
