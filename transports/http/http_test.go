package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/health"
	"github.com/glimte/mandate-go/interceptors"
	"github.com/glimte/mandate-go/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo() messaging.Handler {
	return messaging.HandlerFunc(func(ctx context.Context, msg *contracts.Message) (*contracts.Message, error) {
		return messaging.NewReply(msg).WithText("echo: " + messaging.AllText(msg)).Build(), nil
	})
}

func failing(err error) messaging.Handler {
	return messaging.HandlerFunc(func(ctx context.Context, msg *contracts.Message) (*contracts.Message, error) {
		return nil, err
	})
}

func request(text string) *contracts.Message {
	return messaging.NewEnvelope(contracts.RoleUser).WithContext("ctx-http").WithText(text).Build()
}

func newTestServer(t *testing.T, opts ...ServerOption) (*Server, *httptest.Server) {
	srv := NewServer(opts...)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{contracts.Unauthorized("op", "x"), http.StatusUnauthorized},
		{contracts.Validation("op", "x"), http.StatusBadRequest},
		{contracts.Expired("op", "x"), http.StatusGone},
		{contracts.Integrity("op", "x"), http.StatusUnprocessableEntity},
		{contracts.Settlement("op", errors.New("declined")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusCode(tc.err), tc.err.Error())
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv, ts := newTestServer(t)
	require.NoError(t, srv.Register("echo", echo()))
	require.NoError(t, srv.Register("locked", failing(contracts.Unauthorized("locked", "caller %q is not trusted", "stranger"))))

	client := NewClient(ts.URL)
	defer client.Close()

	t.Run("reply keeps the context", func(t *testing.T) {
		req := request("hi")
		reply, err := client.Send(ctx, "echo", req)
		require.NoError(t, err)
		assert.Equal(t, "echo: hi", messaging.AllText(reply))
		assert.Equal(t, req.ContextID, reply.ContextID)
		assert.Equal(t, contracts.RoleAgent, reply.Role)
	})

	t.Run("typed errors survive the wire", func(t *testing.T) {
		_, err := client.Send(ctx, "locked", request("hi"))
		require.Error(t, err)
		assert.ErrorIs(t, err, contracts.ErrUnauthorized)
		assert.NotContains(t, err.Error(), "stranger")
	})

	t.Run("unknown agent", func(t *testing.T) {
		_, err := client.Send(ctx, "nobody", request("hi"))
		assert.ErrorIs(t, err, contracts.ErrValidation)
	})

	t.Run("works behind a peer", func(t *testing.T) {
		peer := messaging.NewPeer(client)
		reply, err := peer.Request(ctx, "echo", request("via peer"))
		require.NoError(t, err)
		assert.Equal(t, "echo: via peer", messaging.AllText(reply))
	})
}

func TestServerRejectsBadEnvelopes(t *testing.T) {
	srv, ts := newTestServer(t, WithMaxBodyBytes(64))
	require.NoError(t, srv.Register("echo", echo()))

	t.Run("not json", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/a2a/echo", "application/json", strings.NewReader("{nope"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body ErrorBody
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, contracts.CodeValidation, body.Error.Code)
	})

	t.Run("too large", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/a2a/echo", "application/json", strings.NewReader(strings.Repeat("x", 200)))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRegister(t *testing.T) {
	srv := NewServer()
	require.NoError(t, srv.Register("b", echo()))
	require.NoError(t, srv.Register("a", echo()))
	assert.Error(t, srv.Register("a", echo()))
	assert.Error(t, srv.Register("", echo()))
	assert.Error(t, srv.Register("c", nil))
	assert.Equal(t, []string{"a", "b"}, srv.Agents())
}

func TestOperationalEndpoints(t *testing.T) {
	registry := health.NewRegistry()
	metrics := interceptors.NewInMemoryMetrics()
	srv, ts := newTestServer(t, WithHealth(registry), WithMetrics(metrics))

	chain := interceptors.NewDefaultInterceptorChainBuilder("echo", nil).WithMetrics(metrics).Build()
	require.NoError(t, srv.Register("echo", chain.Wrap(echo())))

	_, err := NewClient(ts.URL).Send(context.Background(), "echo", request("count me"))
	require.NoError(t, err)

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		var stats []interceptors.AgentStats
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
		require.Len(t, stats, 1)
		assert.Equal(t, "echo", stats[0].Agent)
		assert.Equal(t, int64(1), stats[0].Requests)
	})

	t.Run("healthz follows the registry", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		registry.Register(health.NewCheckerFunc("ledger", func(ctx context.Context) health.CheckResult {
			return health.CheckResult{Name: "ledger", Status: health.StatusUnhealthy}
		}))
		resp, err = http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("agent listing", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/a2a")
		require.NoError(t, err)
		defer resp.Body.Close()
		var listing struct {
			Agents []string `json:"agents"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
		assert.Equal(t, []string{"echo"}, listing.Agents)
	})
}
