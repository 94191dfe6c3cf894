package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/glimte/mandate-go/contracts"
	"github.com/glimte/mandate-go/messaging"
)

// Client sends envelopes to agents served by a Server
type Client struct {
	baseURL    string
	routes     map[string]string
	httpClient *http.Client
	serializer *messaging.JSONSerializer
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAgentURL routes agent to a different server
func WithAgentURL(agent, baseURL string) ClientOption {
	return func(cl *Client) {
		cl.routes[agent] = strings.TrimRight(baseURL, "/")
	}
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		routes:     make(map[string]string),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		serializer: messaging.NewJSONSerializer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint(agent string) string {
	base := c.baseURL
	if routed, ok := c.routes[agent]; ok {
		base = routed
	}
	return base + "/a2a/" + url.PathEscape(agent)
}

// Send implements messaging.Transport. Error responses come back as the
// typed error the agent returned.
func (c *Client) Send(ctx context.Context, agent string, msg *contracts.Message) (*contracts.Message, error) {
	data, err := c.serializer.Serialize(msg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(agent), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach agent %s: %w", agent, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read reply from %s: %w", agent, err)
	}

	if resp.StatusCode != http.StatusOK {
		var eb ErrorBody
		if err := json.Unmarshal(body, &eb); err != nil || eb.Error.Code == "" {
			return nil, fmt.Errorf("agent %s answered %d", agent, resp.StatusCode)
		}
		return nil, eb.Error.Err()
	}
	return c.serializer.Deserialize(body)
}

// Close implements messaging.Transport
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
