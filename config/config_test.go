package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, TransportInProcess, cfg.Transport)
		assert.Equal(t, "trusted_shopping_agent", cfg.Shopping.AgentID)
		assert.Equal(t, []string{"trusted_shopping_agent"}, cfg.Shopping.TrustedCallers)
		assert.Equal(t, time.Hour, cfg.Shopping.IntentTTL)
		assert.Equal(t, 30*time.Minute, cfg.Merchant.CartWindow)
		assert.Empty(t, cfg.Postgres.URL)
	})

	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mandate.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
transport: http
http:
  addr: ":9090"
shopping:
  intent_ttl: 15m
  trusted_callers: [agent_a, agent_b]
merchant:
  cart_window: 5m
log:
  level: debug
  format: json
`), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, TransportHTTP, cfg.Transport)
		assert.Equal(t, ":9090", cfg.HTTP.Addr)
		assert.Equal(t, 15*time.Minute, cfg.Shopping.IntentTTL)
		assert.Equal(t, []string{"agent_a", "agent_b"}, cfg.Shopping.TrustedCallers)
		assert.Equal(t, 5*time.Minute, cfg.Merchant.CartWindow)
	})

	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("MANDATE_TRANSPORT", "amqp")
		t.Setenv("MANDATE_AMQP_URL", "amqp://broker:5672/")
		t.Setenv("MANDATE_SHOPPING_REQUEST_TIMEOUT", "5s")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, TransportAMQP, cfg.Transport)
		assert.Equal(t, "amqp://broker:5672/", cfg.AMQP.URL)
		assert.Equal(t, 5*time.Second, cfg.Shopping.RequestTimeout)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Setenv("MANDATE_TRANSPORT", "carrier-pigeon")
	t.Setenv("MANDATE_SIGNING_SECRET", "short")
	t.Setenv("MANDATE_LOG_LEVEL", "loud")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
	assert.Contains(t, err.Error(), "32 bytes")
	assert.Contains(t, err.Error(), "log.level")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{Log: LogConfig{Level: "warn", Format: "json"}}
	logger := cfg.Logger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "agent", "merchant_agent")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"agent":"merchant_agent"`)
}
