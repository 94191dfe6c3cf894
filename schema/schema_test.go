package schema

import (
	"testing"

	"github.com/glimte/mandate-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSession(t *testing.T) {
	t.Run("minimal session", func(t *testing.T) {
		errs, err := ValidateSession([]byte(`{"version":"1.0.0","state":"idle","history":[]}`))
		require.NoError(t, err)
		assert.Empty(t, errs)
	})

	t.Run("session with turns and carts", func(t *testing.T) {
		data := []byte(`{
			"version":"1.0.0",
			"context_id":"ctx-1",
			"state":"carts_offered",
			"history":[{"type":"user","text":"beach","at":"2026-06-01T09:00:00Z"},{"type":"agent","text":"ok"}],
			"carts":[{"contents":{"id":"cart_1","merchant_name":"Sunset Travel","cart_expiry":"2026-06-01T09:30:00Z",
				"payment_request":{"method_data":[],"details":{"id":"order_1","display_items":[],
				"total":{"label":"Total","amount":{"currency":"USD","value":"1850"}}}}},"merchant_authorization":"a.b.c"}],
			"attempts":0
		}`)
		errs, err := ValidateSession(data)
		require.NoError(t, err)
		assert.Empty(t, errs)
	})

	t.Run("unknown turn tag", func(t *testing.T) {
		err := CheckSession([]byte(`{"version":"1.0.0","state":"idle","history":[{"type":"system","text":"x"}]}`))
		assert.ErrorIs(t, err, contracts.ErrValidation)
	})

	t.Run("unknown state", func(t *testing.T) {
		err := CheckSession([]byte(`{"version":"1.0.0","state":"shipping","history":[]}`))
		assert.ErrorIs(t, err, contracts.ErrValidation)
	})

	t.Run("numeric amount is rejected", func(t *testing.T) {
		data := []byte(`{"version":"1.0.0","state":"payment_mandate_signed","history":[],
			"payment_mandate":{"payment_mandate_contents":{"payment_mandate_id":"pm","payment_details_id":"order",
			"payment_details_total":{"label":"Total","amount":{"currency":"USD","value":1850}}}}}`)
		err := CheckSession(data)
		assert.ErrorIs(t, err, contracts.ErrValidation)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ValidateSession([]byte(`{`))
		assert.Error(t, err)
	})
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		version string
		ok      bool
	}{
		{"1.0.0", true},
		{"1.4.2", true},
		{"2.0.0", false},
		{"0.9.0", false},
		{"latest", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := CheckVersion(tt.version)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, contracts.ErrValidation)
			}
		})
	}
	assert.Contains(t, string(SessionSchema()), "intent_gathering")
}
