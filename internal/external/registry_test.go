package external

import (
	"context"
	"testing"

	"storymagic/internal/config"
	"storymagic/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(env string, testMode bool, key string) *config.Config {
	return &config.Config{
		Environment: env,
		IsTestMode:  testMode,
		Billing: config.BillingConfig{
			StripeSecretKey:     types.SecretString(key),
			StripeWebhookSecret: "whsec_x",
		},
	}
}

func TestNewClientRegistry_StubSelection(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.Config
		wantStub bool
	}{
		{"test mode", testConfig("prod", true, "sk_live_x"), true},
		{"local without test key", testConfig("local", false, ""), true},
		{"local with test key", testConfig("local", false, "sk_test_x"), false},
		{"production", testConfig("prod", false, "sk_live_x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewClientRegistry(tt.cfg, nil)
			require.NoError(t, err)

			_, isStub := reg.Payments.(*StubPaymentProvider)
			assert.Equal(t, tt.wantStub, isStub)
			_, isReal := reg.WebhookVerifier.(*StripeVerifier)
			assert.True(t, isReal, "webhook verification is never stubbed")
		})
	}
}

func TestStubPaymentProvider_CancelRoundTrip(t *testing.T) {
	stub := NewStubPaymentProvider(nil)
	stub.PutSubscription(types.ProviderSubscription{ID: "sub_1", Customer: "cus_1", Status: types.SubscriptionStatusTrialing})

	sub, err := stub.CancelAtPeriodEnd(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, types.SubscriptionStatusTrialing, sub.Status)

	again, err := stub.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.True(t, again.CancelAtPeriodEnd)
}

func TestStubPaymentProvider_Defaults(t *testing.T) {
	stub := NewStubPaymentProvider(nil)

	sub, err := stub.GetSubscription(context.Background(), "sub_new")
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusActive, sub.Status)
	assert.NotEmpty(t, sub.Customer)

	sess, err := stub.CreateCheckoutSession(context.Background(), types.CheckoutSessionParams{UserID: "u1", PriceID: "price_x"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.NotEmpty(t, sess.URL)
	assert.Equal(t, "u1", sess.ClientReferenceID)
}
