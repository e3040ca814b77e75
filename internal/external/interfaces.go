package external

import (
	"context"

	"storymagic/internal/types"
)

// PaymentProvider is the subset of the Stripe API the billing core uses.
// StripeClient is the production implementation; StubPaymentProvider backs
// local runs and tests.
type PaymentProvider interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error)
	GetCustomer(ctx context.Context, customerID string) (*types.ProviderCustomer, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error)
	CreateCheckoutSession(ctx context.Context, params types.CheckoutSessionParams) (*types.ProviderCheckoutSession, error)
}

// WebhookVerifier authenticates a raw webhook body against its signature
// header. Implementations must not parse the body before verifying it.
type WebhookVerifier interface {
	Verify(payload []byte, signatureHeader, secret string) error
}

var (
	_ PaymentProvider = (*StripeClient)(nil)
	_ PaymentProvider = (*StubPaymentProvider)(nil)
	_ WebhookVerifier = (*StripeVerifier)(nil)
)
