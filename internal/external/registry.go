package external

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storymagic/internal/config"
)

// stripeHTTPTimeout bounds a single Stripe attempt; retries add to it.
const stripeHTTPTimeout = 20 * time.Second

// ClientRegistry holds the external clients the service is wired with.
type ClientRegistry struct {
	Payments PaymentProvider

	// WebhookVerifier is always the real HMAC check; there is no stub.
	WebhookVerifier WebhookVerifier
}

// NewClientRegistry builds the clients for cfg. Test mode, and local runs
// without a Stripe test key, get StubPaymentProvider so the service boots
// without network access.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg := &ClientRegistry{
		WebhookVerifier: NewStripeVerifier(cfg.Billing.WebhookTolerance),
	}

	if useStubPayments(cfg) {
		logger.Info("initializing payment provider in STUB mode",
			"is_test_mode", cfg.IsTestMode,
			"environment", cfg.Environment,
		)
		reg.Payments = NewStubPaymentProvider(logger.With("mode", "stub"))
		return reg, nil
	}

	logger.Info("initializing payment provider", "environment", cfg.Environment)
	reg.Payments = NewStripeClient(&http.Client{Timeout: stripeHTTPTimeout}, StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
		BaseURL:   cfg.Billing.StripeAPIBaseURL,
		Logger:    logger.With("client", "stripe"),
	})
	return reg, nil
}

func useStubPayments(cfg *config.Config) bool {
	if cfg.IsTestMode {
		return true
	}
	return cfg.IsLocal() && !strings.HasPrefix(cfg.Billing.StripeSecretKey.Unmask(), "sk_test_")
}
