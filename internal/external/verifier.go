package external

import (
	"errors"
	"strings"
	"time"

	"storymagic/internal/types"

	"github.com/stripe/stripe-go/v82/webhook"
)

// DefaultWebhookTolerance is the maximum accepted age of a signed timestamp.
const DefaultWebhookTolerance = webhook.DefaultTolerance

// StripeVerifier checks Stripe-Signature headers using the HMAC scheme from
// stripe-go's webhook package. Only the signature is checked; the event's API
// version is not compared against the library's.
type StripeVerifier struct {
	tolerance time.Duration
}

// NewStripeVerifier returns a verifier that rejects timestamps older than
// tolerance. A non-positive tolerance selects DefaultWebhookTolerance.
func NewStripeVerifier(tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}
	return &StripeVerifier{tolerance: tolerance}
}

// Verify returns nil only when header carries a valid signature of payload
// made with secret inside the tolerance window.
//
// Error codes: internal_configuration_error for an empty secret,
// auth_signature_missing for an empty header and auth_signature_mismatch for
// every other failure.
func (v *StripeVerifier) Verify(payload []byte, header, secret string) error {
	if secret == "" {
		return types.NewAppError(types.ErrCodeInternalConfiguration, "Webhook signing secret is not configured", nil)
	}
	if strings.TrimSpace(header) == "" {
		return types.NewAppError(types.ErrCodeAuthSignatureMissing, "Missing Stripe signature", nil)
	}

	tolerance := v.tolerance
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}

	if err := webhook.ValidatePayloadWithTolerance(payload, header, secret, tolerance); err != nil {
		return types.NewAppErrorWithDetails(
			types.ErrCodeAuthSignatureMismatch,
			"Webhook Error: "+signatureFailureReason(err),
			err,
			map[string]any{"reason": signatureFailureReason(err)},
		)
	}
	return nil
}

func signatureFailureReason(err error) string {
	switch {
	case errors.Is(err, webhook.ErrTooOld):
		return "timestamp outside the tolerance zone"
	case errors.Is(err, webhook.ErrNotSigned):
		return "no signatures found matching the expected scheme"
	case errors.Is(err, webhook.ErrInvalidHeader):
		return "malformed signature header"
	default:
		return "no signatures found matching the expected signature for payload"
	}
}
