package billing

import (
	"context"
	"log/slog"

	"storymagic/internal/external"
	"storymagic/internal/types"
)

// Customer metadata keys checked, in order, when a completed session has no
// client_reference_id.
var userIDMetadataKeys = []string{"userId", "user_id"}

// CheckoutHandler links the paying customer to the application user when a
// checkout session completes, then mirrors the new subscription.
type CheckoutHandler struct {
	provider   external.PaymentProvider
	customers  CustomerStore
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewCheckoutHandler(provider external.PaymentProvider, customers CustomerStore, reconciler *Reconciler, logger *slog.Logger) *CheckoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutHandler{
		provider:   provider,
		customers:  customers,
		reconciler: reconciler,
		logger:     logger,
	}
}

// HandleCheckoutCompleted upserts the customer mapping and, for subscription
// checkouts, fetches the authoritative subscription and reconciles it.
// Replaying the same session yields the same rows.
func (h *CheckoutHandler) HandleCheckoutCompleted(ctx context.Context, ev CheckoutCompleted, eventCreated int64) error {
	session := ev.Session
	customerID := session.Customer.String()
	if customerID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingCustomer, "checkout session has no customer", nil).
			WithDetails(map[string]any{"session_id": session.ID})
	}

	userID, err := h.resolveUserID(ctx, session)
	if err != nil {
		return err
	}

	if err := h.customers.Upsert(ctx, types.CustomerMapping{CustomerID: customerID, UserID: userID}); err != nil {
		h.logger.ErrorContext(ctx, "failed to store customer mapping",
			"customer_id", customerID,
			"user_id", userID,
			"error", err,
		)
		return err
	}

	subID := session.Subscription.String()
	if session.Mode != types.CheckoutModeSubscription || subID == "" {
		h.logger.InfoContext(ctx, "checkout completed without subscription",
			"session_id", session.ID,
			"mode", session.Mode,
			"customer_id", customerID,
		)
		return nil
	}

	sub, err := h.provider.GetSubscription(ctx, subID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to fetch subscription after checkout",
			"subscription_id", subID,
			"error", err,
		)
		return err
	}
	// The session is authoritative for the customer even if the fetched
	// object is unexpanded or stale.
	if sub.Customer == "" {
		sub.Customer = types.ExpandableID(customerID)
	}
	return h.reconciler.Sync(ctx, *sub, eventCreated)
}

func (h *CheckoutHandler) resolveUserID(ctx context.Context, session types.ProviderCheckoutSession) (string, error) {
	if session.ClientReferenceID != "" {
		return session.ClientReferenceID, nil
	}

	customer, err := h.provider.GetCustomer(ctx, session.Customer.String())
	if err != nil {
		return "", err
	}
	for _, key := range userIDMetadataKeys {
		if v := customer.Metadata[key]; v != "" {
			return v, nil
		}
	}
	return "", types.NewAppError(types.ErrCodeValidationUnresolvableUser, "no user reference on checkout session or customer", nil).
		WithDetails(map[string]any{"session_id": session.ID, "customer_id": customer.ID})
}
