package billing

import (
	"context"
	"log/slog"

	"storymagic/internal/types"
)

// Reconciler mirrors provider subscription objects into SubscriptionStore.
type Reconciler struct {
	subscriptions SubscriptionStore
	metrics       SyncMetrics
	logger        *slog.Logger
}

func NewReconciler(subscriptions SubscriptionStore, metrics SyncMetrics, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{subscriptions: subscriptions, metrics: metrics, logger: logger}
}

// Reconcile handles customer.subscription.created, .updated and .deleted.
// A deleted subscription arrives with status canceled and is stored like
// any other state; rows are never removed.
func (r *Reconciler) Reconcile(ctx context.Context, ev SubscriptionChanged, eventCreated int64) error {
	return r.Sync(ctx, ev.Subscription, eventCreated)
}

// Sync upserts the snapshot derived from sub. eventCreated is the creation
// time of the event that delivered sub, or zero when unknown.
func (r *Reconciler) Sync(ctx context.Context, sub types.ProviderSubscription, eventCreated int64) error {
	if sub.Customer == "" {
		return types.NewAppError(types.ErrCodeValidationMissingCustomer, "subscription has no customer", nil)
	}

	snap := SnapshotFromSubscription(sub, eventCreated)
	applied, err := r.subscriptions.Upsert(ctx, snap)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to store subscription snapshot",
			"customer_id", snap.CustomerID,
			"subscription_id", snap.SubscriptionID,
			"status", snap.Status,
			"price_id", derefString(snap.PriceID),
			"error", err,
		)
		return err
	}

	if r.metrics != nil {
		r.metrics.RecordSubscriptionSynced(ctx, snap.Status, applied)
	}
	if applied {
		r.logger.InfoContext(ctx, "subscription synced",
			"customer_id", snap.CustomerID,
			"subscription_id", snap.SubscriptionID,
			"status", snap.Status,
			"cancel_at_period_end", snap.CancelAtPeriodEnd,
		)
	}
	return nil
}

// SnapshotFromSubscription extracts the stored fields from a provider
// subscription. Only the first line item is consulted for the price.
func SnapshotFromSubscription(sub types.ProviderSubscription, eventCreated int64) types.SubscriptionSnapshot {
	start, end := sub.PeriodBounds()
	snap := types.SubscriptionSnapshot{
		CustomerID:         sub.Customer.String(),
		SubscriptionID:     sub.ID,
		Status:             sub.Status,
		PriceID:            sub.PriceID(),
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if eventCreated > 0 {
		snap.LastEventAt = &eventCreated
	}
	return snap
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
