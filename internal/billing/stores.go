package billing

import (
	"context"

	"storymagic/internal/types"
)

// CustomerStore persists customer mappings. Implemented by db.CustomerRepo.
type CustomerStore interface {
	Upsert(ctx context.Context, m types.CustomerMapping) error
	GetByUserID(ctx context.Context, userID string) (*types.CustomerMapping, error)
}

// SubscriptionStore persists subscription snapshots. Implemented by
// db.SubscriptionRepo.
type SubscriptionStore interface {
	// Upsert reports false when the write was discarded as stale.
	Upsert(ctx context.Context, snap types.SubscriptionSnapshot) (bool, error)
	MarkCancelAtPeriodEnd(ctx context.Context, subscriptionID string) (int64, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*types.UserSubscription, error)
	GetForUser(ctx context.Context, userID string) (*types.UserSubscription, error)
}

// SyncMetrics observes reconciled snapshots. Optional.
type SyncMetrics interface {
	RecordSubscriptionSynced(ctx context.Context, status types.SubscriptionStatus, applied bool)
}
