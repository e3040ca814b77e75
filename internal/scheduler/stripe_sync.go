package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"storymagic/internal/types"
)

const (
	// DefaultStaleThreshold selects rows no event has touched for a day.
	DefaultStaleThreshold = 24 * time.Hour

	// DefaultSyncBatchLimit caps provider reads per run.
	DefaultSyncBatchLimit = 50
)

// StaleSubscriptionLister is implemented by db.SubscriptionRepo.
type StaleSubscriptionLister interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]types.UserSubscription, error)
}

// SubscriptionFetcher reads the authoritative provider state.
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error)
}

// SubscriptionSyncer writes provider state through the same path webhooks
// use. Implemented by billing.Reconciler.
type SubscriptionSyncer interface {
	Sync(ctx context.Context, sub types.ProviderSubscription, eventCreated int64) error
}

// DriftMetrics records fields that differed from the provider.
type DriftMetrics interface {
	RecordBillingDrift(ctx context.Context, field string)
}

// StripeSyncer periodically reconciles stored subscriptions with the
// provider.
type StripeSyncer struct {
	subscriptions StaleSubscriptionLister
	provider      SubscriptionFetcher
	syncer        SubscriptionSyncer
	metrics       DriftMetrics
	logger        *slog.Logger
}

// NewStripeSyncer creates a StripeSyncer. metrics may be nil.
func NewStripeSyncer(subs StaleSubscriptionLister, provider SubscriptionFetcher, syncer SubscriptionSyncer, metrics DriftMetrics, logger *slog.Logger) *StripeSyncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeSyncer{
		subscriptions: subs,
		provider:      provider,
		syncer:        syncer,
		metrics:       metrics,
		logger:        logger,
	}
}

// SyncStale re-reads up to limit subscriptions whose rows are older than
// now-threshold and writes the provider's state back. A failure on one
// subscription does not stop the run; it is retried on the next run. The
// run fails only when every candidate failed.
func (s *StripeSyncer) SyncStale(ctx context.Context, now time.Time, threshold time.Duration, limit int) (int, error) {
	stale, err := s.subscriptions.ListStale(ctx, now.Add(-threshold), limit)
	if err != nil {
		return 0, fmt.Errorf("listing stale subscriptions: %w", err)
	}
	if len(stale) == 0 {
		s.logger.InfoContext(ctx, "no subscriptions need provider sync")
		return 0, nil
	}

	s.logger.InfoContext(ctx, "syncing stale subscriptions",
		"count", len(stale),
		"stale_threshold", threshold.String(),
	)

	var (
		synced  int
		lastErr error
	)
	for _, local := range stale {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if err := s.syncOne(ctx, local); err != nil {
			s.logger.ErrorContext(ctx, "failed to sync subscription",
				"subscription_id", local.SubscriptionID,
				"customer_id", local.CustomerID,
				"error", err,
			)
			lastErr = err
			continue
		}
		synced++
	}

	s.logger.InfoContext(ctx, "provider sync complete",
		"synced", synced,
		"total_candidates", len(stale),
	)

	if synced == 0 && lastErr != nil {
		return 0, fmt.Errorf("all %d subscription syncs failed: %w", len(stale), lastErr)
	}
	return synced, nil
}

func (s *StripeSyncer) syncOne(ctx context.Context, local types.UserSubscription) error {
	remote, err := s.provider.GetSubscription(ctx, local.SubscriptionID)
	if err != nil {
		return fmt.Errorf("fetching subscription %s: %w", local.SubscriptionID, err)
	}

	if drift := driftedFields(local.SubscriptionSnapshot, *remote); len(drift) > 0 {
		s.logger.WarnContext(ctx, "billing state drift detected",
			"subscription_id", local.SubscriptionID,
			"fields", drift,
			"local_status", local.Status,
			"remote_status", remote.Status,
		)
		if s.metrics != nil {
			for _, field := range drift {
				s.metrics.RecordBillingDrift(ctx, field)
			}
		}
	}

	// Rows are rewritten even without drift so updated_at moves forward and
	// the row leaves the stale set.
	return s.syncer.Sync(ctx, *remote, 0)
}

func driftedFields(local types.SubscriptionSnapshot, remote types.ProviderSubscription) []string {
	var fields []string
	if local.Status != remote.Status {
		fields = append(fields, "status")
	}
	if !equalPtr(local.PriceID, remote.PriceID()) {
		fields = append(fields, "price")
	}
	if local.CancelAtPeriodEnd != remote.CancelAtPeriodEnd {
		fields = append(fields, "cancel_at_period_end")
	}
	if _, end := remote.PeriodBounds(); !equalPtr(local.CurrentPeriodEnd, end) {
		fields = append(fields, "current_period_end")
	}
	if local.CustomerID != remote.Customer.String() {
		fields = append(fields, "customer")
	}
	return fields
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
