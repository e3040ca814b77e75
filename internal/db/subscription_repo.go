package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"storymagic/internal/types"

	"github.com/jackc/pgx/v5"
)

// SubscriptionRepo persists subscription snapshots, one row per customer.
//
// Writes are last-write-wins unless the ordering guard is enabled, in which
// case a snapshot produced by an event older than the stored last_event_at
// is discarded.
type SubscriptionRepo struct {
	db            DBTX
	logger        *slog.Logger
	orderingGuard bool
}

// SubscriptionRepoOption configures a SubscriptionRepo.
type SubscriptionRepoOption func(*SubscriptionRepo)

// WithOrderingGuard turns on the last_event_at comparison in Upsert.
func WithOrderingGuard(enabled bool) SubscriptionRepoOption {
	return func(r *SubscriptionRepo) {
		r.orderingGuard = enabled
	}
}

func NewSubscriptionRepo(db DBTX, logger *slog.Logger, opts ...SubscriptionRepoOption) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	r := &SubscriptionRepo{db: db, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

const upsertSubscriptionSQL = `
	INSERT INTO stripe_subscriptions (
		customer_id, subscription_id, status, price_id,
		current_period_start, current_period_end, cancel_at_period_end,
		last_event_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	ON CONFLICT (customer_id) DO UPDATE SET
		subscription_id      = EXCLUDED.subscription_id,
		status               = EXCLUDED.status,
		price_id             = EXCLUDED.price_id,
		current_period_start = EXCLUDED.current_period_start,
		current_period_end   = EXCLUDED.current_period_end,
		cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		last_event_at        = COALESCE(EXCLUDED.last_event_at, stripe_subscriptions.last_event_at),
		updated_at           = NOW()`

const orderingGuardClause = `
	WHERE stripe_subscriptions.last_event_at IS NULL
	   OR EXCLUDED.last_event_at IS NULL
	   OR stripe_subscriptions.last_event_at <= EXCLUDED.last_event_at`

// Upsert writes snap keyed on customer_id. It reports false when the ordering
// guard discarded the write as stale; that is not an error.
func (r *SubscriptionRepo) Upsert(ctx context.Context, snap types.SubscriptionSnapshot) (bool, error) {
	query := upsertSubscriptionSQL
	if r.orderingGuard {
		query += orderingGuardClause
	}

	tag, err := r.db.Exec(ctx, query,
		snap.CustomerID,
		snap.SubscriptionID,
		string(snap.Status),
		snap.PriceID,
		snap.CurrentPeriodStart,
		snap.CurrentPeriodEnd,
		snap.CancelAtPeriodEnd,
		snap.LastEventAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription snapshot", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "stale subscription event ignored",
			"customer_id", snap.CustomerID,
			"subscription_id", snap.SubscriptionID,
			"status", snap.Status,
		)
		return false, nil
	}
	return true, nil
}

// MarkCancelAtPeriodEnd sets cancel_at_period_end on the row holding
// subscriptionID. It returns the number of rows touched; zero means the
// subscription has not been mirrored locally yet.
func (r *SubscriptionRepo) MarkCancelAtPeriodEnd(ctx context.Context, subscriptionID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE stripe_subscriptions
		SET cancel_at_period_end = TRUE,
		    updated_at = NOW()
		WHERE subscription_id = $1`,
		subscriptionID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to mark subscription for cancellation", err)
	}
	return tag.RowsAffected(), nil
}

const userSubscriptionColumns = `
	user_id, customer_id, subscription_id, subscription_status, price_id,
	current_period_start, current_period_end, cancel_at_period_end, updated_at`

// GetBySubscriptionID returns the snapshot holding subscriptionID together
// with the owning user, or nil if none is stored.
func (r *SubscriptionRepo) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*types.UserSubscription, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+userSubscriptionColumns+`
		FROM stripe_user_subscriptions
		WHERE subscription_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`,
		subscriptionID,
	)
	return scanUserSubscription(row, "failed to load subscription")
}

// GetForUser returns the caller's subscription view row, or nil when the user
// has none. A missing row is a normal state, not an error.
func (r *SubscriptionRepo) GetForUser(ctx context.Context, userID string) (*types.UserSubscription, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+userSubscriptionColumns+`
		FROM stripe_user_subscriptions
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`,
		userID,
	)
	return scanUserSubscription(row, "failed to load user subscription")
}

// ListStale returns non-terminal subscriptions not written since before,
// oldest first. The scheduled provider sync uses it to catch missed events.
func (r *SubscriptionRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]types.UserSubscription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+userSubscriptionColumns+`
		FROM stripe_user_subscriptions
		WHERE updated_at < $1
		  AND subscription_status NOT IN ('canceled', 'incomplete_expired')
		ORDER BY updated_at ASC
		LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list stale subscriptions", err)
	}
	defer rows.Close()

	var out []types.UserSubscription
	for rows.Next() {
		us, err := scanUserSubscription(rows, "failed to scan stale subscription")
		if err != nil {
			return nil, err
		}
		out = append(out, *us)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate stale subscriptions", err)
	}
	return out, nil
}

func scanUserSubscription(row pgx.Row, failMsg string) (*types.UserSubscription, error) {
	var (
		us     types.UserSubscription
		userID *string
		status string
	)
	err := row.Scan(
		&userID,
		&us.CustomerID,
		&us.SubscriptionID,
		&status,
		&us.PriceID,
		&us.CurrentPeriodStart,
		&us.CurrentPeriodEnd,
		&us.CancelAtPeriodEnd,
		&us.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, failMsg, err)
	}
	if userID != nil {
		us.UserID = *userID
	}
	us.Status = types.SubscriptionStatus(status)
	return &us, nil
}
