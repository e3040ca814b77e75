package db

import (
	"context"
	"errors"
	"log/slog"

	"storymagic/internal/types"

	"github.com/jackc/pgx/v5"
)

// CustomerRepo persists the provider customer to application user mapping.
type CustomerRepo struct {
	db     DBTX
	logger *slog.Logger
}

func NewCustomerRepo(db DBTX, logger *slog.Logger) *CustomerRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomerRepo{db: db, logger: logger}
}

// Upsert creates or replaces the mapping for m.CustomerID. Replaying the same
// mapping leaves exactly one row with the same user.
func (r *CustomerRepo) Upsert(ctx context.Context, m types.CustomerMapping) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO stripe_customers (customer_id, user_id, updated_at)
		VALUES ($1, NULLIF($2, ''), NOW())
		ON CONFLICT (customer_id) DO UPDATE SET
			user_id    = COALESCE(EXCLUDED.user_id, stripe_customers.user_id),
			updated_at = NOW()`,
		m.CustomerID, m.UserID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert customer mapping", err)
	}

	r.logger.DebugContext(ctx, "customer mapping upserted",
		"customer_id", m.CustomerID,
		"user_id", m.UserID,
	)
	return nil
}

// GetByUserID returns the most recently updated mapping for userID, or nil
// when the user has never been linked to a customer.
func (r *CustomerRepo) GetByUserID(ctx context.Context, userID string) (*types.CustomerMapping, error) {
	var (
		m   types.CustomerMapping
		uid *string
	)
	err := r.db.QueryRow(ctx, `
		SELECT customer_id, user_id, updated_at
		FROM stripe_customers
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`,
		userID,
	).Scan(&m.CustomerID, &uid, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load customer mapping", err)
	}
	if uid != nil {
		m.UserID = *uid
	}
	return &m, nil
}
