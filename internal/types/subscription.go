package types

import "time"

// SubscriptionStatus is the provider's lifecycle status for a subscription.
// Values are stored verbatim; the set below is what Stripe currently emits
// and is not exhaustive.
type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// GrantsAccess reports whether the status entitles the user to paid features.
func (s SubscriptionStatus) GrantsAccess() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// CustomerMapping links a provider customer to an application user.
// Keyed by CustomerID; UserID may be empty when the mapping was created from
// an event that carried no user reference.
type CustomerMapping struct {
	CustomerID string    `json:"customer_id" db:"customer_id"`
	UserID     string    `json:"user_id,omitempty" db:"user_id"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// SubscriptionSnapshot is the locally mirrored state of a customer's
// subscription. There is at most one snapshot per customer.
type SubscriptionSnapshot struct {
	CustomerID         string             `json:"customer_id" db:"customer_id"`
	SubscriptionID     string             `json:"subscription_id" db:"subscription_id"`
	Status             SubscriptionStatus `json:"status" db:"status"`
	PriceID            *string            `json:"price_id" db:"price_id"`
	CurrentPeriodStart *int64             `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd   *int64             `json:"current_period_end" db:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end" db:"cancel_at_period_end"`

	// LastEventAt is the provider's created timestamp of the event that
	// produced this snapshot. Only consulted when the ordering guard is on.
	LastEventAt *int64    `json:"-" db:"last_event_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// UserSubscription is the read model behind the client subscription view:
// the snapshot joined with the owning user.
type UserSubscription struct {
	UserID string `json:"user_id"`
	SubscriptionSnapshot
}

// HasAccess reports whether the user behind sub may use paid features.
// A nil subscription (no row) never grants access.
func HasAccess(sub *SubscriptionSnapshot) bool {
	return sub != nil && sub.Status.GrantsAccess()
}
