package billing

import "storymagic/internal/types"

// HasAccess reports whether sub entitles its user to paid features.
func HasAccess(sub *types.UserSubscription) bool {
	if sub == nil {
		return false
	}
	return types.HasAccess(&sub.SubscriptionSnapshot)
}

// NewSubscriptionStatusView derives the access flag from sub. A nil sub is
// a user without a subscription, not an error.
func NewSubscriptionStatusView(sub *types.UserSubscription) *SubscriptionStatusView {
	return &SubscriptionStatusView{
		HasActiveSubscription: HasAccess(sub),
		Subscription:          sub,
	}
}
