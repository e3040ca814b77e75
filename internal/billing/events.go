package billing

import (
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v82"

	"storymagic/internal/types"
)

// InboundEvent is a verified webhook event with its payload decoded exactly
// once into one of the EventPayload variants.
type InboundEvent struct {
	ID      string
	Type    stripe.EventType
	Created int64
	Payload EventPayload
}

// CreatedAt returns the provider's event creation time.
func (e InboundEvent) CreatedAt() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// EventPayload is the closed set of event shapes the dispatcher understands.
type EventPayload interface {
	isEventPayload()
}

// CheckoutCompleted carries a completed checkout session.
type CheckoutCompleted struct {
	Session types.ProviderCheckoutSession
}

// SubscriptionChanged carries the subscription object of a
// customer.subscription.created, .updated or .deleted event.
type SubscriptionChanged struct {
	Subscription types.ProviderSubscription
}

// Unrecognized is any event type the service does not act on.
type Unrecognized struct{}

func (CheckoutCompleted) isEventPayload()   {}
func (SubscriptionChanged) isEventPayload() {}
func (Unrecognized) isEventPayload()        {}

// envelope is the outer shape shared by every Stripe event.
type envelope struct {
	ID      string           `json:"id"`
	Type    stripe.EventType `json:"type"`
	Created int64            `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// DecodeEvent parses a verified webhook body. Unknown event types decode to
// Unrecognized without inspecting data.object.
func DecodeEvent(payload []byte) (InboundEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return InboundEvent{}, types.NewAppError(types.ErrCodeValidationMalformedEvent, "Webhook Error: malformed event body", err)
	}
	if env.Type == "" {
		return InboundEvent{}, types.NewAppError(types.ErrCodeValidationMalformedEvent, "Webhook Error: event type missing", nil)
	}

	ev := InboundEvent{ID: env.ID, Type: env.Type, Created: env.Created}

	switch env.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session types.ProviderCheckoutSession
		if err := decodeObject(env.Data.Object, &session); err != nil {
			return InboundEvent{}, err
		}
		ev.Payload = CheckoutCompleted{Session: session}

	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var sub types.ProviderSubscription
		if err := decodeObject(env.Data.Object, &sub); err != nil {
			return InboundEvent{}, err
		}
		ev.Payload = SubscriptionChanged{Subscription: sub}

	default:
		ev.Payload = Unrecognized{}
	}
	return ev, nil
}

func decodeObject(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return types.NewAppError(types.ErrCodeValidationMalformedEvent, "Webhook Error: event data.object missing", nil)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return types.NewAppError(types.ErrCodeValidationMalformedEvent, "Webhook Error: malformed data.object", err)
	}
	return nil
}
