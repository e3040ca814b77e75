package billing

import (
	"context"
	"log/slog"
)

// CheckoutCompletionHandler consumes checkout.session.completed events.
type CheckoutCompletionHandler interface {
	HandleCheckoutCompleted(ctx context.Context, ev CheckoutCompleted, eventCreated int64) error
}

// SubscriptionSyncer consumes customer.subscription.* events.
type SubscriptionSyncer interface {
	Reconcile(ctx context.Context, ev SubscriptionChanged, eventCreated int64) error
}

// Dispatcher routes a decoded event to exactly one handler.
type Dispatcher struct {
	checkout      CheckoutCompletionHandler
	subscriptions SubscriptionSyncer
	logger        *slog.Logger
}

func NewDispatcher(checkout CheckoutCompletionHandler, subscriptions SubscriptionSyncer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{checkout: checkout, subscriptions: subscriptions, logger: logger}
}

// Dispatch runs the handler for ev. Unrecognized events are acknowledged
// without side effects. Handler errors are returned unchanged so the
// webhook responds 500 and the provider redelivers.
func (d *Dispatcher) Dispatch(ctx context.Context, ev InboundEvent) error {
	log := d.logger.With("event_id", ev.ID, "event_type", string(ev.Type))

	switch p := ev.Payload.(type) {
	case CheckoutCompleted:
		return d.checkout.HandleCheckoutCompleted(ctx, p, ev.Created)
	case SubscriptionChanged:
		return d.subscriptions.Reconcile(ctx, p, ev.Created)
	default:
		log.InfoContext(ctx, "unhandled event type")
		return nil
	}
}
