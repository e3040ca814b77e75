package handlers

import (
	"context"
	"sync"

	"storymagic/internal/billing"
	"storymagic/internal/telemetry"
	"storymagic/internal/types"
)

// recordingDispatcher implements EventDispatcher.
type recordingDispatcher struct {
	events []billing.InboundEvent
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev billing.InboundEvent) error {
	d.events = append(d.events, ev)
	return d.err
}

type webhookCall struct {
	EventType string
	Outcome   telemetry.WebhookOutcome
	Reason    string
}

// recordingWebhookMetrics implements WebhookMetrics.
type recordingWebhookMetrics struct {
	calls []webhookCall
}

func (m *recordingWebhookMetrics) RecordWebhook(_ context.Context, eventType string, outcome telemetry.WebhookOutcome, reason string) {
	m.calls = append(m.calls, webhookCall{EventType: eventType, Outcome: outcome, Reason: reason})
}

// mockBillingService implements BillingService.
type mockBillingService struct {
	cancelSub   *types.ProviderSubscription
	cancelErr   error
	checkout    *billing.CheckoutSession
	checkoutErr error
	status      *billing.SubscriptionStatusView
	statusErr   error

	cancelActor    types.Actor
	cancelID       string
	checkoutActor  types.Actor
	checkoutReq    billing.CheckoutRequest
	statusUserID   string
	checkoutCalled bool
}

func (m *mockBillingService) CancelAtPeriodEnd(_ context.Context, actor types.Actor, id string) (*types.ProviderSubscription, error) {
	m.cancelActor, m.cancelID = actor, id
	return m.cancelSub, m.cancelErr
}

func (m *mockBillingService) CreateCheckoutSession(_ context.Context, actor types.Actor, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	m.checkoutCalled = true
	m.checkoutActor, m.checkoutReq = actor, req
	return m.checkout, m.checkoutErr
}

func (m *mockBillingService) SubscriptionStatus(_ context.Context, userID string) (*billing.SubscriptionStatusView, error) {
	m.statusUserID = userID
	return m.status, m.statusErr
}

// memoryCustomers implements billing.CustomerStore.
type memoryCustomers struct {
	mu   sync.Mutex
	rows map[string]types.CustomerMapping
}

func newMemoryCustomers() *memoryCustomers {
	return &memoryCustomers{rows: map[string]types.CustomerMapping{}}
}

func (s *memoryCustomers) Upsert(_ context.Context, m types.CustomerMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[m.CustomerID] = m
	return nil
}

func (s *memoryCustomers) GetByUserID(_ context.Context, userID string) (*types.CustomerMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if m.UserID == userID {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

// memorySubscriptions implements billing.SubscriptionStore, joining on
// customers the way the stripe_user_subscriptions view does.
type memorySubscriptions struct {
	mu        sync.Mutex
	customers *memoryCustomers
	rows      map[string]types.SubscriptionSnapshot
}

func newMemorySubscriptions(customers *memoryCustomers) *memorySubscriptions {
	return &memorySubscriptions{customers: customers, rows: map[string]types.SubscriptionSnapshot{}}
}

func (s *memorySubscriptions) Upsert(_ context.Context, snap types.SubscriptionSnapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[snap.CustomerID] = snap
	return true, nil
}

func (s *memorySubscriptions) MarkCancelAtPeriodEnd(_ context.Context, subscriptionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, row := range s.rows {
		if row.SubscriptionID == subscriptionID {
			row.CancelAtPeriodEnd = true
			s.rows[k] = row
			n++
		}
	}
	return n, nil
}

func (s *memorySubscriptions) GetBySubscriptionID(_ context.Context, subscriptionID string) (*types.UserSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.SubscriptionID == subscriptionID {
			return s.join(row), nil
		}
	}
	return nil, nil
}

func (s *memorySubscriptions) GetForUser(_ context.Context, userID string) (*types.UserSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if us := s.join(row); us.UserID == userID {
			return us, nil
		}
	}
	return nil, nil
}

func (s *memorySubscriptions) join(row types.SubscriptionSnapshot) *types.UserSubscription {
	s.customers.mu.Lock()
	defer s.customers.mu.Unlock()
	return &types.UserSubscription{
		SubscriptionSnapshot: row,
		UserID:               s.customers.rows[row.CustomerID].UserID,
	}
}
