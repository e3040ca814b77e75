package external

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storymagic/internal/types"
)

// StubPaymentProvider stands in for Stripe when the service runs locally or
// in test mode. It logs each call and keeps just enough in-memory state for
// a checkout, webhook and cancel round trip to be coherent.
type StubPaymentProvider struct {
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	subscriptions map[string]*types.ProviderSubscription
	customers     map[string]*types.ProviderCustomer
}

func NewStubPaymentProvider(logger *slog.Logger) *StubPaymentProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubPaymentProvider{
		logger:        logger,
		now:           time.Now,
		subscriptions: make(map[string]*types.ProviderSubscription),
		customers:     make(map[string]*types.ProviderCustomer),
	}
}

// PutSubscription seeds a subscription returned by later lookups.
func (s *StubPaymentProvider) PutSubscription(sub types.ProviderSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = &sub
}

// PutCustomer seeds a customer returned by later lookups.
func (s *StubPaymentProvider) PutCustomer(cust types.ProviderCustomer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[cust.ID] = &cust
}

func (s *StubPaymentProvider) GetSubscription(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error) {
	s.logger.InfoContext(ctx, "stub: GetSubscription called", "subscription_id", subscriptionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subscriptions[subscriptionID]; ok {
		cp := *sub
		return &cp, nil
	}

	start := s.now().Unix()
	end := s.now().AddDate(0, 1, 0).Unix()
	return &types.ProviderSubscription{
		ID:                 subscriptionID,
		Customer:           types.ExpandableID("cus_stub_" + subscriptionID),
		Status:             types.SubscriptionStatusActive,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		Items: types.ProviderSubscriptionItems{Data: []types.ProviderSubscriptionItem{
			{ID: "si_stub", Price: types.ProviderPrice{ID: "price_stub"}},
		}},
	}, nil
}

func (s *StubPaymentProvider) GetCustomer(ctx context.Context, customerID string) (*types.ProviderCustomer, error) {
	s.logger.InfoContext(ctx, "stub: GetCustomer called", "customer_id", customerID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cust, ok := s.customers[customerID]; ok {
		cp := *cust
		return &cp, nil
	}
	return &types.ProviderCustomer{ID: customerID, Metadata: map[string]string{}}, nil
}

func (s *StubPaymentProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error) {
	s.logger.InfoContext(ctx, "stub: CancelAtPeriodEnd called", "subscription_id", subscriptionID)

	sub, _ := s.GetSubscription(ctx, subscriptionID)
	sub.CancelAtPeriodEnd = true
	s.PutSubscription(*sub)
	return sub, nil
}

func (s *StubPaymentProvider) CreateCheckoutSession(ctx context.Context, p types.CheckoutSessionParams) (*types.ProviderCheckoutSession, error) {
	s.logger.InfoContext(ctx, "stub: CreateCheckoutSession called",
		"user_id", p.UserID,
		"price_id", p.PriceID,
	)
	id := fmt.Sprintf("cs_stub_%s_%d", p.UserID, s.now().UnixNano())
	return &types.ProviderCheckoutSession{
		ID:                id,
		URL:               "https://checkout.stub.local/" + id,
		Mode:              types.CheckoutModeSubscription,
		Customer:          types.ExpandableID(p.CustomerID),
		ClientReferenceID: p.UserID,
	}, nil
}
