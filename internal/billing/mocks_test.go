package billing

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storymagic/internal/types"
)

// --- Mock implementations ---

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) GetSubscription(ctx context.Context, id string) (*types.ProviderSubscription, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*types.ProviderSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) GetCustomer(ctx context.Context, id string) (*types.ProviderCustomer, error) {
	args := m.Called(ctx, id)
	if c := args.Get(0); c != nil {
		return c.(*types.ProviderCustomer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) CancelAtPeriodEnd(ctx context.Context, id string) (*types.ProviderSubscription, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*types.ProviderSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, params types.CheckoutSessionParams) (*types.ProviderCheckoutSession, error) {
	args := m.Called(ctx, params)
	if s := args.Get(0); s != nil {
		return s.(*types.ProviderCheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockCustomerStore struct {
	mock.Mock
}

func (m *mockCustomerStore) Upsert(ctx context.Context, c types.CustomerMapping) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockCustomerStore) GetByUserID(ctx context.Context, userID string) (*types.CustomerMapping, error) {
	args := m.Called(ctx, userID)
	if c := args.Get(0); c != nil {
		return c.(*types.CustomerMapping), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockSubscriptionStore struct {
	mock.Mock
}

func (m *mockSubscriptionStore) Upsert(ctx context.Context, snap types.SubscriptionSnapshot) (bool, error) {
	args := m.Called(ctx, snap)
	return args.Bool(0), args.Error(1)
}

func (m *mockSubscriptionStore) MarkCancelAtPeriodEnd(ctx context.Context, id string) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSubscriptionStore) GetBySubscriptionID(ctx context.Context, id string) (*types.UserSubscription, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*types.UserSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSubscriptionStore) GetForUser(ctx context.Context, userID string) (*types.UserSubscription, error) {
	args := m.Called(ctx, userID)
	if s := args.Get(0); s != nil {
		return s.(*types.UserSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}

type recordingSyncMetrics struct {
	statuses []types.SubscriptionStatus
	applied  []bool
}

func (r *recordingSyncMetrics) RecordSubscriptionSynced(_ context.Context, status types.SubscriptionStatus, applied bool) {
	r.statuses = append(r.statuses, status)
	r.applied = append(r.applied, applied)
}

func ptr[T any](v T) *T { return &v }
