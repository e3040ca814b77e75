package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storymagic/internal/billing"
	"storymagic/internal/external"
	"storymagic/internal/types"
)

// fakeAPI serves the billing endpoints from in-memory state.
type fakeAPI struct {
	status       types.SubscriptionStatus
	hasRow       bool
	cancelCalls  atomic.Int32
	refreshCalls atomic.Int32
	failStatus   int
	lastAuth     string
	lastCancelID string
	lastCheckout billing.CheckoutRequest
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/subscription", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		f.lastAuth = r.Header.Get("Authorization")
		if f.failStatus != 0 {
			w.WriteHeader(f.failStatus)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":      "failed to load user subscription",
				"code":       string(types.ErrCodeInternalDB),
				"request_id": "req-1",
			})
			return
		}
		var sub *types.UserSubscription
		if f.hasRow {
			sub = &types.UserSubscription{
				UserID: "user_42",
				SubscriptionSnapshot: types.SubscriptionSnapshot{
					CustomerID:     "cus_1",
					SubscriptionID: "sub_1",
					Status:         f.status,
				},
			}
		}
		_ = json.NewEncoder(w).Encode(billing.NewSubscriptionStatusView(sub))
	})
	mux.HandleFunc("POST /v1/subscriptions/cancel", func(w http.ResponseWriter, r *http.Request) {
		f.cancelCalls.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastCancelID = body["subscription_id"]
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "message": billing.CancelSuccessMessage})
	})
	mux.HandleFunc("POST /v1/checkout-sessions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastCheckout)
		if f.lastCheckout.Plan == "deluxe" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Invalid plan selected", "code": string(types.ErrCodeValidationUnknownPlan)})
			return
		}
		_ = json.NewEncoder(w).Encode(billing.CheckoutSession{SessionID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"})
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI) *SubscriptionClient {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	noRetry := external.RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond}
	c, err := NewSubscriptionClient(Config{
		BaseURL:     srv.URL + "/",
		Tokens:      StaticToken("access-token"),
		RetryPolicy: &noRetry,
		BaseOptions: []external.BaseClientOption{external.WithSleepFunc(func(time.Duration) {})},
	})
	require.NoError(t, err)
	return c
}

func TestNewSubscriptionClient_RequiresConfig(t *testing.T) {
	_, err := NewSubscriptionClient(Config{Tokens: StaticToken("t")})
	assert.Error(t, err)

	_, err = NewSubscriptionClient(Config{BaseURL: "http://localhost"})
	assert.Error(t, err)
}

func TestRefresh_ActiveAndTrialingGrantAccess(t *testing.T) {
	for _, status := range []types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusTrialing} {
		t.Run(string(status), func(t *testing.T) {
			api := &fakeAPI{hasRow: true, status: status}
			c := newTestClient(t, api)

			state, err := c.Refresh(context.Background())
			require.NoError(t, err)
			assert.True(t, state.HasActiveSubscription)
			assert.True(t, c.HasActiveSubscription())
			require.NotNil(t, state.Subscription)
			assert.Equal(t, "sub_1", state.Subscription.SubscriptionID)
			assert.Equal(t, "Bearer access-token", api.lastAuth)
		})
	}
}

func TestRefresh_InactiveStatuses(t *testing.T) {
	for _, status := range []types.SubscriptionStatus{
		types.SubscriptionStatusCanceled,
		types.SubscriptionStatusPastDue,
		types.SubscriptionStatusIncomplete,
	} {
		t.Run(string(status), func(t *testing.T) {
			c := newTestClient(t, &fakeAPI{hasRow: true, status: status})

			state, err := c.Refresh(context.Background())
			require.NoError(t, err)
			assert.False(t, state.HasActiveSubscription)
			assert.NotNil(t, state.Subscription)
		})
	}
}

func TestRefresh_NoRowIsNotAnError(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})

	state, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, state.HasActiveSubscription)
	assert.Nil(t, state.Subscription)
	assert.NoError(t, state.Err)
	assert.False(t, state.RefreshedAt.IsZero())
}

func TestRefresh_QueryErrorSurfaced(t *testing.T) {
	api := &fakeAPI{hasRow: true, status: types.SubscriptionStatusActive}
	c := newTestClient(t, api)
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.True(t, c.HasActiveSubscription())

	api.failStatus = http.StatusInternalServerError
	state, err := c.Refresh(context.Background())

	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, types.CodeOf(err))
	assert.False(t, state.HasActiveSubscription)
	assert.Nil(t, state.Subscription)
	assert.Equal(t, err, c.State().Err)
}

func TestRefresh_APIErrorDecoded(t *testing.T) {
	api := &fakeAPI{failStatus: http.StatusUnauthorized}
	c := newTestClient(t, api)

	_, err := c.Refresh(context.Background())

	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "failed to load user subscription", appErr.Message)
	assert.Equal(t, "req-1", appErr.Details["request_id"])
}

func TestCancel_RefreshesAfterwards(t *testing.T) {
	api := &fakeAPI{hasRow: true, status: types.SubscriptionStatusActive}
	c := newTestClient(t, api)
	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	_, err = c.Cancel(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), api.cancelCalls.Load())
	assert.Equal(t, "sub_1", api.lastCancelID)
	assert.Equal(t, int32(2), api.refreshCalls.Load())
}

func TestCancel_WithoutSubscription(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	_, err := c.Cancel(context.Background())

	assert.Equal(t, types.ErrCodeValidationMissingSubscriptionID, types.CodeOf(err))
	assert.Equal(t, int32(0), api.cancelCalls.Load())
}

func TestStartCheckout(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)

	session, err := c.StartCheckout(context.Background(), billing.CheckoutRequest{Plan: billing.PlanStarter})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", session.SessionID)
	assert.NotEmpty(t, session.URL)
	assert.Equal(t, billing.PlanStarter, api.lastCheckout.Plan)

	_, err = c.StartCheckout(context.Background(), billing.CheckoutRequest{Plan: "deluxe"})
	assert.Equal(t, types.ErrCodeValidationUnknownPlan, types.CodeOf(err))
}

func TestHandleCheckoutReturn(t *testing.T) {
	api := &fakeAPI{hasRow: true, status: types.SubscriptionStatusActive}
	c := newTestClient(t, api)

	refreshed, err := c.HandleCheckoutReturn(context.Background(), "https://app.example.com/dashboard")
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, int32(0), api.refreshCalls.Load())

	refreshed, err = c.HandleCheckoutReturn(context.Background(), "https://app.example.com/dashboard?session_id=cs_1")
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.True(t, c.HasActiveSubscription())

	_, err = c.HandleCheckoutReturn(context.Background(), "://bad")
	assert.Error(t, err)
}
