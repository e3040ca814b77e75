package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"storymagic/internal/billing"
	"storymagic/internal/config"
	"storymagic/internal/core"
	"storymagic/internal/external"
	"storymagic/internal/telemetry"
	"storymagic/internal/types"
)

const testWebhookSecret = "whsec_test_secret"

const subscriptionUpdatedEvent = `{
  "id": "evt_sub_updated",
  "type": "customer.subscription.updated",
  "created": 1700000100,
  "data": {"object": {
    "id": "sub_1",
    "customer": "cus_1",
    "status": "past_due",
    "cancel_at_period_end": false,
    "current_period_start": 1700000000,
    "current_period_end": 1702592000,
    "items": {"data": [{"id": "si_1", "price": {"id": "price_starter"}}]}
  }}
}`

const checkoutCompletedEvent = `{
  "id": "evt_checkout",
  "type": "checkout.session.completed",
  "created": 1700000000,
  "data": {"object": {
    "id": "cs_1",
    "mode": "subscription",
    "customer": "cus_1",
    "subscription": "sub_1",
    "client_reference_id": "user_42"
  }}
}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedHeader(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	}).Header
}

func newSignedRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/webhooks/stripe", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signedHeader([]byte(body), testWebhookSecret))
	return req
}

type webhookFixture struct {
	handler    *StripeWebhookHandler
	dispatcher *recordingDispatcher
	metrics    *recordingWebhookMetrics
}

func newWebhookFixture(secret string) *webhookFixture {
	f := &webhookFixture{
		dispatcher: &recordingDispatcher{},
		metrics:    &recordingWebhookMetrics{},
	}
	f.handler = NewStripeWebhookHandler(external.NewStripeVerifier(0), f.dispatcher, f.metrics, secret, discardLogger())
	return f
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) core.ErrorResponse {
	t.Helper()
	var resp core.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if resp.Error == "" {
		t.Error("expected non-empty error message")
	}
	return resp
}

func TestStripeWebhook_ValidEventAcknowledged(t *testing.T) {
	f := newWebhookFixture(testWebhookSecret)

	w := httptest.NewRecorder()
	f.handler.Handle(w, newSignedRequest(http.MethodPost, subscriptionUpdatedEvent))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var receipt WebhookReceipt
	if err := json.NewDecoder(w.Body).Decode(&receipt); err != nil || !receipt.Received {
		t.Errorf("expected {\"received\":true}, got %v (err %v)", receipt, err)
	}

	if len(f.dispatcher.events) != 1 {
		t.Fatalf("expected 1 dispatched event, got %d", len(f.dispatcher.events))
	}
	ev := f.dispatcher.events[0]
	if ev.ID != "evt_sub_updated" || ev.Type != stripe.EventTypeCustomerSubscriptionUpdated {
		t.Errorf("unexpected event %s/%s", ev.ID, ev.Type)
	}
	changed, ok := ev.Payload.(billing.SubscriptionChanged)
	if !ok {
		t.Fatalf("expected SubscriptionChanged payload, got %T", ev.Payload)
	}
	if changed.Subscription.Status != types.SubscriptionStatusPastDue {
		t.Errorf("expected past_due, got %s", changed.Subscription.Status)
	}

	if len(f.metrics.calls) != 1 || f.metrics.calls[0].Outcome != telemetry.WebhookReceived {
		t.Errorf("expected one received metric, got %+v", f.metrics.calls)
	}
}

func TestStripeWebhook_UnrecognizedEventAcknowledged(t *testing.T) {
	f := newWebhookFixture(testWebhookSecret)
	body := `{"id":"evt_inv","type":"invoice.paid","created":1700000000,"data":{"object":{"id":"in_1"}}}`

	w := httptest.NewRecorder()
	f.handler.Handle(w, newSignedRequest(http.MethodPost, body))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if _, ok := f.dispatcher.events[0].Payload.(billing.Unrecognized); !ok {
		t.Errorf("expected Unrecognized payload, got %T", f.dispatcher.events[0].Payload)
	}
}

func TestStripeWebhook_CharsetContentTypeAccepted(t *testing.T) {
	f := newWebhookFixture(testWebhookSecret)
	req := newSignedRequest(http.MethodPost, subscriptionUpdatedEvent)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	w := httptest.NewRecorder()
	f.handler.Handle(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestStripeWebhook_SplitSignatureHeaderAccepted(t *testing.T) {
	f := newWebhookFixture(testWebhookSecret)
	req := newSignedRequest(http.MethodPost, subscriptionUpdatedEvent)
	parts := strings.Split(req.Header.Get("Stripe-Signature"), ",")
	req.Header.Del("Stripe-Signature")
	for _, p := range parts {
		req.Header.Add("Stripe-Signature", p)
	}

	w := httptest.NewRecorder()
	f.handler.Handle(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 for a split signature header, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStripeWebhook_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		request  func() *http.Request
		wantCode types.ErrorCode
	}{
		{
			name: "wrong method",
			request: func() *http.Request {
				return newSignedRequest(http.MethodGet, "")
			},
			wantCode: types.ErrCodeValidationMethodNotAllowed,
		},
		{
			name: "non-json content type",
			request: func() *http.Request {
				req := newSignedRequest(http.MethodPost, subscriptionUpdatedEvent)
				req.Header.Set("Content-Type", "text/plain")
				return req
			},
			wantCode: types.ErrCodeValidationContentType,
		},
		{
			name: "missing content type",
			request: func() *http.Request {
				req := newSignedRequest(http.MethodPost, subscriptionUpdatedEvent)
				req.Header.Del("Content-Type")
				return req
			},
			wantCode: types.ErrCodeValidationContentType,
		},
		{
			name: "missing signature",
			request: func() *http.Request {
				req := newSignedRequest(http.MethodPost, subscriptionUpdatedEvent)
				req.Header.Del("Stripe-Signature")
				return req
			},
			wantCode: types.ErrCodeAuthSignatureMissing,
		},
		{
			name: "signed with another secret",
			request: func() *http.Request {
				req := newSignedRequest(http.MethodPost, subscriptionUpdatedEvent)
				req.Header.Set("Stripe-Signature", signedHeader([]byte(subscriptionUpdatedEvent), "whsec_other"))
				return req
			},
			wantCode: types.ErrCodeAuthSignatureMismatch,
		},
		{
			name: "body altered after signing",
			request: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(subscriptionUpdatedEvent+" "))
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("Stripe-Signature", signedHeader([]byte(subscriptionUpdatedEvent), testWebhookSecret))
				return req
			},
			wantCode: types.ErrCodeAuthSignatureMismatch,
		},
		{
			name: "signed but malformed event",
			request: func() *http.Request {
				return newSignedRequest(http.MethodPost, `{"id":"evt_1"`)
			},
			wantCode: types.ErrCodeValidationMalformedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(testWebhookSecret)

			w := httptest.NewRecorder()
			f.handler.Handle(w, tt.request())

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			resp := decodeErrorBody(t, w)
			if resp.Code != string(tt.wantCode) {
				t.Errorf("expected code %s, got %s", tt.wantCode, resp.Code)
			}
			if len(f.dispatcher.events) != 0 {
				t.Error("dispatcher must not run for rejected deliveries")
			}
			if len(f.metrics.calls) != 1 || f.metrics.calls[0].Outcome != telemetry.WebhookRejected {
				t.Errorf("expected one rejected metric, got %+v", f.metrics.calls)
			}
		})
	}
}

func TestStripeWebhook_SignatureFailureLogsContext(t *testing.T) {
	var logs bytes.Buffer
	f := newWebhookFixture(testWebhookSecret)
	f.handler.logger = slog.New(slog.NewTextHandler(&logs, nil))

	req := newSignedRequest(http.MethodPost, subscriptionUpdatedEvent)
	header := signedHeader([]byte(subscriptionUpdatedEvent), "whsec_other")
	req.Header.Set("Stripe-Signature", header)

	w := httptest.NewRecorder()
	f.handler.Handle(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	out := logs.String()
	if !strings.Contains(out, "event_id=evt_sub_updated") {
		t.Errorf("signature failure log has no event id:\n%s", out)
	}
	if !strings.Contains(out, "payload_prefix=") {
		t.Errorf("signature failure log has no payload prefix:\n%s", out)
	}
	if strings.Contains(out, "whsec_") || strings.Contains(out, header) {
		t.Errorf("log leaked signing material:\n%s", out)
	}
}

func TestUnverifiedEventID(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{subscriptionUpdatedEvent, "evt_sub_updated"},
		{`{"type":"invoice.paid"}`, ""},
		{`not json`, ""},
		{``, ""},
	}
	for _, tt := range tests {
		if got := unverifiedEventID([]byte(tt.payload)); got != tt.want {
			t.Errorf("unverifiedEventID(%q) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	long := bytes.Repeat([]byte("x"), payloadLogPrefix+50)
	if got := truncate(long, payloadLogPrefix); len(got) != payloadLogPrefix {
		t.Errorf("expected %d bytes, got %d", payloadLogPrefix, len(got))
	}
	if got := truncate([]byte("short"), payloadLogPrefix); got != "short" {
		t.Errorf("short payload altered: %q", got)
	}
}

func TestStripeWebhook_MissingSecret(t *testing.T) {
	f := newWebhookFixture("")

	w := httptest.NewRecorder()
	f.handler.Handle(w, newSignedRequest(http.MethodPost, subscriptionUpdatedEvent))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	resp := decodeErrorBody(t, w)
	if resp.Code != string(types.ErrCodeInternalConfiguration) {
		t.Errorf("expected configuration error, got %s", resp.Code)
	}
	if len(f.dispatcher.events) != 0 {
		t.Error("dispatcher must not run without a secret")
	}
}

func TestStripeWebhook_ProcessingFailureReturns500(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"persistence", types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription snapshot", errors.New("conn reset"))},
		{"missing customer", types.NewAppError(types.ErrCodeValidationMissingCustomer, "subscription has no customer", nil)},
		{"plain error", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebhookFixture(testWebhookSecret)
			f.dispatcher.err = tt.err

			w := httptest.NewRecorder()
			f.handler.Handle(w, newSignedRequest(http.MethodPost, subscriptionUpdatedEvent))

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", w.Code)
			}
			decodeErrorBody(t, w)

			last := f.metrics.calls[len(f.metrics.calls)-1]
			if last.Outcome != telemetry.WebhookFailed || last.EventType != string(stripe.EventTypeCustomerSubscriptionUpdated) {
				t.Errorf("unexpected metric %+v", last)
			}
		})
	}
}

func TestStripeWebhook_OversizedBodyRejected(t *testing.T) {
	f := newWebhookFixture(testWebhookSecret)
	body := `{"pad":"` + string(bytes.Repeat([]byte("a"), maxWebhookBodySize)) + `"}`

	w := httptest.NewRecorder()
	f.handler.Handle(w, newSignedRequest(http.MethodPost, body))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if len(f.dispatcher.events) != 0 {
		t.Error("dispatcher must not run for oversized bodies")
	}
}

// TestStripeWebhook_EndToEnd drives a checkout completion followed by a
// subscription update through the real dispatcher and reconciler.
func TestStripeWebhook_EndToEnd(t *testing.T) {
	ctx := context.Background()
	logger := discardLogger()

	provider := external.NewStubPaymentProvider(logger)
	provider.PutSubscription(types.ProviderSubscription{
		ID:       "sub_1",
		Customer: "cus_1",
		Status:   types.SubscriptionStatusActive,
		Items: types.ProviderSubscriptionItems{Data: []types.ProviderSubscriptionItem{
			{ID: "si_1", Price: types.ProviderPrice{ID: "price_starter"}},
		}},
	})

	customers := newMemoryCustomers()
	subs := newMemorySubscriptions(customers)
	reconciler := billing.NewReconciler(subs, nil, logger)
	dispatcher := billing.NewDispatcher(billing.NewCheckoutHandler(provider, customers, reconciler, logger), reconciler, logger)
	h := NewStripeWebhookHandler(external.NewStripeVerifier(0), dispatcher, nil, testWebhookSecret, logger)

	deliver := func(body string) {
		t.Helper()
		w := httptest.NewRecorder()
		h.Handle(w, newSignedRequest(http.MethodPost, body))
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	}

	deliver(checkoutCompletedEvent)
	deliver(checkoutCompletedEvent)

	if len(customers.rows) != 1 || customers.rows["cus_1"].UserID != "user_42" {
		t.Fatalf("expected one mapping cus_1 -> user_42, got %+v", customers.rows)
	}
	sub, err := subs.GetForUser(ctx, "user_42")
	if err != nil || sub == nil {
		t.Fatalf("expected snapshot for user_42, got %v (err %v)", sub, err)
	}
	if sub.Status != types.SubscriptionStatusActive || sub.PriceID == nil || *sub.PriceID != "price_starter" {
		t.Errorf("unexpected snapshot after checkout: %+v", sub.SubscriptionSnapshot)
	}
	if !billing.HasAccess(sub) {
		t.Error("active subscription must grant access")
	}

	deliver(subscriptionUpdatedEvent)

	sub, _ = subs.GetForUser(ctx, "user_42")
	if sub.Status != types.SubscriptionStatusPastDue {
		t.Errorf("expected past_due after update, got %s", sub.Status)
	}
	if sub.CurrentPeriodEnd == nil || *sub.CurrentPeriodEnd != 1702592000 {
		t.Errorf("expected period end from event, got %v", sub.CurrentPeriodEnd)
	}
	if billing.HasAccess(sub) {
		t.Error("past_due subscription must not grant access")
	}
}

func newReconcilingWebhook(t *testing.T) (*StripeWebhookHandler, *memorySubscriptions) {
	t.Helper()
	logger := discardLogger()
	customers := newMemoryCustomers()
	subs := newMemorySubscriptions(customers)
	reconciler := billing.NewReconciler(subs, nil, logger)
	provider := external.NewStubPaymentProvider(logger)
	dispatcher := billing.NewDispatcher(billing.NewCheckoutHandler(provider, customers, reconciler, logger), reconciler, logger)
	return NewStripeWebhookHandler(external.NewStripeVerifier(0), dispatcher, nil, testWebhookSecret, logger), subs
}

func deliverOK(t *testing.T, h *StripeWebhookHandler, body string) {
	t.Helper()
	w := httptest.NewRecorder()
	h.Handle(w, newSignedRequest(http.MethodPost, body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStripeWebhook_RedeliveryIsIdempotent(t *testing.T) {
	h, subs := newReconcilingWebhook(t)

	deliverOK(t, h, subscriptionUpdatedEvent)
	first := subs.rows["cus_1"]

	deliverOK(t, h, subscriptionUpdatedEvent)

	if len(subs.rows) != 1 {
		t.Fatalf("expected one row after redelivery, got %d", len(subs.rows))
	}
	if second := subs.rows["cus_1"]; !reflect.DeepEqual(first, second) {
		t.Errorf("redelivery changed the row:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestStripeWebhook_OutOfOrderLastProcessedWins(t *testing.T) {
	const newerEvent = `{
  "id": "evt_sub_newer",
  "type": "customer.subscription.updated",
  "created": 1700000200,
  "data": {"object": {
    "id": "sub_1",
    "customer": "cus_1",
    "status": "active",
    "cancel_at_period_end": true,
    "current_period_start": 1700000000,
    "current_period_end": 1702592000,
    "items": {"data": [{"id": "si_1", "price": {"id": "price_family"}}]}
  }}
}`
	h, subs := newReconcilingWebhook(t)

	deliverOK(t, h, newerEvent)
	deliverOK(t, h, subscriptionUpdatedEvent)

	if len(subs.rows) != 1 {
		t.Fatalf("expected one row per customer, got %d", len(subs.rows))
	}
	row := subs.rows["cus_1"]
	if row.Status != types.SubscriptionStatusPastDue || row.CancelAtPeriodEnd {
		t.Errorf("expected the last processed event to win, got %+v", row)
	}
	if row.PriceID == nil || *row.PriceID != "price_starter" {
		t.Errorf("expected price from last processed event, got %v", row.PriceID)
	}
}

func TestStripeWebhook_MountedOnServer(t *testing.T) {
	srv, err := core.NewServer(&config.Config{}, discardLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	f := newWebhookFixture(testWebhookSecret)
	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars, f.handler.RegisterRoutes)
	srv.MountRoutes()

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, newSignedRequest(http.MethodPost, subscriptionUpdatedEvent))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 through the router, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected CORS header on webhook response, got %q", got)
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, newSignedRequest(http.MethodPut, subscriptionUpdatedEvent))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for PUT, got %d", w.Code)
	}
}
