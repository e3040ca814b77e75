package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storymagic/internal/types"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
)

// stripeAPIBase is the default Stripe API base URL.
const stripeAPIBase = "https://api.stripe.com"

const stripeUserAgent = "StoryMagic-Billing/1.0"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for tests; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient talks to the Stripe REST API with form-encoded requests sent
// through BaseClient, which keeps retries and breaker behavior uniform with
// the other outbound clients and keeps tests on httptest.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient with two retries between 500ms and 5s.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		stripeUserAgent,
		WithLogger(logger),
		WithFinalResponse(),
	)

	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient around a pre-built BaseClient.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// PaymentProvider Implementation
// ---------------------------------------------------------------------------

// GetSubscription retrieves the authoritative state of a subscription.
func (s *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error) {
	var sub types.ProviderSubscription
	if err := s.call(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil, "GetSubscription", &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetCustomer retrieves a customer, including its metadata.
func (s *StripeClient) GetCustomer(ctx context.Context, customerID string) (*types.ProviderCustomer, error) {
	var cust types.ProviderCustomer
	if err := s.call(ctx, http.MethodGet, "/v1/customers/"+url.PathEscape(customerID), nil, "GetCustomer", &cust); err != nil {
		return nil, err
	}
	return &cust, nil
}

// CancelAtPeriodEnd schedules the subscription to end when the current
// billing period closes. Access is kept until then.
func (s *StripeClient) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*types.ProviderSubscription, error) {
	params := url.Values{}
	params.Set("cancel_at_period_end", "true")

	var sub types.ProviderSubscription
	if err := s.call(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(subscriptionID), params, "CancelAtPeriodEnd", &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateCheckoutSession creates a hosted checkout for a single recurring price.
// The user id is carried as client_reference_id and, through subscription
// metadata, on the resulting subscription as well.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, p types.CheckoutSessionParams) (*types.ProviderCheckoutSession, error) {
	params := url.Values{}
	params.Set("mode", string(types.CheckoutModeSubscription))
	params.Set("payment_method_types[0]", "card")
	params.Set("line_items[0][price]", p.PriceID)
	params.Set("line_items[0][quantity]", "1")
	params.Set("success_url", p.SuccessURL)
	params.Set("cancel_url", p.CancelURL)
	params.Set("client_reference_id", p.UserID)
	params.Set("metadata[userId]", p.UserID)
	params.Set("subscription_data[metadata][userId]", p.UserID)
	if p.Plan != "" {
		params.Set("metadata[plan]", p.Plan)
	}
	switch {
	case p.CustomerID != "":
		params.Set("customer", p.CustomerID)
	case p.Email != "":
		params.Set("customer_email", p.Email)
	}

	var sess types.ProviderCheckoutSession
	if err := s.call(ctx, http.MethodPost, "/v1/checkout/sessions", params, "CreateCheckoutSession", &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ---------------------------------------------------------------------------
// Request plumbing
// ---------------------------------------------------------------------------

// call performs one API operation and decodes a 200 response into out.
func (s *StripeClient) call(ctx context.Context, method, path string, params url.Values, operation string, out any) error {
	var (
		resp *http.Response
		err  error
	)
	if method == http.MethodGet {
		resp, err = s.doGet(ctx, path, params)
	} else {
		resp, err = s.doPost(ctx, path, params)
	}
	if err != nil {
		return s.wrapStripeError(operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, operation)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: failed to decode Stripe response", operation),
			err,
		)
	}
	return nil
}

func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost sends a form-encoded POST. A fresh Idempotency-Key per logical call
// makes BaseClient's replays safe on Stripe's side.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

// handleErrorResponse reads a Stripe error body and maps it to an AppError.
// The provider's message is preserved so callers can surface it verbatim.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if len(body) > 0 {
		if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
			s.logger.Warn("stripe error body is not JSON",
				"operation", operation,
				"status", resp.StatusCode,
				"error", jsonErr,
			)
		}
	}

	s.logger.Warn("stripe request failed",
		"operation", operation,
		"status", resp.StatusCode,
		"stripe_type", stripeErr.Error.Type,
		"stripe_code", stripeErr.Error.Code,
	)

	return mapStripeError(resp.StatusCode, &stripeErr.Error)
}

// mapStripeError picks the error code by HTTP status. The message is Stripe's
// own so that endpoint callers see the provider's wording.
func mapStripeError(statusCode int, body *stripeErrorBody) error {
	msg := body.Message
	if msg == "" {
		msg = fmt.Sprintf("Stripe returned status %d", statusCode)
	}
	details := map[string]any{
		"stripe_status": statusCode,
	}
	if body.Code != "" {
		details["stripe_code"] = body.Code
	}
	if body.Param != "" {
		details["stripe_param"] = body.Param
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamRateLimited, msg, nil, details)
	case statusCode >= 500:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable, msg, nil, details)
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamStripe, msg, nil, details)
	}
}

// wrapStripeError passes BaseClient AppErrors through and wraps anything else.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}
