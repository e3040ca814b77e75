// Package client is the Go counterpart of the browser subscription hook. It
// reads the signed-in user's subscription from the billing API and derives
// whether paid features are unlocked.
//
// State is pulled on demand: callers Refresh on start, after returning from
// checkout with a session id, and after a cancellation. Nothing polls.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"storymagic/internal/billing"
	"storymagic/internal/external"
	"storymagic/internal/types"
)

// CheckoutSessionParam is the query parameter the success redirect carries.
const CheckoutSessionParam = "session_id"

// TokenSource yields the bearer token sent with every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Config configures a SubscriptionClient.
type Config struct {
	BaseURL     string
	Tokens      TokenSource
	HTTPClient  *http.Client
	RetryPolicy *external.RetryPolicy
	Logger      *slog.Logger

	// BaseOptions are passed through to the underlying BaseClient.
	BaseOptions []external.BaseClientOption
}

// State is the last observed subscription view.
type State struct {
	HasActiveSubscription bool
	Subscription          *types.UserSubscription
	RefreshedAt           time.Time
	// Err is the failure of the last refresh, if any. A user without a
	// subscription is not an error.
	Err error
}

// SubscriptionClient caches the caller's subscription view. It is safe for
// concurrent use.
type SubscriptionClient struct {
	base    *external.BaseClient
	baseURL string
	tokens  TokenSource
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	state State
}

func NewSubscriptionClient(cfg Config) (*SubscriptionClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: base URL is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("client: token source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	policy := external.DefaultRetryPolicy()
	if cfg.RetryPolicy != nil {
		policy = *cfg.RetryPolicy
	}

	opts := append([]external.BaseClientOption{external.WithLogger(logger)}, cfg.BaseOptions...)
	return &SubscriptionClient{
		base:    external.NewBaseClient(httpClient, "storymagic-api", policy, "storymagic-client/1.0", opts...),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  cfg.Tokens,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// State returns a copy of the last observed state.
func (c *SubscriptionClient) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// HasActiveSubscription reports whether the last refresh found an active or
// trialing subscription.
func (c *SubscriptionClient) HasActiveSubscription() bool {
	return c.State().HasActiveSubscription
}

// Refresh fetches the subscription view. "No subscription" yields an
// inactive state and a nil error; transport and query failures are returned
// and also recorded in State.Err. Either way access is recomputed locally.
func (c *SubscriptionClient) Refresh(ctx context.Context) (State, error) {
	var view billing.SubscriptionStatusView
	err := c.do(ctx, http.MethodGet, "/v1/subscription", nil, &view)

	next := State{RefreshedAt: c.now(), Err: err}
	if err == nil {
		next.Subscription = view.Subscription
		next.HasActiveSubscription = billing.HasAccess(view.Subscription)
	} else {
		c.logger.WarnContext(ctx, "subscription refresh failed", "error", err)
	}

	c.mu.Lock()
	c.state = next
	c.mu.Unlock()
	return next, err
}

// Cancel asks the API to cancel the current subscription at period end and
// then refreshes. It needs a prior Refresh that found a subscription.
func (c *SubscriptionClient) Cancel(ctx context.Context) (State, error) {
	current := c.State().Subscription
	if current == nil || current.SubscriptionID == "" {
		return c.State(), types.NewAppError(types.ErrCodeValidationMissingSubscriptionID, "no subscription to cancel", nil)
	}

	body := map[string]string{"subscription_id": current.SubscriptionID}
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions/cancel", body, nil); err != nil {
		c.logger.ErrorContext(ctx, "subscription cancel failed",
			"subscription_id", current.SubscriptionID,
			"error", err,
		)
		return c.State(), err
	}
	return c.Refresh(ctx)
}

// StartCheckout creates a checkout session. The returned URL is where the
// user should be redirected.
func (c *SubscriptionClient) StartCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	var session billing.CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/v1/checkout-sessions", req, &session); err != nil {
		return nil, err
	}
	if session.URL == "" {
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "checkout session has no redirect URL", nil).
			WithDetails(map[string]any{"session_id": session.SessionID})
	}
	return &session, nil
}

// HandleCheckoutReturn refreshes when returnURL carries a checkout session
// id. It reports whether a refresh happened.
func (c *SubscriptionClient) HandleCheckoutReturn(ctx context.Context, returnURL string) (bool, error) {
	u, err := url.Parse(returnURL)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeValidationMissingField, "invalid return URL", err)
	}
	sessionID := u.Query().Get(CheckoutSessionParam)
	if sessionID == "" {
		return false, nil
	}

	c.logger.InfoContext(ctx, "refreshing after checkout", "session_id", sessionID)
	_, err = c.Refresh(ctx)
	return true, err
}

// apiError is the error body written by the billing API.
type apiError struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Details   map[string]any `json:"details"`
	RequestID string         `json:"request_id"`
}

func (c *SubscriptionClient) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeAuthTokenMissing, "no access token available", err)
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode request", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decode response", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var body apiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = fmt.Sprintf("billing API returned %d", resp.StatusCode)
	}

	code := types.ErrorCode(body.Code)
	if code == "" {
		code = types.ErrCodeInternalUnexpected
	}
	details := body.Details
	if body.RequestID != "" {
		if details == nil {
			details = map[string]any{}
		}
		details["request_id"] = body.RequestID
	}
	return types.NewAppErrorWithDetails(code, body.Error, nil, details)
}
