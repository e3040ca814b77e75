package billing

import (
	"context"
	"log/slog"
	"strings"

	"storymagic/internal/external"
	"storymagic/internal/types"
)

// CancelSuccessMessage is returned to the caller after a successful cancellation.
const CancelSuccessMessage = "Subscription will be canceled at the end of the billing period"

// CheckoutRequest is the body of the checkout session endpoint. Either Plan
// or PriceID must identify a catalog plan.
type CheckoutRequest struct {
	Plan       string `json:"plan"`
	PriceID    string `json:"price_id"`
	UserID     string `json:"userId"`
	SuccessURL string `json:"success_url" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url" validate:"omitempty,url"`
}

// CheckoutSession is the redirect target returned to the client.
type CheckoutSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// SubscriptionStatusView is the body of GET /v1/subscription.
type SubscriptionStatusView struct {
	HasActiveSubscription bool                    `json:"hasActiveSubscription"`
	Subscription          *types.UserSubscription `json:"subscription"`
}

// Service implements the directly invoked billing operations.
type Service struct {
	provider      external.PaymentProvider
	customers     CustomerStore
	subscriptions SubscriptionStore
	plans         PlanCatalog
	appURL        string
	logger        *slog.Logger
}

// ServiceDeps bundles the collaborators of Service.
type ServiceDeps struct {
	Provider      external.PaymentProvider
	Customers     CustomerStore
	Subscriptions SubscriptionStore
	Plans         PlanCatalog
	AppURL        string
	Logger        *slog.Logger
}

func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider:      deps.Provider,
		customers:     deps.Customers,
		subscriptions: deps.Subscriptions,
		plans:         deps.Plans,
		appURL:        strings.TrimRight(deps.AppURL, "/"),
		logger:        logger,
	}
}

// CancelAtPeriodEnd flags subscriptionID to cancel at the end of the current
// period, first at the provider and then in the local snapshot. The two
// writes are not atomic: when the local write fails the error is returned
// and the next customer.subscription.updated event repairs the row.
func (s *Service) CancelAtPeriodEnd(ctx context.Context, actor types.Actor, subscriptionID string) (*types.ProviderSubscription, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingSubscriptionID, "Subscription ID is required", nil)
	}

	if !actor.IsSystem() {
		owned, err := s.subscriptions.GetBySubscriptionID(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		if owned == nil {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "Subscription not found", nil)
		}
		if owned.UserID != actor.ID {
			s.logger.WarnContext(ctx, "cancel attempted on subscription owned by another user",
				"subscription_id", subscriptionID,
				"user_id", actor.ID,
			)
			return nil, types.NewAppError(types.ErrCodePermissionSubscriptionOwner, "Subscription does not belong to the caller", nil)
		}
	}

	sub, err := s.provider.CancelAtPeriodEnd(ctx, subscriptionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "provider cancel failed",
			"subscription_id", subscriptionID,
			"error", err,
		)
		return nil, err
	}

	n, err := s.subscriptions.MarkCancelAtPeriodEnd(ctx, subscriptionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "local cancel flag not stored; provider already updated",
			"subscription_id", subscriptionID,
			"customer_id", sub.Customer.String(),
			"error", err,
		)
		return nil, err
	}
	if n == 0 {
		s.logger.WarnContext(ctx, "no local snapshot for canceled subscription",
			"subscription_id", subscriptionID,
		)
	}

	s.logger.InfoContext(ctx, "subscription set to cancel at period end",
		"subscription_id", subscriptionID,
		"customer_id", sub.Customer.String(),
		"actor", actor.ID,
	)
	return sub, nil
}

// CreateCheckoutSession starts a provider checkout for the requested plan.
// Unknown plans are rejected before the provider is contacted.
func (s *Service) CreateCheckoutSession(ctx context.Context, actor types.Actor, req CheckoutRequest) (*CheckoutSession, error) {
	plan, ok := s.resolvePlan(req)
	if !ok {
		name := req.Plan
		if name == "" {
			name = req.PriceID
		}
		return nil, types.NewAppError(types.ErrCodeValidationUnknownPlan, "Invalid plan selected", nil).
			WithDetails(map[string]any{"plan": name})
	}

	userID := req.UserID
	switch {
	case actor.IsSystem():
		if userID == "" {
			return nil, types.NewAppError(types.ErrCodeValidationMissingField, "userId is required", nil)
		}
	case userID == "":
		userID = actor.ID
	case userID != actor.ID:
		return nil, types.NewAppError(types.ErrCodePermissionUserMismatch, "userId does not match the authenticated user", nil)
	}

	params := types.CheckoutSessionParams{
		PriceID:    plan.PriceID,
		UserID:     userID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Plan:       plan.ID,
	}
	if params.SuccessURL == "" {
		params.SuccessURL = s.appURL + "/dashboard?session_id={CHECKOUT_SESSION_ID}"
	}
	if params.CancelURL == "" {
		params.CancelURL = s.appURL + "/pricing"
	}

	existing, err := s.customers.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		params.CustomerID = existing.CustomerID
	} else if !actor.IsSystem() {
		params.Email = actor.Email
	}

	session, err := s.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		s.logger.ErrorContext(ctx, "checkout session creation failed",
			"plan", plan.ID,
			"user_id", userID,
			"error", err,
		)
		return nil, err
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"session_id", session.ID,
		"plan", plan.ID,
		"user_id", userID,
		"customer_id", params.CustomerID,
	)
	return &CheckoutSession{SessionID: session.ID, URL: session.URL}, nil
}

func (s *Service) resolvePlan(req CheckoutRequest) (Plan, bool) {
	if req.Plan != "" {
		return s.plans.Lookup(req.Plan)
	}
	return s.plans.ByPriceID(req.PriceID)
}

// GetUserSubscription returns the caller's snapshot, or nil when the user
// has never subscribed.
func (s *Service) GetUserSubscription(ctx context.Context, userID string) (*types.UserSubscription, error) {
	return s.subscriptions.GetForUser(ctx, userID)
}

// SubscriptionStatus returns the access view for userID.
func (s *Service) SubscriptionStatus(ctx context.Context, userID string) (*SubscriptionStatusView, error) {
	sub, err := s.GetUserSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewSubscriptionStatusView(sub), nil
}
