package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storymagic/internal/billing"
	"storymagic/internal/core"
	"storymagic/internal/types"
)

// BillingService is the subset of billing.Service the handlers call.
type BillingService interface {
	CancelAtPeriodEnd(ctx context.Context, actor types.Actor, subscriptionID string) (*types.ProviderSubscription, error)
	CreateCheckoutSession(ctx context.Context, actor types.Actor, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
	SubscriptionStatus(ctx context.Context, userID string) (*billing.SubscriptionStatusView, error)
}

// CancelRequest is the body of POST /v1/subscriptions/cancel.
type CancelRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

// CancelResponse is returned after the provider accepted the cancellation.
type CancelResponse struct {
	Success      bool                        `json:"success"`
	Message      string                      `json:"message"`
	Subscription *types.ProviderSubscription `json:"subscription"`
}

// BillingHandler serves the directly invoked billing endpoints.
type BillingHandler struct {
	service     BillingService
	validator   *core.Validator
	requireUser func(http.Handler) http.Handler
	logger      *slog.Logger
}

// NewBillingHandler builds the handler. requireUser guards routes that act on
// the signed-in user; pass core.Server.RequireUser.
func NewBillingHandler(
	svc BillingService,
	v *core.Validator,
	requireUser func(http.Handler) http.Handler,
	l *slog.Logger,
) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(l)
	}
	return &BillingHandler{
		service:     svc,
		validator:   v,
		requireUser: requireUser,
		logger:      l,
	}
}

// RegisterRoutes mounts the billing endpoints. The parent group has already
// applied AuthMiddleware.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/checkout-sessions", h.CreateCheckoutSession)
	r.Post("/subscriptions/cancel", h.CancelSubscription)

	r.Group(func(r chi.Router) {
		if h.requireUser != nil {
			r.Use(h.requireUser)
		}
		r.Get("/subscription", h.GetSubscription)
	})
}

// CancelSubscription handles POST /v1/subscriptions/cancel.
func (h *BillingHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	var req CancelRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.ErrorWithStatus(w, r, http.StatusBadRequest, err)
		return
	}

	sub, err := h.service.CancelAtPeriodEnd(r.Context(), actor, req.SubscriptionID)
	if err != nil {
		core.ErrorWithStatus(w, r, http.StatusBadRequest, err)
		return
	}

	core.JSON(w, r, http.StatusOK, CancelResponse{
		Success:      true,
		Message:      billing.CancelSuccessMessage,
		Subscription: sub,
	})
}

// CreateCheckoutSession handles POST /v1/checkout-sessions.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	var req billing.CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.ErrorWithStatus(w, r, http.StatusBadRequest, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.ErrorWithStatus(w, r, http.StatusBadRequest, err)
		return
	}

	session, err := h.service.CreateCheckoutSession(r.Context(), actor, req)
	if err != nil {
		core.ErrorWithStatus(w, r, http.StatusBadRequest, err)
		return
	}

	core.JSON(w, r, http.StatusOK, session)
}

// GetSubscription handles GET /v1/subscription for the signed-in user. A user
// without a subscription gets 200 with a null subscription.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	view, err := h.service.SubscriptionStatus(r.Context(), actor.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load subscription",
			"user_id", actor.ID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, view)
}
