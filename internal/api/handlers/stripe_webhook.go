// Package handlers contains the HTTP handlers of the StoryMagic billing API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"storymagic/internal/billing"
	"storymagic/internal/core"
	"storymagic/internal/external"
	"storymagic/internal/telemetry"
	"storymagic/internal/types"
)

// maxWebhookBodySize is the maximum accepted Stripe webhook payload (1 MB).
const maxWebhookBodySize = 1 << 20

// payloadLogPrefix bounds how much of a raw payload reaches the log.
const payloadLogPrefix = 100

// EventDispatcher routes a decoded event to its handler.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev billing.InboundEvent) error
}

// WebhookMetrics records the outcome of each delivery.
type WebhookMetrics interface {
	RecordWebhook(ctx context.Context, eventType string, outcome telemetry.WebhookOutcome, reason string)
}

// WebhookReceipt is the acknowledgement body returned to Stripe.
type WebhookReceipt struct {
	Received bool `json:"received"`
}

// StripeWebhookHandler receives Stripe events. It is mounted outside the
// /v1 auth group; the Stripe-Signature header authenticates the caller.
type StripeWebhookHandler struct {
	verifier   external.WebhookVerifier
	dispatcher EventDispatcher
	metrics    WebhookMetrics
	secret     string
	logger     *slog.Logger
}

func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	dispatcher EventDispatcher,
	metrics WebhookMetrics,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics{}
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		dispatcher: dispatcher,
		metrics:    metrics,
		secret:     secret,
		logger:     logger,
	}
}

// RegisterRoutes mounts the webhook for every method so that a wrong method
// is answered by Handle with a 400 body rather than chi's 405.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/webhooks/stripe", h.Handle)
}

// Handle verifies, decodes and dispatches one webhook delivery.
//
// Responses:
//   - 200 {"received": true} once the event was handled or ignored.
//   - 400 for a wrong method, a non-JSON content type, a bad signature or a
//     malformed event. Stripe does not retry these.
//   - 500 for a missing signing secret or a processing failure, so that
//     Stripe redelivers the event.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.reject(w, r, types.NewAppError(types.ErrCodeValidationMethodNotAllowed, "Method not allowed", nil))
		return
	}
	if !isJSONContentType(r.Header.Get("Content-Type")) {
		h.reject(w, r, types.NewAppError(types.ErrCodeValidationContentType, "Content-Type must be application/json", nil))
		return
	}
	if h.secret == "" {
		err := types.NewAppError(types.ErrCodeInternalConfiguration, "Webhook signing secret is not configured", nil)
		h.logger.ErrorContext(ctx, "stripe webhook secret missing")
		h.metrics.RecordWebhook(ctx, "", telemetry.WebhookFailed, string(types.ErrCodeInternalConfiguration))
		core.ErrorWithStatus(w, r, http.StatusInternalServerError, err)
		return
	}

	// The signature covers the exact bytes sent, so the body is read raw.
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.reject(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "Failed to read request body", err))
		return
	}

	if err := h.verifier.Verify(payload, signatureHeader(r.Header), h.secret); err != nil {
		h.logger.WarnContext(ctx, "stripe webhook signature verification failed",
			"event_id", unverifiedEventID(payload),
			"payload_prefix", truncate(payload, payloadLogPrefix),
			"payload_size", len(payload),
		)
		h.reject(w, r, err)
		return
	}

	ev, err := billing.DecodeEvent(payload)
	if err != nil {
		h.logger.DebugContext(ctx, "undecodable webhook payload", "payload_prefix", truncate(payload, payloadLogPrefix))
		h.reject(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "stripe webhook received",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"event_created", ev.CreatedAt().Format(time.RFC3339),
	)

	if err := h.dispatcher.Dispatch(ctx, ev); err != nil {
		h.logger.ErrorContext(ctx, "stripe webhook processing failed",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"error", err,
		)
		h.metrics.RecordWebhook(ctx, string(ev.Type), telemetry.WebhookFailed, string(types.CodeOf(err)))
		core.ErrorWithStatus(w, r, http.StatusInternalServerError, err)
		return
	}

	h.metrics.RecordWebhook(ctx, string(ev.Type), telemetry.WebhookReceived, "")
	core.JSON(w, r, http.StatusOK, WebhookReceipt{Received: true})
}

// reject answers 400 for a delivery that will never succeed on retry.
func (h *StripeWebhookHandler) reject(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WarnContext(r.Context(), "stripe webhook rejected",
		"method", r.Method,
		"error", err,
	)
	reason := string(types.CodeOf(err))
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		if detail, ok := appErr.Details["reason"].(string); ok {
			reason = detail
		}
	}
	h.metrics.RecordWebhook(r.Context(), "", telemetry.WebhookRejected, reason)
	core.ErrorWithStatus(w, r, http.StatusBadRequest, err)
}

// signatureHeader returns Stripe-Signature as sent. The Lambda proxy splits
// comma-separated header values into multiple entries, so they are rejoined.
func signatureHeader(h http.Header) string {
	return strings.Join(h.Values("Stripe-Signature"), ",")
}

func isJSONContentType(v string) bool {
	if v == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(v)
	return err == nil && mediaType == "application/json"
}

// unverifiedEventID extracts the event id from a payload that failed
// verification. It is for log correlation only.
func unverifiedEventID(payload []byte) string {
	var envelope struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return ""
	}
	return envelope.ID
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
