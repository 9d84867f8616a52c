// Package handler contains HTTP handlers for the usage metering service.
//
// This file implements the Stripe webhook that feeds entitlement sync.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no service-token middleware) because Stripe calls
// it directly. Authentication is the Stripe webhook signature. Delivery is
// at least once; every state change downstream is idempotent.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/billing"
	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/domain"
	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/metrics"
	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/service"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing     billing.Service
	entitlement service.EntitlementService
	logger      *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, entitlement service.EntitlementService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:     billingService,
		entitlement: entitlement,
		logger:      logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC: no auth middleware.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Read body (limit to 64KB)
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Verify signature
	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)
	metrics.PaymentWebhooks.WithLabelValues(string(event.Type)).Inc()

	// Route to event-specific handler. Handlers return an error only for
	// faults that redelivery can fix; malformed or unmatchable events are
	// logged and acknowledged so Stripe stops resending them.
	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(r.Context(), event)
	case "customer.subscription.created", "customer.subscription.updated":
		err = h.handleSubscriptionChanged(r.Context(), event)
	case "customer.subscription.deleted":
		err = h.handleSubscriptionDeleted(r.Context(), event)
	case "invoice.payment_failed":
		err = h.handlePaymentFailed(r.Context(), event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
	}

	if err != nil {
		// Non-2xx asks Stripe to redeliver; the downstream write is
		// idempotent so this is safe.
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleCheckoutCompleted applies the plan purchased in a completed
// checkout session. The product's checkout flow stamps user_id and plan
// into the session metadata.
func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.logger.Error("failed to parse checkout session", "error", err)
		return nil
	}

	userID, ok := h.userIDFromMetadata(session.Metadata, "checkout.session.completed", session.ID)
	if !ok {
		return nil
	}

	tier, err := domain.ParsePlanTier(session.Metadata["plan"])
	if err != nil {
		h.logger.Warn("checkout session has no recognizable plan", "session_id", session.ID, "error", err)
		return nil
	}

	return h.entitlement.HandlePaymentEvent(ctx, domain.PaymentEvent{
		UserID:         userID,
		TargetPlanTier: tier,
		PaymentID:      session.ID,
		Amount:         session.AmountTotal,
		Currency:       string(session.Currency),
		Status:         domain.PaymentStatusSuccess,
	})
}

// handleSubscriptionChanged applies tier changes from subscription
// create/update events, resolving the tier from the subscribed price.
func (h *WebhookHandler) handleSubscriptionChanged(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription event", "error", err)
		return nil
	}

	userID, ok := h.userIDFromMetadata(sub.Metadata, string(event.Type), sub.ID)
	if !ok {
		return nil
	}

	tierName := ""
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		tierName = h.billing.TierForPriceID(sub.Items.Data[0].Price.ID)
	}
	tier, err := domain.ParsePlanTier(tierName)
	if err != nil {
		h.logger.Warn("subscription price maps to no plan", "subscription_id", sub.ID, "error", err)
		return nil
	}

	return h.entitlement.HandlePaymentEvent(ctx, domain.PaymentEvent{
		UserID:         userID,
		TargetPlanTier: tier,
		PaymentID:      sub.ID,
		Status:         domain.PaymentStatusSuccess,
	})
}

// handleSubscriptionDeleted downgrades the user to the Free tier.
func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription deleted event", "error", err)
		return nil
	}

	userID, ok := h.userIDFromMetadata(sub.Metadata, "customer.subscription.deleted", sub.ID)
	if !ok {
		return nil
	}

	return h.entitlement.HandlePaymentEvent(ctx, domain.PaymentEvent{
		UserID:         userID,
		TargetPlanTier: domain.PlanTierFree,
		PaymentID:      sub.ID,
		Status:         domain.PaymentStatusSuccess,
	})
}

// handlePaymentFailed records the failure; entitlement state is unchanged.
func (h *WebhookHandler) handlePaymentFailed(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		h.logger.Error("failed to parse invoice payment failed event", "error", err)
		return nil
	}

	userID, ok := h.userIDFromMetadata(invoice.Metadata, "invoice.payment_failed", invoice.ID)
	if !ok {
		return nil
	}

	return h.entitlement.HandlePaymentEvent(ctx, domain.PaymentEvent{
		UserID:    userID,
		PaymentID: invoice.ID,
		Status:    domain.PaymentStatusFailed,
	})
}

// userIDFromMetadata extracts the user_id our checkout flow stamps on
// every Stripe object. Events without it cannot be attributed and are
// acknowledged without action.
func (h *WebhookHandler) userIDFromMetadata(metadata map[string]string, eventType, objectID string) (uuid.UUID, bool) {
	raw, ok := metadata["user_id"]
	if !ok || raw == "" {
		h.logger.Warn("webhook object missing user_id metadata", "type", eventType, "object_id", objectID)
		return uuid.Nil, false
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		h.logger.Warn("webhook object has malformed user_id metadata", "type", eventType, "object_id", objectID, "error", err)
		return uuid.Nil, false
	}
	return userID, true
}
