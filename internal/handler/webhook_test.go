package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/domain"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
)

// fakeBilling bypasses real signature verification and returns a
// pre-constructed event, so handler tests exercise routing and event
// decoding without Stripe signing keys.
type fakeBilling struct {
	event       stripe.Event
	verifyErr   error
	priceToTier map[string]string
}

func (f *fakeBilling) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	if f.verifyErr != nil {
		return stripe.Event{}, f.verifyErr
	}
	return f.event, nil
}

func (f *fakeBilling) TierForPriceID(priceID string) string {
	return f.priceToTier[priceID]
}

func stripeEvent(t *testing.T, eventType string, object interface{}) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatal(err)
	}
	return stripe.Event{
		ID:   "evt_test",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func postWebhook(h *WebhookHandler) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=test")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhook_BillingNotConfigured(t *testing.T) {
	h := NewWebhookHandler(nil, &fakeEntitlement{}, testLogger())

	rec := postWebhook(h)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 when billing is disabled, got %d", rec.Code)
	}
}

func TestStripeWebhook_BadSignature(t *testing.T) {
	billing := &fakeBilling{verifyErr: errors.New("signature mismatch")}
	entitlement := &fakeEntitlement{
		paymentFn: func(ctx context.Context, event domain.PaymentEvent) error {
			t.Error("unverified events must not reach entitlement sync")
			return nil
		},
	}
	h := NewWebhookHandler(billing, entitlement, testLogger())

	rec := postWebhook(h)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad signature, got %d", rec.Code)
	}
}

func TestStripeWebhook_CheckoutCompleted(t *testing.T) {
	userID := uuid.New()
	event := stripeEvent(t, "checkout.session.completed", map[string]interface{}{
		"id":           "cs_test_123",
		"amount_total": 2999,
		"currency":     "usd",
		"metadata":     map[string]string{"user_id": userID.String(), "plan": "pro"},
	})

	var got domain.PaymentEvent
	entitlement := &fakeEntitlement{
		paymentFn: func(ctx context.Context, e domain.PaymentEvent) error {
			got = e
			return nil
		},
	}
	h := NewWebhookHandler(&fakeBilling{event: event}, entitlement, testLogger())

	rec := postWebhook(h)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.UserID != userID || got.TargetPlanTier != domain.PlanTierPro {
		t.Errorf("unexpected payment event: %+v", got)
	}
	if got.Status != domain.PaymentStatusSuccess || got.PaymentID != "cs_test_123" {
		t.Errorf("unexpected payment event: %+v", got)
	}
	if got.Amount != 2999 || got.Currency != "usd" {
		t.Errorf("unexpected amount/currency: %+v", got)
	}
}

func TestStripeWebhook_SubscriptionUpdated(t *testing.T) {
	userID := uuid.New()
	event := stripeEvent(t, "customer.subscription.updated", map[string]interface{}{
		"id":       "sub_test_456",
		"metadata": map[string]string{"user_id": userID.String()},
		"items": map[string]interface{}{
			"data": []map[string]interface{}{
				{"price": map[string]interface{}{"id": "price_basic_monthly"}},
			},
		},
	})

	var got domain.PaymentEvent
	entitlement := &fakeEntitlement{
		paymentFn: func(ctx context.Context, e domain.PaymentEvent) error {
			got = e
			return nil
		},
	}
	billing := &fakeBilling{
		event:       event,
		priceToTier: map[string]string{"price_basic_monthly": "basic"},
	}
	h := NewWebhookHandler(billing, entitlement, testLogger())

	rec := postWebhook(h)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.UserID != userID || got.TargetPlanTier != domain.PlanTierBasic {
		t.Errorf("unexpected payment event: %+v", got)
	}
}

func TestStripeWebhook_SubscriptionDeleted_DowngradesToFree(t *testing.T) {
	userID := uuid.New()
	event := stripeEvent(t, "customer.subscription.deleted", map[string]interface{}{
		"id":       "sub_test_789",
		"metadata": map[string]string{"user_id": userID.String()},
	})

	var got domain.PaymentEvent
	entitlement := &fakeEntitlement{
		paymentFn: func(ctx context.Context, e domain.PaymentEvent) error {
			got = e
			return nil
		},
	}
	h := NewWebhookHandler(&fakeBilling{event: event}, entitlement, testLogger())

	rec := postWebhook(h)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.TargetPlanTier != domain.PlanTierFree || got.Status != domain.PaymentStatusSuccess {
		t.Errorf("expected downgrade to free, got %+v", got)
	}
}

func TestStripeWebhook_PaymentFailed(t *testing.T) {
	userID := uuid.New()
	event := stripeEvent(t, "invoice.payment_failed", map[string]interface{}{
		"id":       "in_test_123",
		"metadata": map[string]string{"user_id": userID.String()},
	})

	var got domain.PaymentEvent
	entitlement := &fakeEntitlement{
		paymentFn: func(ctx context.Context, e domain.PaymentEvent) error {
			got = e
			return nil
		},
	}
	h := NewWebhookHandler(&fakeBilling{event: event}, entitlement, testLogger())

	rec := postWebhook(h)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got.Status != domain.PaymentStatusFailed {
		t.Errorf("expected failed status, got %+v", got)
	}
}

func TestStripeWebhook_MissingUserIDIsAcknowledged(t *testing.T) {
	// Events we cannot attribute are acknowledged, not retried forever.
	event := stripeEvent(t, "checkout.session.completed", map[string]interface{}{
		"id":       "cs_test_orphan",
		"metadata": map[string]string{"plan": "pro"},
	})

	entitlement := &fakeEntitlement{
		paymentFn: func(ctx context.Context, e domain.PaymentEvent) error {
			t.Error("unattributable events must not reach entitlement sync")
			return nil
		},
	}
	h := NewWebhookHandler(&fakeBilling{event: event}, entitlement, testLogger())

	rec := postWebhook(h)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestStripeWebhook_EntitlementFaultAsksForRedelivery(t *testing.T) {
	userID := uuid.New()
	event := stripeEvent(t, "checkout.session.completed", map[string]interface{}{
		"id":       "cs_test_retry",
		"metadata": map[string]string{"user_id": userID.String(), "plan": "basic"},
	})

	entitlement := &fakeEntitlement{
		paymentFn: func(ctx context.Context, e domain.PaymentEvent) error {
			return domain.Unavailable(errors.New("db down"), "entitlement.handle_payment_event")
		},
	}
	h := NewWebhookHandler(&fakeBilling{event: event}, entitlement, testLogger())

	rec := postWebhook(h)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 so Stripe redelivers, got %d", rec.Code)
	}
}

func TestStripeWebhook_UnhandledEventType(t *testing.T) {
	event := stripeEvent(t, "customer.created", map[string]interface{}{"id": "cus_test"})
	h := NewWebhookHandler(&fakeBilling{event: event}, &fakeEntitlement{}, testLogger())

	rec := postWebhook(h)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for unhandled type, got %d", rec.Code)
	}
}
