// Package billing provides the Stripe integration consumed by entitlement
// sync: webhook signature verification and mapping price IDs to plan tiers.
//
// The metering service never initiates payments; checkout and the customer
// portal live in the main product. This package only authenticates and
// decodes what Stripe delivers.
package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Service defines the interface for billing event intake.
type Service interface {
	// VerifyWebhookSignature verifies the Stripe webhook signature and
	// returns the decoded event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// TierForPriceID returns the plan tier name for a Stripe price ID, or
	// "" if the price is not part of any plan.
	TierForPriceID(priceID string) string
}

// PriceConfig holds the Stripe price IDs for each paid plan.
type PriceConfig struct {
	BasicMonthlyPriceID string
	BasicYearlyPriceID  string
	ProMonthlyPriceID   string
	ProYearlyPriceID    string
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
	priceToTier   map[string]string
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey authenticates Stripe API calls; the webhookSecret verifies
// incoming webhook signatures.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	priceToTier := make(map[string]string)
	if prices.BasicMonthlyPriceID != "" {
		priceToTier[prices.BasicMonthlyPriceID] = "basic"
	}
	if prices.BasicYearlyPriceID != "" {
		priceToTier[prices.BasicYearlyPriceID] = "basic"
	}
	if prices.ProMonthlyPriceID != "" {
		priceToTier[prices.ProMonthlyPriceID] = "pro"
	}
	if prices.ProYearlyPriceID != "" {
		priceToTier[prices.ProYearlyPriceID] = "pro"
	}

	return &stripeService{
		webhookSecret: webhookSecret,
		priceToTier:   priceToTier,
	}
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) TierForPriceID(priceID string) string {
	if tier, ok := s.priceToTier[priceID]; ok {
		return tier
	}
	return ""
}
