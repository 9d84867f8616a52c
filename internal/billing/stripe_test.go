package billing

import "testing"

func TestTierForPriceID(t *testing.T) {
	svc := NewStripeService("sk_test_xxx", "whsec_xxx", PriceConfig{
		BasicMonthlyPriceID: "price_basic_m",
		BasicYearlyPriceID:  "price_basic_y",
		ProMonthlyPriceID:   "price_pro_m",
		ProYearlyPriceID:    "price_pro_y",
	})

	tests := []struct {
		priceID string
		want    string
	}{
		{"price_basic_m", "basic"},
		{"price_basic_y", "basic"},
		{"price_pro_m", "pro"},
		{"price_pro_y", "pro"},
		{"price_unknown", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := svc.TierForPriceID(tt.priceID); got != tt.want {
			t.Errorf("TierForPriceID(%q) = %q, want %q", tt.priceID, got, tt.want)
		}
	}
}

func TestTierForPriceID_UnconfiguredPricesAreNotMapped(t *testing.T) {
	// Empty price IDs must not map "" to a tier.
	svc := NewStripeService("sk_test_xxx", "whsec_xxx", PriceConfig{})

	if got := svc.TierForPriceID(""); got != "" {
		t.Errorf("expected no tier for empty price ID, got %q", got)
	}
}

func TestVerifyWebhookSignature_RejectsBadSignature(t *testing.T) {
	svc := NewStripeService("sk_test_xxx", "whsec_test_secret", PriceConfig{})

	_, err := svc.VerifyWebhookSignature([]byte(`{"id":"evt_1"}`), "t=1,v1=bogus")
	if err == nil {
		t.Error("expected signature verification to fail")
	}
}
