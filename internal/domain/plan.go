// Package domain contains core business types and interfaces.
//
// This file defines the plan catalog: subscription tiers and their
// per-feature quotas. The catalog is immutable configuration injected at
// construction time so tests can substitute alternate plan tables.
package domain

import (
	"fmt"
)

// PlanTier represents a named subscription level.
type PlanTier string

const (
	PlanTierFree  PlanTier = "free"
	PlanTierBasic PlanTier = "basic"
	PlanTierPro   PlanTier = "pro"
)

// FeatureKey identifies a meterable product action. The set is closed:
// adding a key requires a quota entry for every tier in the catalog.
type FeatureKey string

const (
	FeatureResumeTailor   FeatureKey = "resume_tailor"
	FeatureCoverLetter    FeatureKey = "cover_letter"
	FeatureJobSearch      FeatureKey = "job_search"
	FeatureOneClickTailor FeatureKey = "one_click_tailor"
	FeatureATSCheck       FeatureKey = "ats_check"
)

// UnlimitedQuota is the sentinel limit meaning a feature is not metered
// for a tier.
const UnlimitedQuota int64 = -1

// AllPlanTiers returns every known subscription tier.
func AllPlanTiers() []PlanTier {
	return []PlanTier{PlanTierFree, PlanTierBasic, PlanTierPro}
}

// AllFeatureKeys returns every meterable feature.
func AllFeatureKeys() []FeatureKey {
	return []FeatureKey{
		FeatureResumeTailor,
		FeatureCoverLetter,
		FeatureJobSearch,
		FeatureOneClickTailor,
		FeatureATSCheck,
	}
}

// ParsePlanTier validates a tier name received from an external source.
func ParsePlanTier(s string) (PlanTier, error) {
	tier := PlanTier(s)
	for _, t := range AllPlanTiers() {
		if tier == t {
			return tier, nil
		}
	}
	return "", fmt.Errorf("unknown plan tier %q", s)
}

// ParseFeatureKey validates a feature name received from an external source.
func ParseFeatureKey(s string) (FeatureKey, error) {
	feature := FeatureKey(s)
	for _, f := range AllFeatureKeys() {
		if feature == f {
			return feature, nil
		}
	}
	return "", fmt.Errorf("unknown feature %q", s)
}

// Catalog maps every plan tier to its per-feature quota limits.
//
// A Catalog is validated once at construction: every FeatureKey must have
// an entry in every tier's quota map. This makes a missing mapping a fatal
// startup error rather than a per-request error path.
type Catalog struct {
	quotas map[PlanTier]map[FeatureKey]int64
}

// NewCatalog builds and validates a Catalog. It returns an error if any
// tier is missing, any feature is undefined for a tier, or a quota is
// negative without being the unlimited sentinel. Callers must treat this
// error as fatal and refuse to serve traffic.
func NewCatalog(quotas map[PlanTier]map[FeatureKey]int64) (*Catalog, error) {
	for _, tier := range AllPlanTiers() {
		tierQuotas, ok := quotas[tier]
		if !ok {
			return nil, fmt.Errorf("plan catalog: tier %q has no quota map", tier)
		}
		for _, feature := range AllFeatureKeys() {
			limit, ok := tierQuotas[feature]
			if !ok {
				return nil, fmt.Errorf("plan catalog: tier %q is missing a quota for feature %q", tier, feature)
			}
			if limit < 0 && limit != UnlimitedQuota {
				return nil, fmt.Errorf("plan catalog: tier %q feature %q has invalid quota %d", tier, feature, limit)
			}
		}
	}
	return &Catalog{quotas: quotas}, nil
}

// DefaultCatalog returns the shipped plan table.
func DefaultCatalog() *Catalog {
	catalog, err := NewCatalog(map[PlanTier]map[FeatureKey]int64{
		PlanTierFree: {
			FeatureResumeTailor:   5,
			FeatureCoverLetter:    3,
			FeatureJobSearch:      10,
			FeatureOneClickTailor: 2,
			FeatureATSCheck:       3,
		},
		PlanTierBasic: {
			FeatureResumeTailor:   40,
			FeatureCoverLetter:    40,
			FeatureJobSearch:      100,
			FeatureOneClickTailor: 20,
			FeatureATSCheck:       40,
		},
		PlanTierPro: {
			FeatureResumeTailor:   UnlimitedQuota,
			FeatureCoverLetter:    UnlimitedQuota,
			FeatureJobSearch:      UnlimitedQuota,
			FeatureOneClickTailor: UnlimitedQuota,
			FeatureATSCheck:       UnlimitedQuota,
		},
	})
	if err != nil {
		// The shipped table is validated by tests; a failure here is a
		// programming error, not a runtime condition.
		panic(err)
	}
	return catalog
}

// QuotaFor returns the limit for a feature under a tier. Unknown tiers
// fall back to the Free tier so that a stale tier value stored in the
// ledger degrades to the most restrictive limits rather than failing open.
func (c *Catalog) QuotaFor(tier PlanTier, feature FeatureKey) int64 {
	tierQuotas, ok := c.quotas[tier]
	if !ok {
		tierQuotas = c.quotas[PlanTierFree]
	}
	return tierQuotas[feature]
}

// IsUnlimited reports whether a feature is unmetered for a tier.
func (c *Catalog) IsUnlimited(tier PlanTier, feature FeatureKey) bool {
	return c.QuotaFor(tier, feature) == UnlimitedQuota
}
