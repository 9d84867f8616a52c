// Package domain contains core business types and interfaces.
//
// This file defines the usage ledger types: the per-user UsageRecord with
// its optimistic-concurrency version, the repository contract through which
// it is mutated, and the read-only projections consumed by clients.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ErrStaleVersion is returned by UsageRepository.IncrementUsage when the
// compare-and-swap on the record version finds no matching row. Services
// translate it into a VersionConflict error for callers.
var ErrStaleVersion = errors.New("usage record version is stale")

// UsageRecord is the per-user ledger row: current plan tier, per-feature
// consumption counters, and a version number incremented on every
// effective mutation.
//
// The record is exclusively mutated through UsageRepository's atomic
// operations; counts are monotonically non-decreasing within a billing
// cycle and never exceed the tier quota for metered features.
type UsageRecord struct {
	UserID    uuid.UUID            `json:"user_id"`
	PlanTier  PlanTier             `json:"plan_tier"`
	Counts    map[FeatureKey]int64 `json:"counts"`
	Version   int64                `json:"version"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// NewUsageRecord returns the default record synthesized for a user's first
// feature use: Free tier, all counts zero, version 0.
func NewUsageRecord(userID uuid.UUID) *UsageRecord {
	return &UsageRecord{
		UserID:   userID,
		PlanTier: PlanTierFree,
		Counts:   make(map[FeatureKey]int64),
		Version:  0,
	}
}

// Count returns the consumption counter for a feature, zero if the feature
// has never been used.
func (r *UsageRecord) Count(feature FeatureKey) int64 {
	return r.Counts[feature]
}

// UsageAuditEntry is a best-effort trail record written after a successful
// increment. An audit write failure never rolls back the increment.
type UsageAuditEntry struct {
	UserID   uuid.UUID
	Feature  FeatureKey
	Amount   int64
	Metadata json.RawMessage // optional free-form context from the caller
}

// UsageRepository is the persistence contract for the usage ledger.
//
// All coordination between concurrent callers happens through the store's
// atomic primitives, never through in-process locks: the serving layer may
// be horizontally replicated.
type UsageRepository interface {
	// GetUsageRecord returns the record for a user, or sql.ErrNoRows if the
	// user has never consumed a feature.
	GetUsageRecord(ctx context.Context, userID uuid.UUID) (*UsageRecord, error)

	// EnsureUsageRecord lazily creates the default Free-tier record for a
	// user if none exists, then returns the current record. The creation is
	// idempotent under concurrent calls.
	EnsureUsageRecord(ctx context.Context, userID uuid.UUID) (*UsageRecord, error)

	// IncrementUsage applies a single atomic compare-and-swap: the counter
	// for feature is raised by amount and version is incremented, but only
	// if the stored version still equals expectedVersion. Returns
	// ErrStaleVersion when the guard fails; the record is not mutated.
	IncrementUsage(ctx context.Context, userID uuid.UUID, feature FeatureKey, amount, expectedVersion int64) (*UsageRecord, error)

	// SetPlanTier idempotently sets a user's plan tier, creating the record
	// if absent. The version is bumped only when the tier actually changes,
	// so duplicate payment-event deliveries leave the record untouched.
	SetPlanTier(ctx context.Context, userID uuid.UUID, tier PlanTier) (*UsageRecord, error)

	// InsertUsageAudit records an audit trail entry.
	InsertUsageAudit(ctx context.Context, entry UsageAuditEntry) error

	// DeleteUsageRecord removes a user's ledger row. Only account deletion
	// may call this.
	DeleteUsageRecord(ctx context.Context, userID uuid.UUID) error
}

// QuotaAmount is a limit or remaining-count value that renders the
// unlimited sentinel as the string "unlimited" in JSON.
type QuotaAmount int64

// MarshalJSON implements json.Marshaler.
func (q QuotaAmount) MarshalJSON() ([]byte, error) {
	if int64(q) == UnlimitedQuota {
		return []byte(`"unlimited"`), nil
	}
	return []byte(strconv.FormatInt(int64(q), 10)), nil
}

// FeatureUsage is the per-feature slice of the client usage view.
type FeatureUsage struct {
	Used      int64       `json:"used"`
	Limit     QuotaAmount `json:"limit"`
	Remaining QuotaAmount `json:"remaining"`
}

// UsageView is the read-only projection of a UsageRecord for UI rendering.
// It never enforces anything; enforcement happens exclusively in the gate.
type UsageView struct {
	UserID    uuid.UUID                   `json:"user_id"`
	PlanTier  PlanTier                    `json:"plan_tier"`
	Version   int64                       `json:"version"`
	Available bool                        `json:"available"`
	Features  map[FeatureKey]FeatureUsage `json:"features"`
}

// BuildUsageView projects a record and catalog into per-feature usage
// figures. A nil record produces the conservative fail-closed view: not
// available, zero remaining everywhere.
func BuildUsageView(record *UsageRecord, catalog *Catalog) UsageView {
	view := UsageView{
		Features: make(map[FeatureKey]FeatureUsage, len(AllFeatureKeys())),
	}

	if record == nil {
		for _, feature := range AllFeatureKeys() {
			view.Features[feature] = FeatureUsage{Used: 0, Limit: 0, Remaining: 0}
		}
		return view
	}

	view.UserID = record.UserID
	view.PlanTier = record.PlanTier
	view.Version = record.Version
	view.Available = true

	for _, feature := range AllFeatureKeys() {
		used := record.Count(feature)
		limit := catalog.QuotaFor(record.PlanTier, feature)

		usage := FeatureUsage{Used: used, Limit: QuotaAmount(limit)}
		if limit == UnlimitedQuota {
			usage.Remaining = QuotaAmount(UnlimitedQuota)
		} else {
			remaining := limit - used
			if remaining < 0 {
				remaining = 0
			}
			usage.Remaining = QuotaAmount(remaining)
		}
		view.Features[feature] = usage
	}

	return view
}

// LimitCheck is the result of a pure, read-only quota precomputation.
type LimitCheck struct {
	Limit    int64 `json:"limit"`
	Exceeded bool  `json:"exceeded"`
}

// ValidateLimit reports whether currentUsage already meets or exceeds the
// quota for a feature under a tier. It is a UI hint only and must never be
// used as the enforcement path: a read-then-decide split reintroduces the
// lost-update race that the gate's atomic check-and-increment prevents.
func ValidateLimit(catalog *Catalog, tier PlanTier, feature FeatureKey, currentUsage int64) LimitCheck {
	limit := catalog.QuotaFor(tier, feature)
	if limit == UnlimitedQuota {
		return LimitCheck{Limit: limit, Exceeded: false}
	}
	return LimitCheck{Limit: limit, Exceeded: currentUsage >= limit}
}
