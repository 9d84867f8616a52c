// Package service contains the business logic layer.
//
// This file implements the usage gate: the single authority that admits or
// rejects a feature-consuming action against the caller's plan quota. All
// enforcement happens here, before any external generation cost is
// incurred; the read paths elsewhere are informational only.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/domain"
	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/metrics"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// CheckAndIncrementParams carries one admission request.
type CheckAndIncrementParams struct {
	UserID          uuid.UUID
	Feature         domain.FeatureKey
	Amount          int64           // positive; normally 1
	ExpectedVersion int64           // version the caller last observed
	Metadata        json.RawMessage // optional audit context
}

// UsageGate defines the admission-control operations for metered features.
type UsageGate interface {
	// CheckAndIncrement atomically checks the quota for a feature and
	// applies the increment. The check-then-increment is a single atomic
	// unit per user: no interleaving of concurrent calls can admit more
	// increments than the quota allows.
	//
	// Returns the updated record on success, or a typed error:
	//   - EVERSIONCONFLICT: the caller's version is stale; re-read and retry
	//   - ELIMITEXCEEDED: quota exhausted; the record was not mutated
	//   - EUNAVAILABLE: the store is unreachable; the action is denied
	CheckAndIncrement(ctx context.Context, params CheckAndIncrementParams) (*domain.UsageRecord, error)

	// GetUsage returns the current record for a user. Users who have never
	// consumed a feature get the synthesized default (Free tier, zero
	// counts, version 0) without a row being created.
	GetUsage(ctx context.Context, userID uuid.UUID) (*domain.UsageRecord, error)
}

// =============================================================================
// Implementation
// =============================================================================

type usageGate struct {
	repo    domain.UsageRepository
	catalog *domain.Catalog
	logger  *slog.Logger
}

// NewUsageGate creates a new UsageGate. The catalog is injected so tests
// can substitute alternate plan tables.
func NewUsageGate(repo domain.UsageRepository, catalog *domain.Catalog, logger *slog.Logger) UsageGate {
	return &usageGate{
		repo:    repo,
		catalog: catalog,
		logger:  logger,
	}
}

// CheckAndIncrement admits or rejects one feature use.
//
// Flow:
//  1. Ensure the user's record exists (lazy Free-tier creation).
//  2. Reject with VersionConflict if the caller's version is stale.
//  3. Reject with LimitExceeded if the increment would cross the quota.
//  4. Apply the increment through the store's version-guarded
//     compare-and-swap; a guard failure means a concurrent writer won the
//     race and surfaces as VersionConflict.
//  5. Append a best-effort audit entry.
//
// The quota decision in step 3 is made against the record read in step 1;
// the CAS in step 4 only succeeds if that record is still current, so the
// decision and the increment are atomic with respect to other callers.
// Any storage fault fails closed: the action is denied, never allowed.
func (g *usageGate) CheckAndIncrement(ctx context.Context, params CheckAndIncrementParams) (*domain.UsageRecord, error) {
	const op = "gate.check_and_increment"

	if params.Amount <= 0 {
		return nil, domain.Invalid(op, "increment amount must be positive")
	}
	if _, err := domain.ParseFeatureKey(string(params.Feature)); err != nil {
		return nil, domain.Invalid(op, err.Error())
	}

	record, err := g.repo.EnsureUsageRecord(ctx, params.UserID)
	if err != nil {
		g.logger.Error("usage record load failed", "user_id", params.UserID, "error", err)
		metrics.AdmissionDecisions.WithLabelValues(string(params.Feature), "unavailable").Inc()
		return nil, domain.Unavailable(err, op)
	}

	if params.ExpectedVersion != record.Version {
		metrics.AdmissionDecisions.WithLabelValues(string(params.Feature), "version_conflict").Inc()
		return nil, domain.VersionConflict(op, params.ExpectedVersion, record.Version)
	}

	quota := g.catalog.QuotaFor(record.PlanTier, params.Feature)
	if quota != domain.UnlimitedQuota && record.Count(params.Feature)+params.Amount > quota {
		g.logger.Info("quota exceeded",
			"user_id", params.UserID,
			"feature", params.Feature,
			"tier", record.PlanTier,
			"used", record.Count(params.Feature),
			"limit", quota,
		)
		metrics.AdmissionDecisions.WithLabelValues(string(params.Feature), "limit_exceeded").Inc()
		return nil, domain.LimitExceeded(op, params.Feature, record.Count(params.Feature), quota)
	}

	updated, err := g.repo.IncrementUsage(ctx, params.UserID, params.Feature, params.Amount, params.ExpectedVersion)
	if err != nil {
		if errors.Is(err, domain.ErrStaleVersion) {
			// A concurrent writer advanced the version between our read and
			// the CAS. The caller must re-read; silently retrying here would
			// hide true concurrent-limit races.
			metrics.AdmissionDecisions.WithLabelValues(string(params.Feature), "version_conflict").Inc()
			return nil, domain.VersionConflict(op, params.ExpectedVersion, record.Version+1)
		}
		g.logger.Error("usage increment failed", "user_id", params.UserID, "feature", params.Feature, "error", err)
		metrics.AdmissionDecisions.WithLabelValues(string(params.Feature), "unavailable").Inc()
		return nil, domain.Unavailable(err, op)
	}

	// Audit is best-effort: the increment is already durable.
	if err := g.repo.InsertUsageAudit(ctx, domain.UsageAuditEntry{
		UserID:   params.UserID,
		Feature:  params.Feature,
		Amount:   params.Amount,
		Metadata: params.Metadata,
	}); err != nil {
		g.logger.Warn("audit write failed", "user_id", params.UserID, "feature", params.Feature, "error", err)
		metrics.AuditWriteFailures.Inc()
	}

	metrics.AdmissionDecisions.WithLabelValues(string(params.Feature), "allowed").Inc()
	return updated, nil
}

// GetUsage returns the current ledger state for a user.
func (g *usageGate) GetUsage(ctx context.Context, userID uuid.UUID) (*domain.UsageRecord, error) {
	const op = "gate.get_usage"

	record, err := g.repo.GetUsageRecord(ctx, userID)
	if err != nil {
		if isNoRows(err) {
			return domain.NewUsageRecord(userID), nil
		}
		g.logger.Error("usage record read failed", "user_id", userID, "error", err)
		return nil, domain.Unavailable(err, op)
	}
	return record, nil
}

// Ensure usageGate implements UsageGate
var _ UsageGate = (*usageGate)(nil)
