// Package service contains the business logic layer.
//
// This file implements entitlement sync: reconciling a user's plan tier
// when the payment processor confirms a subscription change. The write is
// naturally idempotent (an unconditional set of the target tier), which is
// what makes at-least-once webhook delivery safe without deduplication.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/domain"
	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/metrics"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EntitlementService reconciles plan tiers with confirmed payment events.
type EntitlementService interface {
	// ApplyPlanChange sets a user's plan tier, creating the usage record if
	// absent. Counts are not reset: upgrading mid-cycle raises the ceiling
	// but keeps existing consumption. Applying the same tier twice is a
	// no-op that leaves the record identical, version included.
	ApplyPlanChange(ctx context.Context, userID uuid.UUID, tier domain.PlanTier) (*domain.UsageRecord, error)

	// HandlePaymentEvent processes one payment event. Success events apply
	// the target tier (with bounded retries on transient storage faults
	// before relying on webhook redelivery); failed events change no
	// entitlement state.
	HandlePaymentEvent(ctx context.Context, event domain.PaymentEvent) error

	// DeleteUser removes a user's ledger state. Account deletion only.
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

// =============================================================================
// Implementation
// =============================================================================

type entitlementService struct {
	repo   domain.UsageRepository
	logger *slog.Logger

	// retryBase is the initial backoff for transient storage faults while
	// applying a payment event. Kept short; redelivery is the real safety net.
	retryBase time.Duration
}

// NewEntitlementService creates a new EntitlementService.
func NewEntitlementService(repo domain.UsageRepository, logger *slog.Logger) EntitlementService {
	return &entitlementService{
		repo:      repo,
		logger:    logger,
		retryBase: 100 * time.Millisecond,
	}
}

// ApplyPlanChange sets the plan tier for a user.
func (s *entitlementService) ApplyPlanChange(ctx context.Context, userID uuid.UUID, tier domain.PlanTier) (*domain.UsageRecord, error) {
	const op = "entitlement.apply_plan_change"

	if _, err := domain.ParsePlanTier(string(tier)); err != nil {
		return nil, domain.Invalid(op, err.Error())
	}

	record, err := s.repo.SetPlanTier(ctx, userID, tier)
	if err != nil {
		s.logger.Error("plan tier write failed", "user_id", userID, "tier", tier, "error", err)
		return nil, domain.Unavailable(err, op)
	}

	metrics.PlanChanges.WithLabelValues(string(tier)).Inc()
	s.logger.Info("plan tier applied", "user_id", userID, "tier", tier, "version", record.Version)
	return record, nil
}

// HandlePaymentEvent processes a confirmed payment outcome.
func (s *entitlementService) HandlePaymentEvent(ctx context.Context, event domain.PaymentEvent) error {
	const op = "entitlement.handle_payment_event"

	switch event.Status {
	case domain.PaymentStatusSuccess:
		// fall through to apply
	case domain.PaymentStatusFailed:
		// No entitlement change; user-facing notification is an external
		// collaborator's responsibility.
		s.logger.Warn("payment failed, entitlement unchanged",
			"user_id", event.UserID,
			"payment_id", event.PaymentID,
			"target_tier", event.TargetPlanTier,
		)
		return nil
	default:
		return domain.Invalid(op, "unknown payment status "+string(event.Status))
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(s.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := s.ApplyPlanChange(ctx, event.UserID, event.TargetPlanTier)
		if domain.ErrorCode(err) == domain.EUNAVAILABLE {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		s.logger.Error("payment event not applied, awaiting redelivery",
			"user_id", event.UserID,
			"payment_id", event.PaymentID,
			"error", err,
		)
		return err
	}

	s.logger.Info("payment event applied",
		"user_id", event.UserID,
		"payment_id", event.PaymentID,
		"tier", event.TargetPlanTier,
		"amount", event.Amount,
		"currency", event.Currency,
	)
	return nil
}

// DeleteUser removes a user's usage record and audit trail.
func (s *entitlementService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	const op = "entitlement.delete_user"

	if err := s.repo.DeleteUsageRecord(ctx, userID); err != nil {
		s.logger.Error("usage record delete failed", "user_id", userID, "error", err)
		return domain.Unavailable(err, op)
	}

	s.logger.Info("usage record deleted", "user_id", userID)
	return nil
}

// isNoRows reports whether err is the no-rows sentinel from the store.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Ensure entitlementService implements EntitlementService
var _ EntitlementService = (*entitlementService)(nil)
