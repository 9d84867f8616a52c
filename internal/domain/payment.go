// Package domain contains core business types and interfaces.
//
// This file defines the payment event consumed by entitlement sync. Events
// originate from the payment processor and are delivered at least once;
// they are not persisted by this service beyond the resulting tier change.
package domain

import (
	"github.com/google/uuid"
)

// PaymentStatus is the outcome reported by the payment processor.
type PaymentStatus string

const (
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// PaymentEvent is a confirmed payment outcome for a user. A success event
// drives an idempotent plan-tier write; a failed event changes no
// entitlement state.
type PaymentEvent struct {
	UserID         uuid.UUID
	TargetPlanTier PlanTier
	PaymentID      string
	Amount         int64 // minor currency units
	Currency       string
	Status         PaymentStatus
}
