// Package handler contains HTTP handlers for the usage metering service.
//
// This file implements the usage API consumed by the product gateway:
//
//   - POST   /v1/usage/check          -> CheckAndIncrement (enforcement path)
//   - GET    /v1/users/{id}/usage     -> GetUsage (display only, no enforcement)
//   - POST   /v1/users/{id}/plan      -> ApplyPlanChange
//   - DELETE /v1/users/{id}/usage     -> DeleteUsage (account deletion)
//
// The gateway is trusted to supply an authenticated user ID; this service
// performs no end-user authentication itself.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/domain"
	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/service"
	"github.com/google/uuid"
)

// maxBodyBytes caps request bodies; usage requests are tiny.
const maxBodyBytes = 16 * 1024

// UsageHandler handles usage metering HTTP requests.
type UsageHandler struct {
	gate        service.UsageGate
	entitlement service.EntitlementService
	catalog     *domain.Catalog
	logger      *slog.Logger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(gate service.UsageGate, entitlement service.EntitlementService, catalog *domain.Catalog, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{
		gate:        gate,
		entitlement: entitlement,
		catalog:     catalog,
		logger:      logger,
	}
}

// RegisterRoutes registers usage routes on the provided mux behind the
// given auth middleware.
func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux, requireService func(http.Handler) http.Handler) {
	mux.Handle("POST /v1/usage/check", requireService(http.HandlerFunc(h.CheckAndIncrement)))
	mux.Handle("GET /v1/users/{id}/usage", requireService(http.HandlerFunc(h.GetUsage)))
	mux.Handle("POST /v1/users/{id}/plan", requireService(http.HandlerFunc(h.ApplyPlanChange)))
	mux.Handle("DELETE /v1/users/{id}/usage", requireService(http.HandlerFunc(h.DeleteUsage)))
}

// checkRequest is the admission request body.
type checkRequest struct {
	UserID          string          `json:"user_id"`
	Feature         string          `json:"feature"`
	Amount          int64           `json:"amount"` // defaults to 1
	ExpectedVersion int64           `json:"expected_version"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// CheckAndIncrement is the enforcement path: it admits or rejects one
// feature use and, on admission, charges the increment before the caller
// incurs any external generation cost.
func (h *UsageHandler) CheckAndIncrement(w http.ResponseWriter, r *http.Request) {
	const op = "handler.check_and_increment"

	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "malformed request body"))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "user_id must be a UUID"))
		return
	}

	feature, err := domain.ParseFeatureKey(req.Feature)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, err.Error()))
		return
	}

	amount := req.Amount
	if amount == 0 {
		amount = 1
	}

	record, err := h.gate.CheckAndIncrement(r.Context(), service.CheckAndIncrementParams{
		UserID:          userID,
		Feature:         feature,
		Amount:          amount,
		ExpectedVersion: req.ExpectedVersion,
		Metadata:        req.Metadata,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"record": record})
}

// GetUsage returns the client usage display projection for a user. On a
// storage fault the response is 503 with the conservative view attached,
// so UIs can render "cannot use" without inventing their own fallback.
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	const op = "handler.get_usage"

	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "user id must be a UUID"))
		return
	}

	record, err := h.gate.GetUsage(r.Context(), userID)
	if err != nil {
		logError(h.logger, r, err, domain.ErrorCode(err), http.StatusServiceUnavailable)
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error": map[string]interface{}{
				"code":    domain.ErrorCode(err),
				"message": domain.ErrorMessage(err),
			},
			"usage": domain.BuildUsageView(nil, h.catalog),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"usage": domain.BuildUsageView(record, h.catalog),
	})
}

// planChangeRequest is the plan change request body.
type planChangeRequest struct {
	PlanTier string `json:"plan_tier"`
}

// ApplyPlanChange is the internal entitlement entry point, used by back
// office tooling and reconciliation jobs alongside the payment webhook.
func (h *UsageHandler) ApplyPlanChange(w http.ResponseWriter, r *http.Request) {
	const op = "handler.apply_plan_change"

	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "user id must be a UUID"))
		return
	}

	var req planChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "malformed request body"))
		return
	}

	tier, err := domain.ParsePlanTier(req.PlanTier)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, err.Error()))
		return
	}

	record, err := h.entitlement.ApplyPlanChange(r.Context(), userID, tier)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"record": record})
}

// DeleteUsage removes a user's ledger state as part of account deletion.
func (h *UsageHandler) DeleteUsage(w http.ResponseWriter, r *http.Request) {
	const op = "handler.delete_usage"

	userID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "user id must be a UUID"))
		return
	}

	if err := h.entitlement.DeleteUser(r.Context(), userID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// decodeJSON decodes a size-capped JSON request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
