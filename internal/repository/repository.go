// Package repository implements the usage ledger persistence contract on
// Postgres.
//
// All mutations route through single-statement atomic writes: the
// increment is a compare-and-swap guarded by the record version, and the
// plan-tier write is a conditional upsert. Application-level
// read-modify-write without such a guard is deliberately absent; it would
// reintroduce the lost-update race between replicated gate instances.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Mohd-Ashhar/applyforge-main-sub001/internal/domain"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Repository provides database access to usage records and the audit trail.
type Repository struct {
	db *sql.DB
}

// New creates a Repository on top of an open database handle.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// usageRecordRow mirrors the usage_records table shape before the JSONB
// counts column is decoded.
type usageRecordRow struct {
	UserID    uuid.UUID
	PlanTier  string
	Counts    []byte
	Version   int64
	CreatedAt sql.NullTime
	UpdatedAt sql.NullTime
}

const usageRecordColumns = "user_id, plan_tier, counts, version, created_at, updated_at"

func scanUsageRecord(scanner interface{ Scan(dest ...any) error }) (*domain.UsageRecord, error) {
	var row usageRecordRow
	if err := scanner.Scan(
		&row.UserID,
		&row.PlanTier,
		&row.Counts,
		&row.Version,
		&row.CreatedAt,
		&row.UpdatedAt,
	); err != nil {
		return nil, err
	}

	counts := make(map[domain.FeatureKey]int64)
	if len(row.Counts) > 0 {
		if err := json.Unmarshal(row.Counts, &counts); err != nil {
			return nil, fmt.Errorf("decode counts: %w", err)
		}
	}

	record := &domain.UsageRecord{
		UserID:   row.UserID,
		PlanTier: domain.PlanTier(row.PlanTier),
		Counts:   counts,
		Version:  row.Version,
	}
	if row.CreatedAt.Valid {
		record.CreatedAt = row.CreatedAt.Time
	}
	if row.UpdatedAt.Valid {
		record.UpdatedAt = row.UpdatedAt.Time
	}
	return record, nil
}

// GetUsageRecord returns the ledger row for a user.
// Returns sql.ErrNoRows if the user has no record yet.
func (r *Repository) GetUsageRecord(ctx context.Context, userID uuid.UUID) (*domain.UsageRecord, error) {
	query := `
		SELECT ` + usageRecordColumns + `
		FROM usage_records
		WHERE user_id = $1`

	return scanUsageRecord(r.db.QueryRowContext(ctx, query, userID))
}

// EnsureUsageRecord lazily creates the default Free-tier record for a user
// and returns the current row. The insert is idempotent, so concurrent
// first uses by the same user cannot create duplicates or clobber counts.
func (r *Repository) EnsureUsageRecord(ctx context.Context, userID uuid.UUID) (*domain.UsageRecord, error) {
	insert := `
		INSERT INTO usage_records (user_id, plan_tier, counts, version)
		VALUES ($1, $2, '{}'::jsonb, 0)
		ON CONFLICT (user_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, insert, userID, string(domain.PlanTierFree)); err != nil {
		return nil, fmt.Errorf("ensure usage record: %w", err)
	}

	return r.GetUsageRecord(ctx, userID)
}

// IncrementUsage raises the counter for a feature by amount via a
// version-guarded compare-and-swap. The statement mutates nothing unless
// the stored version still equals expectedVersion, which makes the whole
// check-then-increment linearizable per user: two concurrent calls that
// both read version N cannot both succeed.
//
// Returns domain.ErrStaleVersion when the guard fails (either a concurrent
// writer advanced the version, or the row is gone).
func (r *Repository) IncrementUsage(ctx context.Context, userID uuid.UUID, feature domain.FeatureKey, amount, expectedVersion int64) (*domain.UsageRecord, error) {
	query := `
		UPDATE usage_records
		SET counts = jsonb_set(
				counts,
				ARRAY[$2::text],
				to_jsonb(COALESCE((counts ->> $2)::bigint, 0) + $3),
				true
			),
			version = version + 1,
			updated_at = now()
		WHERE user_id = $1 AND version = $4
		RETURNING ` + usageRecordColumns

	record, err := scanUsageRecord(r.db.QueryRowContext(ctx, query, userID, string(feature), amount, expectedVersion))
	if err == sql.ErrNoRows {
		return nil, domain.ErrStaleVersion
	}
	if err != nil {
		return nil, fmt.Errorf("increment usage: %w", err)
	}
	return record, nil
}

// SetPlanTier idempotently sets a user's plan tier, creating the record at
// the target tier when absent. The conditional upsert bumps the version
// only when the stored tier actually differs, so re-delivering the same
// payment event leaves the record byte-identical.
func (r *Repository) SetPlanTier(ctx context.Context, userID uuid.UUID, tier domain.PlanTier) (*domain.UsageRecord, error) {
	query := `
		INSERT INTO usage_records (user_id, plan_tier, counts, version)
		VALUES ($1, $2, '{}'::jsonb, 1)
		ON CONFLICT (user_id) DO UPDATE
		SET plan_tier = EXCLUDED.plan_tier,
			version = usage_records.version + 1,
			updated_at = now()
		WHERE usage_records.plan_tier IS DISTINCT FROM EXCLUDED.plan_tier
		RETURNING ` + usageRecordColumns

	record, err := scanUsageRecord(r.db.QueryRowContext(ctx, query, userID, string(tier)))
	if err == sql.ErrNoRows {
		// Tier already matched; the upsert was a no-op. Read the current row.
		return r.GetUsageRecord(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("set plan tier: %w", err)
	}
	return record, nil
}

// InsertUsageAudit appends an audit trail entry. Callers treat failures as
// non-fatal; the increment it describes has already been committed.
func (r *Repository) InsertUsageAudit(ctx context.Context, entry domain.UsageAuditEntry) error {
	query := `
		INSERT INTO usage_audit (id, user_id, feature, amount, metadata)
		VALUES ($1, $2, $3, $4, $5)`

	metadata := pqtype.NullRawMessage{}
	if len(entry.Metadata) > 0 {
		metadata = pqtype.NullRawMessage{RawMessage: json.RawMessage(entry.Metadata), Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, query, uuid.New(), entry.UserID, string(entry.Feature), entry.Amount, metadata); err != nil {
		return fmt.Errorf("insert usage audit: %w", err)
	}
	return nil
}

// DeleteUsageRecord removes a user's ledger row and audit trail. This only
// runs as part of account deletion.
func (r *Repository) DeleteUsageRecord(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM usage_audit WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete usage audit: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM usage_records WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete usage record: %w", err)
	}
	return nil
}

// Ensure Repository implements the ledger contract
var _ domain.UsageRepository = (*Repository)(nil)
