package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.QuotaStore = (*QuotaStore)(nil)

// QuotaStore implements driven.QuotaStore using PostgreSQL. The reserve
// check and increment happen in one conditional statement so concurrent
// uploads cannot overshoot the ceiling.
type QuotaStore struct {
	db *DB

	// defaultLimit seeds the row the first time an organisation uploads
	defaultLimit int64
}

// NewQuotaStore creates a new QuotaStore. Organisations without a row get
// defaultLimitBytes as their ceiling.
func NewQuotaStore(db *DB, defaultLimitBytes int64) *QuotaStore {
	return &QuotaStore{db: db, defaultLimit: defaultLimitBytes}
}

// Reserve adds sizeBytes and one document to the organisation's usage,
// failing without any change when the ceiling would be crossed. The row
// is seeded with the default ceiling on first use; the conditional update
// then checks against whatever ceiling the row actually carries.
func (s *QuotaStore) Reserve(ctx context.Context, orgID string, sizeBytes int64) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO org_quotas (org_id, used_bytes, limit_bytes, documents, updated_at)
			VALUES ($1, 0, $2, 0, NOW())
			ON CONFLICT (org_id) DO NOTHING
		`, orgID, s.defaultLimit)
		if err != nil {
			return err
		}

		var used int64
		err = tx.QueryRowContext(ctx, `
			UPDATE org_quotas
			SET used_bytes = used_bytes + $2,
				documents = documents + 1,
				updated_at = NOW()
			WHERE org_id = $1 AND used_bytes + $2 <= limit_bytes
			RETURNING used_bytes
		`, orgID, sizeBytes).Scan(&used)
		if err == sql.ErrNoRows {
			return fmt.Errorf("organisation %s storage ceiling reached: %w", orgID, domain.ErrQuotaExceeded)
		}
		return err
	})
}

// Release subtracts sizeBytes and one document from the organisation's
// usage. Usage never drops below zero.
func (s *QuotaStore) Release(ctx context.Context, orgID string, sizeBytes int64) error {
	query := `
		UPDATE org_quotas
		SET used_bytes = GREATEST(used_bytes - $2, 0),
			documents = GREATEST(documents - 1, 0),
			updated_at = NOW()
		WHERE org_id = $1
	`

	result, err := s.db.ExecContext(ctx, query, orgID, sizeBytes)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get returns the organisation's current accounting row. Organisations
// that never uploaded read as zero usage under the default ceiling.
func (s *QuotaStore) Get(ctx context.Context, orgID string) (*domain.QuotaUsage, error) {
	query := `
		SELECT org_id, used_bytes, limit_bytes, documents, updated_at
		FROM org_quotas
		WHERE org_id = $1
	`

	var usage domain.QuotaUsage
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&usage.OrgID,
		&usage.UsedBytes,
		&usage.LimitBytes,
		&usage.Documents,
		&usage.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return &domain.QuotaUsage{OrgID: orgID, LimitBytes: s.defaultLimit}, nil
	}
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// SetLimit updates the organisation's ceiling, creating the row if needed
func (s *QuotaStore) SetLimit(ctx context.Context, orgID string, limitBytes int64) error {
	query := `
		INSERT INTO org_quotas (org_id, used_bytes, limit_bytes, documents, updated_at)
		VALUES ($1, 0, $2, 0, NOW())
		ON CONFLICT (org_id) DO UPDATE SET
			limit_bytes = $2,
			updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query, orgID, limitBytes)
	return err
}
