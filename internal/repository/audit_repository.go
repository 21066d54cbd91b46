package repository

import (
	"context"
	"encoding/json"

	"github.com/pesio-ai/be-freight-overages/internal/apperrors"
	"github.com/pesio-ai/be-freight-overages/internal/database"
)

// AuditRepository appends and reads immutable approval audit log entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention
// trigger so this is the only mutation operation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO order_approval_audit_log
		    (order_id, action, performed_by,
		     level_before, level_after,
		     status_before, status_after,
		     metadata)
		VALUES ($1, $2, $3,
		        $4, $5,
		        $6::order_status, $7::order_status,
		        $8)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.OrderID,
		entry.Action,
		entry.PerformedBy,
		entry.LevelBefore,
		entry.LevelAfter,
		entry.StatusBefore,
		entry.StatusAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// GetByOrderID returns the full audit trail for an order, oldest first.
func (r *AuditRepository) GetByOrderID(ctx context.Context, orderID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, order_id, action, performed_by, performed_at,
		       level_before, level_after,
		       status_before, status_after,
		       metadata
		FROM order_approval_audit_log
		WHERE order_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get audit trail")
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var metadataJSON []byte
		err := rows.Scan(
			&e.ID,
			&e.OrderID,
			&e.Action,
			&e.PerformedBy,
			&e.PerformedAt,
			&e.LevelBefore,
			&e.LevelAfter,
			&e.StatusBefore,
			&e.StatusAfter,
			&metadataJSON,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan audit entry")
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to decode audit metadata")
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}
