// Package postgres provides the PostgreSQL implementation of the audit
// repository.
package postgres

import (
	"context"
	"fmt"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements audit.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL audit repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// RecordTx inserts one audit entry inside the caller's transaction.
func (r *Repository) RecordTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action, table_name, reference_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID,
		entry.ActorID,
		entry.Action,
		entry.TableName,
		entry.ReferenceID,
		entry.Details,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// ListByReference returns entries for one record, newest first.
func (r *Repository) ListByReference(ctx context.Context, referenceID string, limit int) ([]*domain.AuditEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, actor_id, action, table_name, reference_id, details, created_at
		FROM audit_log
		WHERE reference_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		referenceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		err := rows.Scan(
			&entry.ID,
			&entry.ActorID,
			&entry.Action,
			&entry.TableName,
			&entry.ReferenceID,
			&entry.Details,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}
