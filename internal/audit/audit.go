// Package audit appends an immutable trail of state-changing operations.
// Entries are written inside the transaction of the operation they describe,
// so the trail never records a change that rolled back.
package audit

import (
	"context"
	"time"

	"github.com/civicgrid/drainflow/internal/domain"
	"github.com/jackc/pgx/v5"
)

// Repository defines audit trail persistence.
type Repository interface {
	RecordTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error
	ListByReference(ctx context.Context, referenceID string, limit int) ([]*domain.AuditEntry, error)
}

// Recorder fills in generated fields and persists entries. It satisfies the
// audit ports of the assignment and incidents services.
type Recorder struct {
	repo Repository
	now  func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, now: time.Now}
}

// RecordTx appends one entry inside the caller's transaction.
func (r *Recorder) RecordTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now()
	}
	return r.repo.RecordTx(ctx, tx, entry)
}

// ListByReference returns the trail for one record, newest first.
func (r *Recorder) ListByReference(ctx context.Context, referenceID string, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.repo.ListByReference(ctx, referenceID, limit)
}
