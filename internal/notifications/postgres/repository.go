// Package postgres provides the PostgreSQL implementation of the
// notification queue.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/civicgrid/drainflow/internal/notifications"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL notification queue repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const queueColumns = `
	id, recipient_id, payload, status, attempts, max_attempts,
	next_attempt_at, last_error, created_at, updated_at, sent_at
`

func scanItem(row pgx.Row) (*notifications.QueueItem, error) {
	var item notifications.QueueItem
	err := row.Scan(
		&item.ID,
		&item.RecipientID,
		&item.Payload,
		&item.Status,
		&item.Attempts,
		&item.MaxAttempts,
		&item.NextAttemptAt,
		&item.LastError,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.SentAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// EnqueueTx inserts queue items inside the caller's transaction.
func (r *Repository) EnqueueTx(ctx context.Context, tx pgx.Tx, items []*notifications.QueueItem) error {
	if len(items) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`
			INSERT INTO notification_queue (
				id, recipient_id, payload, status, attempts, max_attempts,
				next_attempt_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			item.ID,
			item.RecipientID,
			item.Payload,
			item.Status,
			item.Attempts,
			item.MaxAttempts,
			item.NextAttemptAt,
			item.CreatedAt,
			item.UpdatedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range items {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("enqueue notification: %w", err)
		}
	}
	return nil
}

// FetchPending claims up to limit due items. The claiming UPDATE bumps the
// attempt counter and pushes next_attempt_at into the future so a crashed
// worker's items become due again instead of being lost.
func (r *Repository) FetchPending(ctx context.Context, limit int) ([]*notifications.QueueItem, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE notification_queue SET
			attempts = attempts + 1,
			next_attempt_at = now() + interval '2 minutes',
			updated_at = now()
		WHERE id IN (
			SELECT id FROM notification_queue
			WHERE status = 'pending' AND next_attempt_at <= now()
			ORDER BY next_attempt_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueColumns,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch pending notifications: %w", err)
	}
	defer rows.Close()

	var items []*notifications.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkAsSent finalizes a delivered item.
func (r *Repository) MarkAsSent(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE notification_queue SET
			status = 'sent',
			sent_at = now(),
			updated_at = now()
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkAsFailed finalizes an item that will not be retried.
func (r *Repository) MarkAsFailed(ctx context.Context, id string, sendErr error) error {
	_, err := r.db.Exec(ctx, `
		UPDATE notification_queue SET
			status = 'failed',
			last_error = $2,
			updated_at = now()
		WHERE id = $1`,
		id, sendErr.Error(),
	)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

// MarkForRetry reschedules a failed item.
func (r *Repository) MarkForRetry(ctx context.Context, id string, sendErr error, nextAttemptAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE notification_queue SET
			status = 'pending',
			last_error = $2,
			next_attempt_at = $3,
			updated_at = now()
		WHERE id = $1`,
		id, sendErr.Error(), nextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("mark notification for retry: %w", err)
	}
	return nil
}

// QueueStats returns queue depth by status.
func (r *Repository) QueueStats(ctx context.Context) (*notifications.QueueStats, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, count(*) FROM notification_queue GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := &notifications.QueueStats{}
	for rows.Next() {
		var status notifications.QueueStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch status {
		case notifications.QueueStatusPending:
			stats.Pending = count
		case notifications.QueueStatusSent:
			stats.Sent = count
		case notifications.QueueStatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}
