package notifications

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository defines queue persistence. EnqueueTx runs inside the caller's
// transaction so notifications commit or vanish together with the state
// change that produced them.
type Repository interface {
	EnqueueTx(ctx context.Context, tx pgx.Tx, items []*QueueItem) error

	// FetchPending claims up to limit due items and bumps their attempt
	// counter in the same statement, so concurrent workers never claim the
	// same item twice.
	FetchPending(ctx context.Context, limit int) ([]*QueueItem, error)
	MarkAsSent(ctx context.Context, id string) error
	MarkAsFailed(ctx context.Context, id string, sendErr error) error
	MarkForRetry(ctx context.Context, id string, sendErr error, nextAttemptAt time.Time) error

	QueueStats(ctx context.Context) (*QueueStats, error)
}

// Sender delivers one payload to one recipient. Delivery transports live in
// subpackages; the worker only sees this interface.
type Sender interface {
	Send(ctx context.Context, recipientID string, payload Payload) error
}
