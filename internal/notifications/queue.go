// Package notifications is the outbound notification pipeline: state-changing
// services enqueue payloads inside their own transactions, a polling worker
// pool drains the queue and hands items to a Sender, failed sends retry with
// exponential backoff.
package notifications

import "time"

// Kind classifies a notification payload.
type Kind string

// Notification kinds.
const (
	KindNewAssignment    Kind = "new-assignment"
	KindAssignmentUpdate Kind = "assignment-update"
	KindStatusUpdate     Kind = "status-update"
)

// Payload is the message body delivered to a recipient. RelatedType and
// RelatedID let the receiving side link back to the originating record.
type Payload struct {
	Type        Kind   `json:"type"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	RelatedType string `json:"related_type"`
	RelatedID   string `json:"related_id"`
}

// QueueStatus represents the status of a queue item.
type QueueStatus string

// Queue statuses.
const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusSent    QueueStatus = "sent"
	QueueStatusFailed  QueueStatus = "failed"
)

// QueueItem represents one queued notification for one recipient.
type QueueItem struct {
	ID            string
	RecipientID   string
	Payload       Payload
	Status        QueueStatus
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SentAt        *time.Time
}

// QueueStats is a snapshot of queue depth by status.
type QueueStats struct {
	Pending int
	Sent    int
	Failed  int
}
