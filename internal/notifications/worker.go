package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	BatchSize         int
	PollInterval      time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	NumWorkers        int
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:         100,
		PollInterval:      5 * time.Second,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
		NumWorkers:        3,
	}
}

// Worker drains the notification queue and delivers items through the sender.
type Worker struct {
	config WorkerConfig
	repo   Repository
	sender Sender

	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewWorker creates a notification worker pool.
func NewWorker(config WorkerConfig, repo Repository, sender Sender) *Worker {
	return &Worker{
		config: config,
		repo:   repo,
		sender: sender,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting notification worker",
		"workers", w.config.NumWorkers,
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("notification worker stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.processBatch(ctx, workerID)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context, workerID int) {
	items, err := w.repo.FetchPending(ctx, w.config.BatchSize)
	if err != nil {
		slog.Error("failed to fetch pending notifications", "worker", workerID, "error", err)
		return
	}

	if len(items) == 0 {
		return
	}

	slog.Debug("processing notifications", "worker", workerID, "count", len(items))
	recordQueueFetched(len(items))

	for _, item := range items {
		w.processItem(ctx, item)
	}
}

func (w *Worker) processItem(ctx context.Context, item *QueueItem) {
	start := w.now()

	err := w.sender.Send(ctx, item.RecipientID, item.Payload)
	duration := time.Since(start)

	if err != nil {
		w.handleSendError(ctx, item, err)
		return
	}

	if err := w.repo.MarkAsSent(ctx, item.ID); err != nil {
		slog.Error("failed to mark as sent", "item_id", item.ID, "error", err)
	}

	recordDelivery(string(item.Payload.Type), "success")
	recordDeliveryDuration(duration)

	slog.Debug("notification sent",
		"item_id", item.ID,
		"kind", item.Payload.Type,
		"recipient_id", item.RecipientID,
		"duration", duration,
	)
}

func (w *Worker) handleSendError(ctx context.Context, item *QueueItem, err error) {
	slog.Warn("send failed",
		"item_id", item.ID,
		"attempt", item.Attempts,
		"max_attempts", item.MaxAttempts,
		"error", err,
	)

	if !isRetryable(err) {
		if markErr := w.repo.MarkAsFailed(ctx, item.ID, err); markErr != nil {
			slog.Error("failed to mark as failed", "item_id", item.ID, "error", markErr)
		}
		recordDelivery(string(item.Payload.Type), "failed")
		return
	}

	// FetchPending already counted this attempt.
	if item.Attempts >= item.MaxAttempts {
		if markErr := w.repo.MarkAsFailed(ctx, item.ID, fmt.Errorf("max attempts exceeded: %w", err)); markErr != nil {
			slog.Error("failed to mark as failed", "item_id", item.ID, "error", markErr)
		}
		recordDelivery(string(item.Payload.Type), "failed")
		return
	}

	nextAttempt := w.nextAttemptAt(item.Attempts)
	if markErr := w.repo.MarkForRetry(ctx, item.ID, err, nextAttempt); markErr != nil {
		slog.Error("failed to mark for retry", "item_id", item.ID, "error", markErr)
	}
	recordDelivery(string(item.Payload.Type), "retry")

	slog.Info("notification scheduled for retry",
		"item_id", item.ID,
		"next_attempt", nextAttempt,
	)
}

func (w *Worker) nextAttemptAt(attempt int) time.Time {
	backoff := float64(w.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= w.config.BackoffMultiplier
	}

	if backoff > float64(w.config.MaxBackoff) {
		backoff = float64(w.config.MaxBackoff)
	}

	return w.now().Add(time.Duration(backoff))
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
