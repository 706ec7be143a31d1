package incidents

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SLAWatchConfig contains SLA watcher configuration.
type SLAWatchConfig struct {
	// SweepInterval is how often the watcher scans for breached deadlines.
	SweepInterval time.Duration
}

// DefaultSLAWatchConfig returns the default watcher configuration.
func DefaultSLAWatchConfig() SLAWatchConfig {
	return SLAWatchConfig{SweepInterval: time.Minute}
}

// SLAWatcher periodically flags assigned incidents whose SLA deadline has
// passed. Flagging is one UPDATE; already-flagged incidents are not touched
// again, so the sweep is idempotent.
type SLAWatcher struct {
	config SLAWatchConfig
	repo   Repository

	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewSLAWatcher creates an SLA watcher.
func NewSLAWatcher(config SLAWatchConfig, repo Repository) *SLAWatcher {
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSLAWatchConfig().SweepInterval
	}
	return &SLAWatcher{
		config: config,
		repo:   repo,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Start launches the sweep loop.
func (w *SLAWatcher) Start(ctx context.Context) {
	slog.Info("starting sla watcher", "sweep_interval", w.config.SweepInterval)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop halts the loop and waits for an in-flight sweep.
func (w *SLAWatcher) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("sla watcher stopped")
}

func (w *SLAWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of newly flagged incidents.
func (w *SLAWatcher) Sweep(ctx context.Context) int {
	count, err := w.repo.MarkSLABreaches(ctx, w.now())
	if err != nil {
		slog.Error("sla sweep failed", "error", err)
		return 0
	}
	if count > 0 {
		recordSLABreaches(count)
		slog.Warn("incidents past sla deadline", "count", count)
	}
	return count
}
