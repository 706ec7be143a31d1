package teams

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweeperConfig contains availability sweeper configuration.
type SweeperConfig struct {
	SweepInterval time.Duration
}

// DefaultSweeperConfig returns the default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{SweepInterval: time.Minute}
}

// Sweeper periodically runs the availability reconciliation so teams with an
// elapsed available_from window rejoin the rotation without manual action.
type Sweeper struct {
	config  SweeperConfig
	service *Service

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSweeper creates an availability sweeper.
func NewSweeper(config SweeperConfig, service *Service) *Sweeper {
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweeperConfig().SweepInterval
	}
	return &Sweeper{
		config:  config,
		service: service,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("starting availability sweeper", "sweep_interval", s.config.SweepInterval)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts the loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	slog.Info("availability sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.service.ReconcileAvailability(ctx); err != nil {
				slog.Error("availability sweep failed", "error", err)
			}
		}
	}
}
