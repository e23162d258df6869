package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Compactor runs one full compaction pass.
type Compactor interface {
	CompactAll(ctx context.Context) error
}

// Scheduler runs a Compactor every interval. Runs never overlap.
type Scheduler struct {
	compactor Compactor
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
	runMu   sync.Mutex
}

// NewScheduler creates a new compaction scheduler.
func NewScheduler(c Compactor, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		compactor: c,
		interval:  interval,
		logger:    logger.With("component", "compaction-scheduler"),
	}
}

// Start runs the loop in the background. The first run happens one
// interval after Start.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	go s.run(ctx, s.stopCh, s.doneCh)
	s.logger.Info("compaction scheduler started", "interval", s.interval)
}

// Stop ends the loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.doneCh
	s.running = false
	s.mu.Unlock()

	<-done
	s.logger.Info("compaction scheduler stopped")
}

// RunNow compacts immediately, waiting for any scheduled run to finish.
func (s *Scheduler) RunNow(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.compactor.CompactAll(ctx)
}

func (s *Scheduler) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := s.RunNow(ctx); err != nil {
				s.logger.Error("scheduled compaction failed", "error", err)
			}
		}
	}
}
