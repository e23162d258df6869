// Package service runs the sliding filter rotation and counts drops.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/SebastienMelki/appgate/internal/dedup/internal/domain"
	"github.com/SebastienMelki/appgate/internal/observability"
)

// Service owns a SlidingFilter and the goroutine that rotates it.
type Service struct {
	filter   *domain.SlidingFilter
	metrics  *observability.Metrics
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	mu       sync.Mutex
	stopOnce sync.Once
}

// New creates a service. metrics may be nil.
func New(window time.Duration, capacity uint, fpRate float64, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		filter:  domain.NewSlidingFilter(window, capacity, fpRate),
		metrics: metrics,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// IsDuplicate records key and reports whether it was seen inside the
// window. Empty keys are never duplicates.
func (s *Service) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	if !s.filter.TestAndAdd([]byte(key)) {
		return false
	}
	if s.metrics != nil {
		s.metrics.DedupDropped.Add(context.Background(), 1)
	}
	s.logger.Debug("duplicate decision event dropped")
	return true
}

// Start rotates the filter every window/2 until ctx ends or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	interval := s.filter.Window() / 2
	s.logger.Info("dedup service started",
		"window", s.filter.Window(),
		"rotate_interval", interval,
	)

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.filter.Rotate()
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop ends the rotation goroutine and waits for it. Safe to call more
// than once and without Start.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.doneCh
	}
}

// Generations exposes the rotation count for tests and logging.
func (s *Service) Generations() uint64 {
	return s.filter.Generations()
}
