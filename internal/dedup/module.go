package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/SebastienMelki/appgate/internal/dedup/internal/service"
	"github.com/SebastienMelki/appgate/internal/observability"
)

// Config holds the dedup configuration.
//
// Environment variable overrides:
//   - DEDUP_WINDOW:   sliding window duration (default: 10m)
//   - DEDUP_CAPACITY: expected decisions per window (default: 100000)
//   - DEDUP_FP_RATE:  bloom filter false positive rate (default: 0.0001)
type Config struct {
	Window   time.Duration `env:"DEDUP_WINDOW"   envDefault:"10m"`
	Capacity uint          `env:"DEDUP_CAPACITY" envDefault:"100000"`
	FPRate   float64       `env:"DEDUP_FP_RATE"  envDefault:"0.0001"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		Window:   10 * time.Minute,
		Capacity: 100_000,
		FPRate:   0.0001,
	}
}

// Module is the dedup facade used by the config endpoint.
type Module struct {
	svc *service.Service
}

var _ Deduplicator = (*Module)(nil)

// New creates a Module. metrics may be nil.
func New(cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "dedup")

	return &Module{
		svc: service.New(cfg.Window, cfg.Capacity, cfg.FPRate, metrics, logger),
	}
}

// Start begins background rotation.
func (m *Module) Start(ctx context.Context) {
	m.svc.Start(ctx)
}

// Stop ends background rotation and waits for it.
func (m *Module) Stop() {
	m.svc.Stop()
}

// IsDuplicate implements Deduplicator.
func (m *Module) IsDuplicate(key string) bool {
	return m.svc.IsDuplicate(key)
}
