// Package compaction merges the decision sink's small Parquet files.
//
// The sink flushes a file per bundle and hour every flush interval, so an
// hour partition collects many small files. Once the hour is over, this
// module merges them into files of about TargetSize and deletes the
// originals after the merged file is stored.
package compaction

import (
	"context"
	"log/slog"
	"time"

	"github.com/SebastienMelki/appgate/internal/compaction/internal/service"
	"github.com/SebastienMelki/appgate/internal/observability"
	"github.com/SebastienMelki/appgate/internal/warehouse"
)

// Config holds configuration for the compaction module.
type Config struct {
	Enabled bool `env:"COMPACTION_ENABLED" envDefault:"true"`

	// Schedule is the interval between compaction runs.
	Schedule time.Duration `env:"COMPACTION_SCHEDULE" envDefault:"1h"`

	// TargetSize is the compacted file size in bytes (128 MB).
	TargetSize int64 `env:"COMPACTION_TARGET_SIZE" envDefault:"134217728"`

	// MinFiles is the number of small files a partition needs before it
	// is compacted.
	MinFiles int `env:"COMPACTION_MIN_FILES" envDefault:"2"`
}

// Store is the object storage compaction works on.
type Store = service.Store

// Module is the compaction facade.
type Module struct {
	svc       *service.CompactionService
	scheduler *service.Scheduler
	config    Config
	logger    *slog.Logger
}

// New creates a compaction module over the objects under prefix.
func New(
	store Store,
	prefix string,
	parquetCfg warehouse.ParquetConfig,
	cfg Config,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	svc := service.NewCompactionService(store, prefix, parquetCfg, cfg.TargetSize, cfg.MinFiles, metrics, logger)
	return &Module{
		svc:       svc,
		scheduler: service.NewScheduler(svc, cfg.Schedule, logger),
		config:    cfg,
		logger:    logger.With("component", "compaction-module"),
	}
}

// Start begins scheduled compaction. It does nothing when disabled.
func (m *Module) Start(ctx context.Context) {
	if !m.config.Enabled {
		m.logger.Info("compaction disabled")
		return
	}
	m.logger.Info("starting compaction module",
		"schedule", m.config.Schedule,
		"target_size", m.config.TargetSize,
		"min_files", m.config.MinFiles,
	)
	m.scheduler.Start(ctx)
}

// Stop stops the scheduler.
func (m *Module) Stop() {
	m.scheduler.Stop()
}

// RunNow compacts immediately.
func (m *Module) RunNow(ctx context.Context) error {
	return m.scheduler.RunNow(ctx)
}
