// Package service merges the decision sink's small hourly Parquet files.
//
// The object layout is the only state: a run lists cold partitions, merges
// their small files into one, uploads it and only then deletes the sources.
// A run that fails part way leaves the sources in place for the next one.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/SebastienMelki/appgate/internal/observability"
	"github.com/SebastienMelki/appgate/internal/warehouse"
)

// Default compaction parameters.
const (
	DefaultTargetSize int64 = 128 * 1024 * 1024
	DefaultMinFiles   int   = 2
)

// Store is the object storage the compactor works on. *warehouse.S3Client
// implements it.
type Store interface {
	ListObjects(ctx context.Context, prefix string) ([]warehouse.Object, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, keys []string) error
}

// CompactionService merges small files in partitions older than the
// current hour.
type CompactionService struct {
	store      Store
	prefix     string
	writer     *warehouse.ParquetWriter
	targetSize int64
	minFiles   int
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewCompactionService creates a new compaction service over the objects
// under prefix.
func NewCompactionService(
	store Store,
	prefix string,
	parquetCfg warehouse.ParquetConfig,
	targetSize int64,
	minFiles int,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *CompactionService {
	if logger == nil {
		logger = slog.Default()
	}
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}
	if minFiles < 2 {
		minFiles = DefaultMinFiles
	}

	return &CompactionService{
		store:      store,
		prefix:     prefix,
		writer:     warehouse.NewParquetWriter(parquetCfg),
		targetSize: targetSize,
		minFiles:   minFiles,
		metrics:    metrics,
		logger:     logger.With("component", "compaction-service"),
		now:        time.Now,
	}
}

// CompactAll compacts every cold partition. Partition failures are logged
// and do not stop the run.
func (cs *CompactionService) CompactAll(ctx context.Context) error {
	start := time.Now()

	partitions, err := cs.coldPartitions(ctx)
	if err != nil {
		return fmt.Errorf("list cold partitions: %w", err)
	}

	var compacted int
	for _, partition := range partitions {
		if err := ctx.Err(); err != nil {
			return err
		}
		did, err := cs.CompactPartition(ctx, partition)
		if err != nil {
			cs.logger.Error("failed to compact partition", "partition", partition, "error", err)
			continue
		}
		if did {
			compacted++
		}
	}

	duration := float64(time.Since(start).Milliseconds())
	if cs.metrics != nil {
		cs.metrics.CompactionRuns.Add(ctx, 1)
		cs.metrics.CompactionDuration.Record(ctx, duration)
	}

	cs.logger.Info("compaction run complete",
		"partitions_total", len(partitions),
		"partitions_compacted", compacted,
		"duration_ms", duration,
	)
	return nil
}

// CompactPartition merges the small files of one partition. It reports
// whether anything was merged.
func (cs *CompactionService) CompactPartition(ctx context.Context, partition string) (bool, error) {
	objects, err := cs.store.ListObjects(ctx, partition)
	if err != nil {
		return false, err
	}

	var small []warehouse.Object
	for _, obj := range objects {
		if obj.Size < cs.targetSize {
			small = append(small, obj)
		}
	}

	if len(small) < cs.minFiles {
		if cs.metrics != nil {
			cs.metrics.CompactionPartitionsSkipped.Add(ctx, 1)
		}
		return false, nil
	}

	batches := cs.groupIntoBatches(small)
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := cs.mergeBatch(ctx, partition, batch); err != nil {
			return false, fmt.Errorf("merge batch %d: %w", i, err)
		}
	}
	return len(batches) > 0, nil
}

// groupIntoBatches packs files into batches of about targetSize. A
// trailing batch smaller than minFiles is left for a later run.
func (cs *CompactionService) groupIntoBatches(files []warehouse.Object) [][]warehouse.Object {
	var batches [][]warehouse.Object
	var current []warehouse.Object
	var size int64

	for _, f := range files {
		if size+f.Size > cs.targetSize && len(current) >= cs.minFiles {
			batches = append(batches, current)
			current, size = nil, 0
		}
		current = append(current, f)
		size += f.Size
	}
	if len(current) >= cs.minFiles {
		batches = append(batches, current)
	}
	return batches
}

func (cs *CompactionService) mergeBatch(ctx context.Context, partition string, batch []warehouse.Object) error {
	var rows []warehouse.DecisionRow
	var merged []string
	ids := make(map[string]struct{})

	for _, obj := range batch {
		data, err := cs.store.Download(ctx, obj.Key)
		if err != nil {
			return err
		}
		fileRows, err := warehouse.ReadRows(data)
		if err != nil {
			cs.logger.Warn("skipping unreadable parquet file", "key", obj.Key, "error", err)
			continue
		}
		for _, row := range fileRows {
			if _, dup := ids[row.ID]; dup {
				continue
			}
			ids[row.ID] = struct{}{}
			rows = append(rows, row)
		}
		merged = append(merged, obj.Key)
	}

	if len(merged) < 2 || len(rows) == 0 {
		return nil
	}

	data, err := cs.writer.Write(rows)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%scompacted_%s.parquet", partition, uuid.Must(uuid.NewV7()).String())
	if err := cs.store.Upload(ctx, key, data); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	// Sources go only after the merged file is stored. Rows left behind by
	// a failed delete are dropped by id on the next merge.
	if err := cs.store.Delete(ctx, merged); err != nil {
		cs.logger.Error("failed to delete compacted sources", "partition", partition, "error", err)
	}

	if cs.metrics != nil {
		cs.metrics.CompactionFilesCompacted.Add(ctx, int64(len(merged)))
	}

	cs.logger.Info("partition compacted",
		"key", key,
		"source_files", len(merged),
		"rows", len(rows),
		"size_bytes", len(data),
	)
	return nil
}

// coldPartitions returns the distinct partition prefixes older than the
// current hour.
func (cs *CompactionService) coldPartitions(ctx context.Context) ([]string, error) {
	objects, err := cs.store.ListObjects(ctx, cs.prefix+"/")
	if err != nil {
		return nil, err
	}

	now := cs.now().UTC()
	seen := make(map[string]struct{})
	var partitions []string
	for _, obj := range objects {
		partition := PartitionPrefix(obj.Key)
		if partition == "" {
			continue
		}
		if _, ok := seen[partition]; ok {
			continue
		}
		seen[partition] = struct{}{}
		if IsCold(partition, now) {
			partitions = append(partitions, partition)
		}
	}
	return partitions, nil
}

var partitionRegex = regexp.MustCompile(
	`^(.*?/bundle_id=[^/]+/year=(\d{4})/month=(\d{2})/day=(\d{2})/hour=(\d{2})/)`,
)

// PartitionPrefix returns the hour partition directory of key, or "".
func PartitionPrefix(key string) string {
	m := partitionRegex.FindStringSubmatch(key)
	if m == nil {
		return ""
	}
	return m[1]
}

// IsCold reports whether partition ends before the hour containing now.
func IsCold(partition string, now time.Time) bool {
	m := partitionRegex.FindStringSubmatch(partition)
	if m == nil {
		return false
	}
	year, _ := strconv.Atoi(m[2])
	month, _ := strconv.Atoi(m[3])
	day, _ := strconv.Atoi(m[4])
	hour, _ := strconv.Atoi(m[5])

	at := time.Date(year, time.Month(month), day, hour, 0, 0, 0, time.UTC)
	return at.Before(now.UTC().Truncate(time.Hour))
}
