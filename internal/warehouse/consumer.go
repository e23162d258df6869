package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/appgate/internal/configsvc"
	"github.com/SebastienMelki/appgate/internal/observability"
)

// ObjectStore is where Parquet files land. *S3Client implements it.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte) error
	GenerateKey(bundleID string, year, month, day, hour int) string
}

// trackedEvent keeps the message next to its decoded event so the ack can
// wait for the upload.
type trackedEvent struct {
	event configsvc.Event
	msg   jetstream.Msg
}

// Consumer pulls decision events from JetStream, buffers them and writes
// one Parquet file per bundle and hour.
type Consumer struct {
	consumer jetstream.Consumer
	store    ObjectStore
	config   Config
	parquet  *ParquetWriter
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu        sync.Mutex
	batch     []trackedEvent
	lastFlush time.Time
	started   bool
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewConsumer creates a decision sink reading from consumer.
func NewConsumer(
	consumer jetstream.Consumer,
	store ObjectStore,
	cfg Config,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Batch.MaxEvents < 1 {
		cfg.Batch.MaxEvents = 5000
	}
	if cfg.Batch.FlushInterval <= 0 {
		cfg.Batch.FlushInterval = time.Minute
	}

	return &Consumer{
		consumer:  consumer,
		store:     store,
		config:    cfg,
		parquet:   NewParquetWriter(cfg.Parquet),
		logger:    logger.With("component", "decision-sink"),
		metrics:   metrics,
		batch:     make([]trackedEvent, 0, cfg.Batch.MaxEvents),
		lastFlush: time.Now(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the flush timer and the fetch workers.
func (c *Consumer) Start(ctx context.Context) {
	workerCount := c.config.Batch.WorkerCount
	if workerCount < 1 {
		workerCount = 1
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	c.logger.Info("starting decision sink",
		"workers", workerCount,
		"fetch_batch_size", c.config.Batch.FetchBatchSize,
		"max_events", c.config.Batch.MaxEvents,
		"flush_interval", c.config.Batch.FlushInterval,
	)

	go c.flushTimer(ctx)

	var wg sync.WaitGroup
	for i := range workerCount {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			c.workerLoop(ctx, c.consumer, id)
		}(i)
	}

	go func() {
		wg.Wait()
		close(c.doneCh)
	}()
}

func (c *Consumer) workerLoop(ctx context.Context, consumer jetstream.Consumer, id int) {
	logger := c.logger.With("worker_id", id)
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	fetchSize := c.config.Batch.FetchBatchSize
	if fetchSize < 1 {
		fetchSize = 100
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		msgs, err := consumer.Fetch(fetchSize, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to fetch messages", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
			continue
		}

		for msg := range msgs.Messages() {
			c.processMessage(ctx, msg)
		}
		if err := msgs.Error(); err != nil {
			logger.Error("messages iteration error", "error", err)
		}
	}
}

// processMessage buffers one message. Undecodable messages are terminated
// so JetStream stops redelivering them.
func (c *Consumer) processMessage(ctx context.Context, msg jetstream.Msg) {
	evt, err := decodeEvent(msg.Data())
	if err != nil {
		c.logger.Error("poison message, terminating", "subject", msg.Subject(), "error", err)
		if termErr := msg.Term(); termErr != nil {
			c.logger.Error("failed to terminate poison message", "error", termErr)
		}
		return
	}

	c.mu.Lock()
	c.batch = append(c.batch, trackedEvent{event: evt, msg: msg})
	full := len(c.batch) >= c.config.Batch.MaxEvents
	c.mu.Unlock()

	if full {
		if err := c.flush(ctx); err != nil {
			c.logger.Error("failed to flush batch", "error", err)
		}
	}
}

func (c *Consumer) flushTimer(ctx context.Context) {
	ticker := time.NewTicker(c.config.Batch.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			pending := len(c.batch)
			since := time.Since(c.lastFlush)
			c.mu.Unlock()

			if pending > 0 && since >= c.config.Batch.FlushInterval {
				if err := c.flush(ctx); err != nil {
					c.logger.Error("failed to flush batch on timer", "error", err)
				}
			}
		}
	}
}

// flush writes the buffer out. Each partition's messages are acked after
// its upload succeeds and nakked when it fails. It returns an error when
// any partition failed.
func (c *Consumer) flush(ctx context.Context) error {
	start := time.Now()

	c.mu.Lock()
	if len(c.batch) == 0 {
		c.mu.Unlock()
		return nil
	}
	tracked := c.batch
	c.batch = make([]trackedEvent, 0, c.config.Batch.MaxEvents)
	c.lastFlush = start
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ArchiveBatchSize.Record(ctx, int64(len(tracked)))
	}

	partitions := groupByPartition(tracked)
	var failed int
	for key, events := range partitions {
		if err := c.writePartition(ctx, key, events); err != nil {
			failed++
			c.logger.Error("failed to write partition, nakking for redelivery",
				"bundle_id", key.BundleID,
				"hour", key.Hour,
				"events", len(events),
				"error", err,
			)
			for _, t := range events {
				if nakErr := t.msg.Nak(); nakErr != nil {
					c.logger.Error("failed to nak message", "error", nakErr)
				}
			}
			continue
		}

		for _, t := range events {
			if ackErr := t.msg.Ack(); ackErr != nil {
				c.logger.Error("failed to ack message after upload", "error", ackErr)
			}
		}
		if c.metrics != nil {
			c.metrics.ArchiveMessages.Add(ctx, int64(len(events)),
				otelmetric.WithAttributes(attribute.String("bundle_id", key.BundleID)))
		}
	}

	if c.metrics != nil {
		c.metrics.ArchiveFlushLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	}

	c.logger.Info("batch flushed",
		"count", len(tracked),
		"partitions", len(partitions),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if failed > 0 {
		return fmt.Errorf("%d of %d partitions failed", failed, len(partitions))
	}
	return nil
}

// partitionKey is the Hive partition a decision lands in.
type partitionKey struct {
	BundleID string
	Year     int
	Month    int
	Day      int
	Hour     int
}

func groupByPartition(tracked []trackedEvent) map[partitionKey][]trackedEvent {
	partitions := make(map[partitionKey][]trackedEvent)
	for _, t := range tracked {
		ts := eventTime(t.event)
		bundle := t.event.BundleID
		if bundle == "" {
			bundle = "unknown"
		}
		key := partitionKey{
			BundleID: bundle,
			Year:     ts.Year(),
			Month:    int(ts.Month()),
			Day:      ts.Day(),
			Hour:     ts.Hour(),
		}
		partitions[key] = append(partitions[key], t)
	}
	return partitions
}

func (c *Consumer) writePartition(ctx context.Context, key partitionKey, tracked []trackedEvent) error {
	rows := make([]DecisionRow, len(tracked))
	for i, t := range tracked {
		rows[i] = RowFromEvent(t.event)
	}

	data, err := c.parquet.Write(rows)
	if err != nil {
		return fmt.Errorf("failed to write parquet: %w", err)
	}

	objectKey := c.store.GenerateKey(key.BundleID, key.Year, key.Month, key.Day, key.Hour)
	if err := c.store.Upload(ctx, objectKey, data); err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.ArchiveFilesWritten.Add(ctx, 1)
		c.metrics.ArchiveFileSize.Record(ctx, int64(len(data)))
	}

	c.logger.Debug("partition written", "key", objectKey, "events", len(tracked), "size_bytes", len(data))
	return nil
}

// Stop signals the workers, waits for them up to ShutdownTimeout and
// flushes what is left. It is safe to call more than once.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info("stopping decision sink")
		close(c.stopCh)

		timeout := c.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		c.mu.Lock()
		started := c.started
		c.mu.Unlock()

		if started {
			select {
			case <-c.doneCh:
			case <-shutdownCtx.Done():
				c.logger.Warn("timed out waiting for workers, flushing anyway", "timeout", timeout)
			}
		}

		if flushErr := c.flush(shutdownCtx); flushErr != nil {
			err = fmt.Errorf("final flush failed: %w", flushErr)
		}
	})
	return err
}

// Pending returns the number of buffered decisions.
func (c *Consumer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batch)
}
