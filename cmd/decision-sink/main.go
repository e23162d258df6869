// Command decision-sink archives decision events from NATS to S3/MinIO as
// Parquet files partitioned by bundle and hour.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"

	"github.com/SebastienMelki/appgate/internal/compaction"
	"github.com/SebastienMelki/appgate/internal/dlq"
	"github.com/SebastienMelki/appgate/internal/nats"
	"github.com/SebastienMelki/appgate/internal/observability"
	"github.com/SebastienMelki/appgate/internal/warehouse"
)

// Config holds all decision sink configuration.
type Config struct {
	// LogLevel is the log level (debug, info, warn, error)
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is the log format (json, text)
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// AdminAddr serves /healthz and /metrics. Empty disables it.
	AdminAddr string `env:"SINK_ADMIN_ADDR" envDefault:":9091"`

	NATS       nats.Config       `envPrefix:""`
	Warehouse  warehouse.Config  `envPrefix:""`
	DLQ        dlq.Config        `envPrefix:""`
	Compaction compaction.Config `envPrefix:""`
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("decision sink failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	if !cfg.NATS.Enabled() {
		return errors.New("NATS_URL is required")
	}

	logger.Info("starting decision sink",
		"log_level", cfg.LogLevel,
		"nats_url", cfg.NATS.URL,
		"s3_endpoint", cfg.Warehouse.S3.Endpoint,
		"s3_bucket", cfg.Warehouse.S3.Bucket,
		"consumer", cfg.Warehouse.ConsumerName,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	obs, err := observability.New("appgate-decision-sink")
	if err != nil {
		return err
	}
	defer obs.Shutdown(context.Background())

	natsClient, err := nats.NewClient(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close()

	streamMgr := nats.NewStreamManager(natsClient.JetStream(), cfg.NATS.Stream, logger)
	if _, err := streamMgr.EnsureStream(ctx); err != nil {
		return err
	}

	// Messages sit unacked in the buffer until the next flush.
	ackWait := 2*cfg.Warehouse.Batch.FlushInterval + 30*time.Second
	consumer, err := streamMgr.EnsureConsumer(ctx, cfg.Warehouse.ConsumerName, "decisions.>", ackWait)
	if err != nil {
		return err
	}

	s3Client, err := warehouse.NewS3Client(ctx, cfg.Warehouse.S3, logger)
	if err != nil {
		return err
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		return err
	}

	checks := []func(context.Context) error{natsClient.HealthCheck, s3Client.HealthCheck}

	if cfg.DLQ.Enabled {
		if _, err := streamMgr.EnsureDLQStream(ctx, cfg.DLQ.StreamName, cfg.DLQ.MaxAge); err != nil {
			return err
		}
		deadLetters := dlq.New(natsClient.JetStream(), natsClient.Conn(), cfg.NATS.Stream.Name,
			[]string{cfg.Warehouse.ConsumerName}, cfg.DLQ, obs.Metrics(), logger)
		if err := deadLetters.Start(ctx); err != nil {
			return err
		}
		defer deadLetters.Stop()
		checks = append(checks, deadLetters.HealthCheck)
	}

	sink := warehouse.NewConsumer(consumer, s3Client, cfg.Warehouse, obs.Metrics(), logger)
	sink.Start(ctx)

	compactor := compaction.New(s3Client, s3Client.Prefix(), cfg.Warehouse.Parquet, cfg.Compaction, obs.Metrics(), logger)
	compactor.Start(ctx)

	var admin *http.Server
	if cfg.AdminAddr != "" {
		admin = adminServer(cfg.AdminAddr, obs.MetricsHandler(), checks...)
		go func() {
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("admin server failed", "error", err)
			}
		}()
	}

	logger.Info("decision sink started")

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)
	cancel()

	if admin != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = admin.Shutdown(shutdownCtx)
		stop()
	}

	compactor.Stop()

	if err := sink.Stop(context.Background()); err != nil {
		logger.Error("sink stop error", "error", err)
	}

	if err := natsClient.Drain(); err != nil {
		logger.Error("NATS drain error", "error", err)
	}

	logger.Info("decision sink stopped")
	return nil
}

// adminServer exposes liveness and Prometheus metrics for the sink.
func adminServer(addr string, metrics http.Handler, checks ...func(context.Context) error) *http.Server {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", metrics)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// setupLogger creates a logger based on configuration.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
