// Command config-server runs the reference appgate config endpoint.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v10"

	"github.com/SebastienMelki/appgate/internal/configsvc"
	"github.com/SebastienMelki/appgate/internal/dedup"
	"github.com/SebastienMelki/appgate/internal/nats"
	"github.com/SebastienMelki/appgate/internal/observability"
)

// Config holds all server configuration.
type Config struct {
	// LogLevel is the log level (debug, info, warn, error)
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is the log format (json, text)
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Server configsvc.Config `envPrefix:""`
	NATS   nats.Config      `envPrefix:""`
	Dedup  dedup.Config     `envPrefix:""`
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
		logger.Error("config server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	if err := cfg.Server.Validate(); err != nil {
		return err
	}

	logger.Info("starting appgate config server",
		"log_level", cfg.LogLevel,
		"http_addr", cfg.Server.Addr,
		"nats_enabled", cfg.NATS.Enabled(),
		"redis_enabled", cfg.Server.Redis.Enabled(),
		"organic_policy", cfg.Server.Decision.OrganicPolicy,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New("appgate-config-server")
	if err != nil {
		return err
	}
	defer obs.Shutdown(context.Background())

	decider, err := configsvc.NewDecider(cfg.Server.Decision)
	if err != nil {
		return err
	}

	opts := configsvc.ServiceOptions{Metrics: obs.Metrics()}
	checks := map[string]configsvc.HealthCheck{}

	if cfg.Server.Redis.Enabled() {
		client, err := configsvc.NewRedisClient(ctx, cfg.Server.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		opts.Cache = configsvc.NewRedisCache(client, cfg.Server.Redis.KeyPrefix)
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	if cfg.NATS.Enabled() {
		natsClient, err := nats.NewClient(cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := natsClient.Drain(); err != nil {
				logger.Error("NATS drain error", "error", err)
			}
		}()

		streamMgr := nats.NewStreamManager(natsClient.JetStream(), cfg.NATS.Stream, logger)
		if _, err := streamMgr.EnsureStream(ctx); err != nil {
			return err
		}

		opts.Publisher = nats.NewPublisher(natsClient.JetStream(), cfg.NATS.PublishTimeout, logger)
		checks["nats"] = natsClient.HealthCheck

		deduper := dedup.New(cfg.Dedup, obs.Metrics(), logger)
		deduper.Start(ctx)
		defer deduper.Stop()
		opts.Dedup = deduper
	}

	svc := configsvc.NewDecisionService(decider, opts, logger)
	server := configsvc.NewServer(cfg.Server, svc, configsvc.ServerOptions{
		Metrics:        obs.Metrics(),
		MetricsHandler: obs.MetricsHandler(),
		HealthChecks:   checks,
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("initiating graceful shutdown")
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
	return nil
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
