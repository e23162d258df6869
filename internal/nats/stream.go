package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamManager creates and inspects the decision stream.
type StreamManager struct {
	js     jetstream.JetStream
	config StreamConfig
	logger *slog.Logger
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(js jetstream.JetStream, cfg StreamConfig, logger *slog.Logger) *StreamManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamManager{
		js:     js,
		config: cfg,
		logger: logger.With("component", "stream-manager"),
	}
}

// streamConfig translates the env config into a JetStream definition.
func (m *StreamManager) streamConfig() jetstream.StreamConfig {
	storage := jetstream.FileStorage
	if strings.EqualFold(m.config.Storage, "memory") {
		storage = jetstream.MemoryStorage
	}

	return jetstream.StreamConfig{
		Name:        m.config.Name,
		Subjects:    m.config.Subjects,
		Storage:     storage,
		MaxAge:      m.config.MaxAge,
		MaxBytes:    m.config.MaxBytes,
		Replicas:    m.config.Replicas,
		Retention:   jetstream.LimitsPolicy,
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
	}
}

// EnsureStream creates the stream, or updates it in place when it already
// exists with different settings.
func (m *StreamManager) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	cfg := m.streamConfig()

	_, err := m.js.Stream(ctx, cfg.Name)
	switch {
	case err == nil:
		m.logger.Info("updating existing stream", "name", cfg.Name)
		stream, err := m.js.UpdateStream(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to update stream: %w", err)
		}
		return stream, nil
	case !errors.Is(err, jetstream.ErrStreamNotFound):
		return nil, fmt.Errorf("failed to look up stream: %w", err)
	}

	m.logger.Info("creating new stream", "name", cfg.Name, "subjects", cfg.Subjects)
	stream, err := m.js.CreateStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	m.logger.Info("stream created",
		"name", cfg.Name,
		"storage", m.config.Storage,
		"max_age", m.config.MaxAge,
		"max_bytes", m.config.MaxBytes,
	)
	return stream, nil
}

// StreamInfo returns the current state of the decision stream.
func (m *StreamManager) StreamInfo(ctx context.Context) (*jetstream.StreamInfo, error) {
	stream, err := m.js.Stream(ctx, m.config.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}
	return info, nil
}

// EnsureConsumer creates or updates a durable pull consumer on the decision
// stream. Messages are acked explicitly and redelivered up to five times.
func (m *StreamManager) EnsureConsumer(ctx context.Context, name, filter string, ackWait time.Duration) (jetstream.Consumer, error) {
	cfg := jetstream.ConsumerConfig{
		Durable:       name,
		FilterSubject: filter,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}

	consumer, err := m.js.CreateOrUpdateConsumer(ctx, m.config.Name, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure consumer %s: %w", name, err)
	}

	m.logger.Info("consumer ready",
		"stream", m.config.Name,
		"consumer", name,
		"filter", filter,
		"ack_wait", ackWait,
	)
	return consumer, nil
}

// EnsureDLQStream creates or updates the dead-letter stream that collects
// decision events a consumer gave up on. It listens on dlq.>.
func (m *StreamManager) EnsureDLQStream(ctx context.Context, name string, maxAge time.Duration) (jetstream.Stream, error) {
	cfg := jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{DLQSubjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		MaxAge:    maxAge,
		Replicas:  m.config.Replicas,
		Retention: jetstream.LimitsPolicy,
		Discard:   jetstream.DiscardOld,
	}

	stream, err := m.js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure DLQ stream: %w", err)
	}
	m.logger.Info("DLQ stream ready", "name", name, "max_age", maxAge)
	return stream, nil
}
