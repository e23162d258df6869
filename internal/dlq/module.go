// Package dlq captures decision events that a consumer gave up on.
//
// When the decision sink fails to ack a message MaxDeliver times, the NATS
// server emits an advisory. This module listens for those advisories,
// fetches the original message and republishes it on dlq.<subject> in a
// dedicated stream, where it can be inspected or replayed.
package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/SebastienMelki/appgate/internal/dlq/internal/service"
	"github.com/SebastienMelki/appgate/internal/observability"
)

// Config holds configuration for the DLQ module.
type Config struct {
	// Enabled turns advisory handling on.
	Enabled bool `env:"DLQ_ENABLED" envDefault:"true"`

	// StreamName is the dead-letter stream.
	StreamName string `env:"DLQ_STREAM_NAME" envDefault:"APPGATE_DECISIONS_DLQ"`

	// MaxAge is how long dead letters are kept.
	MaxAge time.Duration `env:"DLQ_MAX_AGE" envDefault:"336h"`

	// AlertThreshold is the depth at which Depth callers should alert.
	AlertThreshold int64 `env:"DLQ_ALERT_THRESHOLD" envDefault:"100"`
}

// Module is the dead-letter queue facade.
type Module struct {
	service *service.DLQService
	js      jetstream.JetStream
	config  Config
}

// New creates a DLQ module watching consumers on streamName. nc carries
// the core NATS advisory subscriptions.
func New(
	js jetstream.JetStream,
	nc *nats.Conn,
	streamName string,
	consumers []string,
	cfg Config,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Module {
	return &Module{
		service: service.NewDLQService(service.JetStreamStore{JS: js}, nc, streamName, consumers, metrics, logger),
		js:      js,
		config:  cfg,
	}
}

// Start subscribes to the MaxDeliver advisories.
func (m *Module) Start(ctx context.Context) error {
	return m.service.Start(ctx)
}

// Stop unsubscribes from all advisories.
func (m *Module) Stop() {
	m.service.Stop()
}

// Depth returns the number of messages in the dead-letter stream.
func (m *Module) Depth(ctx context.Context) (int64, error) {
	stream, err := m.js.Stream(ctx, m.config.StreamName)
	if err != nil {
		return 0, fmt.Errorf("failed to get DLQ stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get DLQ stream info: %w", err)
	}
	return int64(info.State.Msgs), nil
}

// HealthCheck fails once the dead-letter stream holds AlertThreshold or
// more messages.
func (m *Module) HealthCheck(ctx context.Context) error {
	depth, err := m.Depth(ctx)
	if err != nil {
		return err
	}
	if m.config.AlertThreshold > 0 && depth >= m.config.AlertThreshold {
		return fmt.Errorf("dead-letter stream holds %d messages (threshold %d)", depth, m.config.AlertThreshold)
	}
	return nil
}
