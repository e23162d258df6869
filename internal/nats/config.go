// Package nats publishes appgate decision events to NATS JetStream.
package nats

import (
	"time"
)

// Config holds NATS connection and stream configuration. Publishing is
// disabled when URL is empty.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string `env:"NATS_URL"`

	// Name is the client connection name shown in server monitoring
	Name string `env:"NATS_CLIENT_NAME" envDefault:"appgate-config-server"`

	MaxReconnects int           `env:"NATS_MAX_RECONNECTS" envDefault:"60"`
	ReconnectWait time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`
	Timeout       time.Duration `env:"NATS_TIMEOUT" envDefault:"5s"`

	// PublishTimeout bounds a single JetStream publish.
	PublishTimeout time.Duration `env:"NATS_PUBLISH_TIMEOUT" envDefault:"2s"`

	Stream StreamConfig `envPrefix:"NATS_STREAM_"`
}

// Enabled reports whether a NATS URL was configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// StreamConfig holds JetStream stream configuration.
type StreamConfig struct {
	Name     string   `env:"NAME" envDefault:"APPGATE_DECISIONS"`
	Subjects []string `env:"SUBJECTS" envDefault:"decisions.>"`

	// MaxAge is the maximum age of messages in the stream
	MaxAge time.Duration `env:"MAX_AGE" envDefault:"720h"` // 30 days

	MaxBytes int64 `env:"MAX_BYTES" envDefault:"268435456"` // 256MB
	Replicas int   `env:"REPLICAS" envDefault:"1"`

	// Storage is the storage type (file or memory)
	Storage string `env:"STORAGE" envDefault:"file"`
}
