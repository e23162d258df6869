// Package warehouse archives decision events from JetStream to S3 as
// hourly Parquet files.
package warehouse

import (
	"time"
)

// Config holds decision sink configuration.
type Config struct {
	// S3 configuration
	S3 S3Config `envPrefix:"S3_"`

	// Batching configuration
	Batch BatchConfig `envPrefix:"BATCH_"`

	// Parquet configuration
	Parquet ParquetConfig `envPrefix:"PARQUET_"`

	// ConsumerName is the durable JetStream consumer the sink reads from.
	ConsumerName string `env:"ARCHIVE_CONSUMER" envDefault:"decision-archive"`

	// ShutdownTimeout bounds the final flush on Stop.
	ShutdownTimeout time.Duration `env:"ARCHIVE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// S3Config holds S3/MinIO configuration.
type S3Config struct {
	// Endpoint is the S3 endpoint URL (e.g., "http://localhost:9000" for MinIO)
	Endpoint string `env:"ENDPOINT" envDefault:"http://localhost:9000"`

	Region string `env:"REGION" envDefault:"us-east-1"`
	Bucket string `env:"BUCKET" envDefault:"appgate-decisions"`

	AccessKeyID     string `env:"ACCESS_KEY_ID" envDefault:"minioadmin"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY" envDefault:"minioadmin"`

	// UsePathStyle enables path-style addressing (required for MinIO)
	UsePathStyle bool `env:"USE_PATH_STYLE" envDefault:"true"`

	// Prefix is the key prefix for all objects
	Prefix string `env:"PREFIX" envDefault:"decisions"`
}

// BatchConfig holds decision batching configuration.
type BatchConfig struct {
	// MaxEvents flushes the buffer once it holds this many decisions.
	MaxEvents int `env:"MAX_EVENTS" envDefault:"5000"`

	// FlushInterval is the maximum time a decision waits in the buffer.
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"1m"`

	// FetchBatchSize is the number of messages pulled per fetch.
	FetchBatchSize int `env:"FETCH_BATCH_SIZE" envDefault:"100"`

	// WorkerCount is the number of fetch loops.
	WorkerCount int `env:"WORKER_COUNT" envDefault:"2"`
}

// ParquetConfig holds Parquet writer configuration.
type ParquetConfig struct {
	// Compression is the compression codec (snappy, gzip, zstd, none)
	Compression string `env:"COMPRESSION" envDefault:"snappy"`
}
