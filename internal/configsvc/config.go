// Package configsvc is the reference remote-config endpoint the appgate
// SDK talks to. It decides per install whether the app opens a web
// landing page or stays in game mode.
package configsvc

import (
	"fmt"
	"strings"
	"time"
)

// Config holds HTTP server and decision configuration.
type Config struct {
	// Addr is the address to listen on (e.g., ":8080")
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// MaxHeaderBytes is the maximum size of request headers
	MaxHeaderBytes int `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"` // 1MB

	// MaxBodyBytes caps the POST /config body.
	MaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"65536"` // 64KiB

	// Shutdown timeout for graceful shutdown
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Decision DecisionConfig `envPrefix:""`

	// Rate limiting configuration
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`

	// Sticky decision cache; disabled when REDIS_ADDR is empty
	Redis RedisConfig `envPrefix:"REDIS_"`
}

// OrganicPolicy controls how installs with af_status "Organic" are treated.
type OrganicPolicy string

const (
	OrganicAllow  OrganicPolicy = "allow"
	OrganicReject OrganicPolicy = "reject"
)

// DecisionConfig holds the rules applied to each config request.
type DecisionConfig struct {
	// AllowedBundles restricts which bundle ids get a landing URL. Empty
	// allows every bundle.
	AllowedBundles []string `env:"ALLOWED_BUNDLES"`

	OrganicPolicy OrganicPolicy `env:"ORGANIC_POLICY" envDefault:"allow"`

	// LandingURLTemplate is a Liquid template rendered over the request
	// fields plus decision_id.
	LandingURLTemplate string `env:"LANDING_URL_TEMPLATE" envDefault:"https://landing.example.com/{{ bundle_id }}?af_id={{ af_id | urlencode }}&os={{ os | urlencode }}&locale={{ locale | urlencode }}"`

	// URLTTL is how long the SDK may reuse a URL before asking again.
	URLTTL time.Duration `env:"URL_TTL" envDefault:"24h"`
}

// RateLimitConfig holds per-client rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"true"`

	// RequestsPerSecond is the sustained rate allowed per client IP
	RequestsPerSecond float64 `env:"REQUESTS_PER_SECOND" envDefault:"5"`

	// BurstSize is the maximum burst per client IP
	BurstSize int `env:"BURST_SIZE" envDefault:"20"`

	// IdleTTL is how long an unused client bucket is kept
	IdleTTL time.Duration `env:"IDLE_TTL" envDefault:"10m"`
}

// RedisConfig configures the sticky decision cache.
type RedisConfig struct {
	Addr      string `env:"ADDR"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"appgate:decision:"`
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Validate checks values env parsing cannot.
func (c Config) Validate() error {
	switch OrganicPolicy(strings.ToLower(string(c.Decision.OrganicPolicy))) {
	case OrganicAllow, OrganicReject:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOrganicPolicy, c.Decision.OrganicPolicy)
	}
	if c.Decision.URLTTL <= 0 {
		return fmt.Errorf("%w: URL_TTL must be positive", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Decision.LandingURLTemplate) == "" {
		return fmt.Errorf("%w: LANDING_URL_TEMPLATE is required", ErrInvalidConfig)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: HTTP_MAX_BODY_BYTES must be positive", ErrInvalidConfig)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.BurstSize <= 0) {
		return fmt.Errorf("%w: rate limit needs positive rate and burst", ErrInvalidConfig)
	}
	return nil
}
