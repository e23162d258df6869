package mobile

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds the SDK configuration passed to Init as JSON.
// All fields use gomobile-compatible types (string, int, bool).
type Config struct {
	// Endpoint is the config endpoint URL (required).
	Endpoint string `json:"endpoint"`

	// BundleID is the app's bundle / package identifier (required).
	BundleID string `json:"bundle_id"`

	// StoreID is the App Store / Play Store id (default: BundleID).
	StoreID string `json:"store_id,omitempty"`

	// FirebaseProjectID is sent with the config request when set.
	FirebaseProjectID string `json:"firebase_project_id,omitempty"`

	// DataPath is the directory for the state database. Empty keeps state
	// in memory only.
	DataPath string `json:"data_path,omitempty"`

	PushTokenTimeoutMs  int `json:"push_token_timeout_ms,omitempty"`
	ConversionTimeoutMs int `json:"conversion_timeout_ms,omitempty"`
	RecheckDelayMs      int `json:"recheck_delay_ms,omitempty"`
	RequestTimeoutMs    int `json:"request_timeout_ms,omitempty"`

	// NotificationRetryMs is how long a declined notification prompt stays
	// suppressed (default: 3 days).
	NotificationRetryMs int `json:"notification_retry_ms,omitempty"`

	// MaxFetchRetries is the number of retries after a network failure
	// (default: 2). Zero disables retries.
	MaxFetchRetries *int `json:"max_fetch_retries,omitempty"`

	// PromptOnOffline makes a first launch that could not get a usable
	// answer (no connectivity, a bad response, an overloaded server) report
	// INIT_FAILED so the app can offer a retry, instead of falling back to
	// game mode (default: true).
	PromptOnOffline *bool `json:"prompt_on_offline,omitempty"`

	// DebugMode enables debug-level logging (default: false).
	DebugMode bool `json:"debug_mode,omitempty"`
}

// Default configuration values.
const (
	DefaultPushTokenTimeoutMs  = 10000
	DefaultConversionTimeoutMs = 30000
	DefaultRecheckDelayMs      = 5000
	DefaultRequestTimeoutMs    = 30000
	DefaultNotificationRetryMs = 3 * 24 * 60 * 60 * 1000
	DefaultMaxFetchRetries     = 2

	MaxFetchRetriesLimit = 10
)

// dbFileName is the state database file inside DataPath.
const dbFileName = "appgate.db"

// validate checks that required fields are set and values are valid.
// Returns empty string on success, error message on failure.
func (c *Config) validate() string {
	if strings.TrimSpace(c.Endpoint) == "" {
		return "endpoint is required"
	}
	if strings.TrimSpace(c.BundleID) == "" {
		return "bundle_id is required"
	}

	parsed, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Sprintf("endpoint is not a valid URL: %s", err.Error())
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "endpoint must include scheme and host (e.g., https://config.example.com/config)"
	}

	durations := map[string]int{
		"push_token_timeout_ms": c.PushTokenTimeoutMs,
		"conversion_timeout_ms": c.ConversionTimeoutMs,
		"recheck_delay_ms":      c.RecheckDelayMs,
		"request_timeout_ms":    c.RequestTimeoutMs,
		"notification_retry_ms": c.NotificationRetryMs,
	}
	for name, v := range durations {
		if v < 0 {
			return name + " must be non-negative"
		}
	}

	if c.MaxFetchRetries != nil && (*c.MaxFetchRetries < 0 || *c.MaxFetchRetries > MaxFetchRetriesLimit) {
		return fmt.Sprintf("max_fetch_retries must be between 0 and %d", MaxFetchRetriesLimit)
	}

	return ""
}

// applyDefaults fills in default values for unset optional fields.
func (c *Config) applyDefaults() {
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.BundleID = strings.TrimSpace(c.BundleID)

	if c.StoreID == "" {
		c.StoreID = c.BundleID
	}
	if c.PushTokenTimeoutMs == 0 {
		c.PushTokenTimeoutMs = DefaultPushTokenTimeoutMs
	}
	if c.ConversionTimeoutMs == 0 {
		c.ConversionTimeoutMs = DefaultConversionTimeoutMs
	}
	if c.RecheckDelayMs == 0 {
		c.RecheckDelayMs = DefaultRecheckDelayMs
	}
	if c.RequestTimeoutMs == 0 {
		c.RequestTimeoutMs = DefaultRequestTimeoutMs
	}
	if c.NotificationRetryMs == 0 {
		c.NotificationRetryMs = DefaultNotificationRetryMs
	}
	if c.MaxFetchRetries == nil {
		n := DefaultMaxFetchRetries
		c.MaxFetchRetries = &n
	}
	if c.PromptOnOffline == nil {
		enabled := true
		c.PromptOnOffline = &enabled
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// configFromJSON parses a JSON config string and returns a validated Config.
func configFromJSON(jsonStr string) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		return nil, fmt.Errorf("invalid config JSON: %w", err)
	}

	if errMsg := cfg.validate(); errMsg != "" {
		return nil, fmt.Errorf("config validation failed: %s", errMsg)
	}

	cfg.applyDefaults()
	return &cfg, nil
}
