// Command devicesim drives the appgate mobile bridge from a desktop process:
// it plays the native platform, runs one bootstrap against a config
// endpoint and reports the resolved mode.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	mobile "github.com/SebastienMelki/appgate/sdk/mobile"
)

// Config is read from SIM_* environment variables.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	Endpoint string `env:"SIM_ENDPOINT,required"`
	BundleID string `env:"SIM_BUNDLE_ID,required"`
	StoreID  string `env:"SIM_STORE_ID"`
	DataPath string `env:"SIM_DATA_PATH"`

	ConversionJSON  string `env:"SIM_CONVERSION_JSON" envDefault:"{\"af_status\":\"Non-organic\",\"is_first_launch\":true}"`
	AttributionFail bool   `env:"SIM_ATTRIBUTION_FAIL"`
	AttributionID   string `env:"SIM_ATTRIBUTION_ID" envDefault:"sim-install"`
	TrackingGranted bool   `env:"SIM_TRACKING_GRANTED" envDefault:"true"`
	PushToken       string `env:"SIM_PUSH_TOKEN"`

	Platform  string `env:"SIM_PLATFORM" envDefault:"ios"`
	OSVersion string `env:"SIM_OS_VERSION" envDefault:"17.4"`
	Model     string `env:"SIM_MODEL" envDefault:"iPhone15,2"`
	Locale    string `env:"SIM_LOCALE" envDefault:"en_US"`

	PushTokenTimeout  time.Duration `env:"SIM_PUSH_TOKEN_TIMEOUT" envDefault:"2s"`
	ConversionTimeout time.Duration `env:"SIM_CONVERSION_TIMEOUT" envDefault:"10s"`
	RecheckDelay      time.Duration `env:"SIM_RECHECK_DELAY" envDefault:"5s"`
	Timeout           time.Duration `env:"SIM_TIMEOUT" envDefault:"60s"`
	Debug             bool          `env:"SIM_DEBUG"`
}

// ErrInitFailed is returned when the bridge reports INIT_FAILED.
var ErrInitFailed = errors.New("bootstrap failed")

// ErrTimeout is returned when nothing resolves within SIM_TIMEOUT.
var ErrTimeout = errors.New("timed out waiting for a mode")

// Resolution is what devicesim prints on success.
type Resolution struct {
	Mode   string
	URL    string
	Source string
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	res, err := run(cfg, logger)
	if err != nil {
		logger.Error("simulation failed", "error", err)
		if errors.Is(err, ErrTimeout) {
			os.Exit(2)
		}
		os.Exit(1)
	}

	logger.Info("mode resolved", "mode", res.Mode, "url", res.URL, "source", res.Source)
}

func run(cfg Config, logger *slog.Logger) (Resolution, error) {
	sdkConfig, err := json.Marshal(map[string]any{
		"endpoint":              cfg.Endpoint,
		"bundle_id":             cfg.BundleID,
		"store_id":              cfg.StoreID,
		"data_path":             cfg.DataPath,
		"push_token_timeout_ms": cfg.PushTokenTimeout.Milliseconds(),
		"conversion_timeout_ms": cfg.ConversionTimeout.Milliseconds(),
		"recheck_delay_ms":      cfg.RecheckDelay.Milliseconds(),
		"debug_mode":            cfg.Debug,
	})
	if err != nil {
		return Resolution{}, err
	}

	if msg := mobile.Init(string(sdkConfig)); msg != "" {
		return Resolution{}, fmt.Errorf("init: %s", msg)
	}
	defer mobile.Shutdown()

	mobile.RegisterLogCallback(&logSink{logger: logger.With("source", "sdk")})

	results := make(chan Resolution, 4)
	failures := make(chan string, 4)
	mobile.RegisterModeCallback(modeFunc(func(mode, url, source string) {
		select {
		case results <- Resolution{Mode: mode, URL: url, Source: source}:
		default:
		}
	}))
	mobile.RegisterErrorCallback(errorFunc(func(code, message string, severity int) {
		logger.Warn("sdk error", "code", code, "message", message, "severity", severity)
		if code != mobile.ErrCodeInitFailed {
			return
		}
		select {
		case failures <- message:
		default:
		}
	}))
	defer func() {
		mobile.UnregisterModeCallbacks()
		mobile.UnregisterErrorCallbacks()
		mobile.RegisterLogCallback(nil)
	}()

	if msg := mobile.RegisterPlatform(newPlatform(cfg, logger)); msg != "" {
		return Resolution{}, fmt.Errorf("register platform: %s", msg)
	}
	if msg := mobile.SetPlatformContext(cfg.Platform, cfg.OSVersion, cfg.Model, cfg.Locale); msg != "" {
		return Resolution{}, fmt.Errorf("platform context: %s", msg)
	}
	if msg := mobile.Start(); msg != "" {
		return Resolution{}, fmt.Errorf("start: %s", msg)
	}
	if cfg.PushToken != "" {
		mobile.OnPushToken(cfg.PushToken)
	}

	select {
	case res := <-results:
		return res, nil
	case msg := <-failures:
		return Resolution{}, fmt.Errorf("%w: %s", ErrInitFailed, msg)
	case <-time.After(cfg.Timeout):
		return Resolution{}, fmt.Errorf("%w after %s (phase %s)", ErrTimeout, cfg.Timeout, mobile.GetPhase())
	}
}

// platform plays the native side of the bridge.
type platform struct {
	cfg    Config
	logger *slog.Logger
}

func newPlatform(cfg Config, logger *slog.Logger) *platform {
	return &platform{cfg: cfg, logger: logger.With("component", "sim-platform")}
}

func (p *platform) RequestTrackingAuthorization() bool {
	p.logger.Debug("tracking authorization requested", "granted", p.cfg.TrackingGranted)
	return p.cfg.TrackingGranted
}

// StartAttribution answers asynchronously, as the attribution SDK does.
func (p *platform) StartAttribution() {
	go func() {
		if p.cfg.AttributionFail {
			mobile.OnConversionDataFail("attribution disabled")
			return
		}
		if msg := mobile.OnConversionData(p.cfg.ConversionJSON); msg != "" {
			p.logger.Warn("conversion data rejected", "error", msg)
		}
	}()
}

func (p *platform) AttributionID() string {
	return p.cfg.AttributionID
}

func (p *platform) NotificationAuthorizationStatus() int {
	return 0
}

type modeFunc func(mode, url, source string)

func (f modeFunc) OnModeResolved(mode, url, source string) { f(mode, url, source) }

type errorFunc func(code, message string, severity int)

func (f errorFunc) OnError(code, message string, severity int) { f(code, message, severity) }

type logSink struct {
	logger *slog.Logger
}

func (s *logSink) OnLog(line string) {
	s.logger.Debug(strings.TrimRight(line, "\n"))
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

	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
