package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/SebastienMelki/appgate/sdk/mobile/internal/attribution"
)

// Defaults for Options.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultRecheckDelay = 5 * time.Second
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// Options configures a Client.
type Options struct {
	// Endpoint is the absolute URL the config request is POSTed to.
	Endpoint string

	// Timeout bounds a single HTTP attempt. Zero uses DefaultTimeout.
	Timeout time.Duration

	// Retry schedules retries of network failures. Nil uses DefaultRetry.
	Retry RetryStrategy

	// Monitor is consulted before every fetch. Nil means always connected.
	Monitor *Monitor

	// RecheckDelay is how long RecheckConversionData waits before giving up.
	RecheckDelay time.Duration

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client fetches the remote launch configuration.
type Client struct {
	endpoint     string
	httpClient   *http.Client
	retry        RetryStrategy
	monitor      *Monitor
	recheckDelay time.Duration
	logger       *slog.Logger
}

// NewClient creates a config client. The endpoint is validated on each
// fetch so a bad value surfaces as a KindInvalidURL error.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retry == nil {
		opts.Retry = DefaultRetry
	}
	if opts.Monitor == nil {
		opts.Monitor = &Monitor{}
	}
	if opts.RecheckDelay <= 0 {
		opts.RecheckDelay = DefaultRecheckDelay
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		endpoint:     opts.Endpoint,
		httpClient:   opts.HTTPClient,
		retry:        opts.Retry,
		monitor:      opts.Monitor,
		recheckDelay: opts.RecheckDelay,
		logger:       opts.Logger.With("component", "config-client"),
	}
}

// FetchConfig POSTs req to the endpoint and returns the URL decision.
//
// Only network failures are retried. Any answer from the server, good or
// bad, is final. All errors are *ConfigError.
func (c *Client) FetchConfig(ctx context.Context, req Request) (Result, error) {
	if !c.monitor.IsConnected() {
		return Result{}, newError(KindNoConnection, nil)
	}

	endpoint, err := url.Parse(c.endpoint)
	if err != nil || !endpoint.IsAbs() || endpoint.Host == "" {
		return Result{}, &ConfigError{Kind: KindInvalidURL, Message: c.endpoint, Err: err}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, newError(KindEncoding, err)
	}

	userAgent := req.Device.UserAgent()
	maxAttempts := c.retry.MaxAttempts()

	var lastErr error
	for attempt := 0; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, newError(KindNetwork, err)
		}

		res, err := c.do(ctx, endpoint.String(), body, userAgent)
		if err == nil {
			return res, nil
		}

		ce, _ := AsConfigError(err)
		if ce == nil || ce.Kind != KindNetwork {
			return Result{}, err
		}
		lastErr = err

		delay := c.retry.NextDelay(attempt)
		if delay == 0 {
			break
		}

		c.logger.Warn("config request failed, retrying",
			"error", err, "delay", delay, "attempt", attempt+1, "max_attempts", maxAttempts)

		if !sleepWithContext(ctx, delay) {
			return Result{}, newError(KindNetwork, ctx.Err())
		}
	}

	return Result{}, lastErr
}

func (c *Client) do(ctx context.Context, endpoint string, body []byte, userAgent string) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, &ConfigError{Kind: KindInvalidURL, Message: endpoint, Err: err}
	}

	requestID := newRequestID()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("X-Request-ID", requestID)

	c.logger.Debug("fetching config", "endpoint", endpoint, "request_id", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, newError(KindNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, newError(KindNetwork, fmt.Errorf("read body: %w", err))
	}

	c.logger.Debug("config response", "status", resp.StatusCode, "bytes", len(data), "request_id", requestID)

	// A non-200 answer is a server error whatever the body holds; the
	// message is best effort.
	if resp.StatusCode != http.StatusOK {
		var parsed Response
		_ = json.Unmarshal(data, &parsed)
		return Result{}, &ConfigError{
			Kind:       KindServerError,
			StatusCode: resp.StatusCode,
			Message:    parsed.message(),
		}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return Result{}, newError(KindNoData, nil)
	}

	var parsed Response
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Result{}, newError(KindDecoding, err)
	}

	if !parsed.OK {
		return Result{}, &ConfigError{
			Kind:       KindServerError,
			StatusCode: resp.StatusCode,
			Message:    parsed.message(),
		}
	}

	return parsed.result()
}

// ShouldRecheckConversion reports whether organic conversion data is worth
// asking the attribution backend about again.
func ShouldRecheckConversion(data attribution.ConversionData) bool {
	return data.IsOrganic()
}

// RecheckConversionData asks for fresher conversion data for the given
// attribution id. No recheck backend exists, so it always fails with
// KindRecheckUnavailable once the recheck delay has passed. Callers keep
// the data they already have.
func (c *Client) RecheckConversionData(ctx context.Context, attributionID string) (attribution.ConversionData, error) {
	c.logger.Debug("rechecking conversion data", "attribution_id", attributionID, "delay", c.recheckDelay)

	if !sleepWithContext(ctx, c.recheckDelay) {
		return nil, ctx.Err()
	}
	return nil, newError(KindRecheckUnavailable, nil)
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// sleepWithContext sleeps for d or until ctx is done.
// Returns true if the full sleep completed.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
