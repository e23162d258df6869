// Package bootstrap sequences the launch decision: tracking prompt,
// attribution, push-token wait and the remote config fetch, ending in
// either webview mode with a URL or game mode. It also refreshes an
// expired URL when the app returns to the foreground.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SebastienMelki/appgate/sdk/mobile/internal/attribution"
	"github.com/SebastienMelki/appgate/sdk/mobile/internal/device"
	"github.com/SebastienMelki/appgate/sdk/mobile/internal/storage"
	"github.com/SebastienMelki/appgate/sdk/mobile/internal/transport"
)

var (
	// ErrAlreadyRunning is returned when a bootstrap or refresh is already in flight.
	ErrAlreadyRunning = errors.New("bootstrap: already running")

	// ErrInitialization is returned when a first launch could not reach the
	// config endpoint and has nothing to fall back to. The mode stays
	// undefined and Run may be called again.
	ErrInitialization = errors.New("bootstrap: initialization failed")
)

// StateStore is the persisted launch state.
type StateStore interface {
	Load() storage.State
	SetAppMode(mode storage.AppMode) error
	SaveURL(url string, expiresAt time.Time) error
	AdoptURL(url string) error
	IsURLExpired() bool
	SaveAttributionID(id string) error
	SaveConversionData(data map[string]any) error
	SavePushToken(token string) error
	MarkPushTokenReady()
	LastOpenedURL() string
}

// Attribution is the tracking and attribution gateway.
type Attribution interface {
	RequestTrackingPermission(ctx context.Context) bool
	Initialize()
	Await(ctx context.Context, timeout time.Duration) (attribution.ConversionData, error)
	AttributionID() string
}

// TokenWaiter gates the fetch on push-token readiness.
type TokenWaiter interface {
	StartWaiting()
	Ready(ctx context.Context) (string, error)
}

// ConfigFetcher talks to the config endpoint.
type ConfigFetcher interface {
	FetchConfig(ctx context.Context, req transport.Request) (transport.Result, error)
	RecheckConversionData(ctx context.Context, attributionID string) (attribution.ConversionData, error)
}

// DeviceInfo supplies the device half of the config request.
type DeviceInfo interface {
	Snapshot() device.Info
}

// Deps are the collaborators a Coordinator sequences.
type Deps struct {
	Store       StateStore
	Attribution Attribution
	Waiter      TokenWaiter
	Fetcher     ConfigFetcher
	Device      DeviceInfo
}

// Config tunes the pipeline.
type Config struct {
	// ConversionTimeout bounds the wait for conversion data. Zero waits
	// until the context is done.
	ConversionTimeout time.Duration

	// FailOnTransient makes a first launch that gets no usable answer,
	// and has no URL to fall back to, end in ErrInitialization instead of
	// game mode.
	FailOnTransient bool
}

// Result is the launch decision.
type Result struct {
	Mode   storage.AppMode
	URL    string
	Source Source
}

// Coordinator runs the bootstrap pipeline. One Coordinator exists per process.
type Coordinator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	// running guards Run and Refresh against overlap.
	running atomic.Bool

	mu        sync.Mutex
	phase     Phase
	listeners []func(Phase)
}

// New creates a coordinator.
func New(deps Deps, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "bootstrap"),
	}
}

// OnPhase registers fn to be called on every phase change.
func (c *Coordinator) OnPhase(fn func(Phase)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Phase returns the current phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Running reports whether a bootstrap or refresh is in flight.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	prev := c.phase
	c.phase = p
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	if prev != p {
		c.logger.Debug("phase", "from", prev.String(), "to", p.String())
	}
	for _, fn := range listeners {
		fn(p)
	}
}

// Run resolves the launch mode. A second launch with a resolved mode
// returns the persisted decision without touching the network. Run
// returns ErrAlreadyRunning while another Run or Refresh is in flight,
// and a context error if ctx ends before the decision is made.
func (c *Coordinator) Run(ctx context.Context) (Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRunning
	}
	defer c.running.Store(false)

	c.setPhase(PhaseInit)

	st := c.deps.Store.Load()
	if !st.IsFirstLaunch && st.AppMode != storage.ModeUndefined {
		res := Result{Mode: st.AppMode, Source: SourceCached}
		if st.AppMode == storage.ModeWebView {
			res.URL = st.CurrentURL
		}
		c.logger.Info("launch mode already resolved", "mode", res.Mode)
		c.setPhase(PhaseResolved)
		return res, nil
	}

	c.setPhase(PhaseRequestingTracking)
	granted := c.deps.Attribution.RequestTrackingPermission(ctx)
	c.logger.Debug("tracking permission answered", "granted", granted)

	c.setPhase(PhaseInitializingAttribution)
	c.deps.Attribution.Initialize()

	c.setPhase(PhaseAwaitingConversionData)
	data, err := c.deps.Attribution.Await(ctx, c.cfg.ConversionTimeout)
	if err != nil {
		return c.abort(fmt.Errorf("await conversion data: %w", err))
	}

	attributionID := c.deps.Attribution.AttributionID()

	if transport.ShouldRecheckConversion(data) {
		c.setPhase(PhaseRechecking)
		fresh, err := c.deps.Fetcher.RecheckConversionData(ctx, attributionID)
		switch {
		case err == nil && fresh != nil:
			data = fresh
		case ctx.Err() != nil:
			return c.abort(fmt.Errorf("recheck conversion data: %w", ctx.Err()))
		default:
			c.logger.Debug("recheck unavailable, keeping original conversion data", "error", err)
		}
	}

	if attributionID != "" {
		if err := c.deps.Store.SaveAttributionID(attributionID); err != nil {
			c.logger.Warn("persist attribution id", "error", err)
		}
	}
	if err := c.deps.Store.SaveConversionData(data); err != nil {
		c.logger.Warn("persist conversion data", "error", err)
	}

	c.setPhase(PhaseAwaitingPushToken)
	token, err := c.awaitPushToken(ctx)
	if err != nil {
		return c.abort(fmt.Errorf("await push token: %w", err))
	}

	c.setPhase(PhaseFetchingConfig)
	fetched, err := c.deps.Fetcher.FetchConfig(ctx, transport.Request{
		ConversionData: data,
		AttributionID:  attributionID,
		PushToken:      token,
		Device:         c.deps.Device.Snapshot(),
	})
	if err != nil && ctx.Err() != nil {
		return c.abort(fmt.Errorf("fetch config: %w", err))
	}

	res, err := c.resolve(fetched, err)
	if err != nil {
		c.setPhase(PhaseFailed)
		return Result{Mode: storage.ModeUndefined}, err
	}
	c.setPhase(PhaseResolved)
	return res, nil
}

func (c *Coordinator) abort(err error) (Result, error) {
	c.setPhase(PhaseFailed)
	return Result{Mode: storage.ModeUndefined}, err
}

func (c *Coordinator) awaitPushToken(ctx context.Context) (string, error) {
	if st := c.deps.Store.Load(); st.IsPushTokenReady {
		return st.PushToken, nil
	}

	c.deps.Waiter.StartWaiting()
	token, err := c.deps.Waiter.Ready(ctx)
	if err != nil {
		return "", err
	}

	if token != "" {
		if err := c.deps.Store.SavePushToken(token); err != nil {
			c.logger.Warn("persist push token", "error", err)
		}
	} else {
		c.deps.Store.MarkPushTokenReady()
	}

	// A token saved while we waited still counts.
	if token == "" {
		token = c.deps.Store.Load().PushToken
	}
	return token, nil
}

// resolve turns a fetch outcome into a mode, walking the fallback chain on
// failure: saved URL, then last opened URL, then game.
func (c *Coordinator) resolve(fetched transport.Result, fetchErr error) (Result, error) {
	if fetchErr == nil {
		if err := c.deps.Store.SaveURL(fetched.URL, fetched.ExpiresAt); err != nil {
			c.logger.Warn("persist url", "error", err)
		}
		c.logger.Info("config resolved", "mode", storage.ModeWebView, "expires_at", fetched.ExpiresAt)
		return c.settle(Result{Mode: storage.ModeWebView, URL: fetched.URL, Source: SourceServer}), nil
	}

	ce, _ := transport.AsConfigError(fetchErr)
	if ce != nil && ce.IsHardRejection() {
		c.logger.Info("config rejected install", "status", ce.StatusCode, "message", ce.Message)
		return c.settle(Result{Mode: storage.ModeGame, Source: SourceRejected}), nil
	}

	c.logger.Warn("config fetch failed, trying fallbacks", "error", fetchErr)

	st := c.deps.Store.Load()
	if st.CurrentURL != "" {
		return c.settle(Result{Mode: storage.ModeWebView, URL: st.CurrentURL, Source: SourceSavedURL}), nil
	}
	if last := c.deps.Store.LastOpenedURL(); last != "" {
		if err := c.deps.Store.AdoptURL(last); err != nil {
			c.logger.Warn("adopt last opened url", "error", err)
		}
		return c.settle(Result{Mode: storage.ModeWebView, URL: last, Source: SourceLastOpened}), nil
	}

	if c.cfg.FailOnTransient && st.IsFirstLaunch && ce != nil && ce.IsRetryable() {
		return Result{}, fmt.Errorf("%w: %w", ErrInitialization, fetchErr)
	}

	return c.settle(Result{Mode: storage.ModeGame, Source: SourceFallback}), nil
}

// settle persists the mode of res.
func (c *Coordinator) settle(res Result) Result {
	if err := c.deps.Store.SetAppMode(res.Mode); err != nil {
		c.logger.Warn("persist app mode", "mode", res.Mode, "error", err)
	}
	return res
}

// Refresh re-fetches the config when the app is in webview mode and the
// stored URL has expired, using the conversion data saved by the first
// bootstrap. The mode never changes here: on failure the stale URL is kept
// and returned alongside the error.
func (c *Coordinator) Refresh(ctx context.Context) (Result, error) {
	st := c.deps.Store.Load()
	current := Result{Mode: st.AppMode, URL: st.CurrentURL, Source: SourceCached}

	if st.AppMode != storage.ModeWebView || !c.deps.Store.IsURLExpired() {
		return current, nil
	}

	if !c.running.CompareAndSwap(false, true) {
		return current, ErrAlreadyRunning
	}
	defer c.running.Store(false)

	c.setPhase(PhaseResuming)
	defer c.setPhase(PhaseResolved)

	fetched, err := c.deps.Fetcher.FetchConfig(ctx, transport.Request{
		ConversionData: attribution.ConversionData(st.ConversionData),
		AttributionID:  st.AttributionID,
		PushToken:      st.PushToken,
		Device:         c.deps.Device.Snapshot(),
	})
	if err != nil {
		c.logger.Warn("refresh failed, keeping stale url", "error", err)
		return current, fmt.Errorf("refresh: %w", err)
	}

	if err := c.deps.Store.SaveURL(fetched.URL, fetched.ExpiresAt); err != nil {
		return current, fmt.Errorf("refresh: persist url: %w", err)
	}
	c.logger.Info("url refreshed", "expires_at", fetched.ExpiresAt)
	return Result{Mode: storage.ModeWebView, URL: fetched.URL, Source: SourceServer}, nil
}

// SyncPushToken persists a newly delivered push token and, once the launch
// is resolved, re-sends the config request so the server learns it. A
// successful answer refreshes the stored URL only in webview mode.
func (c *Coordinator) SyncPushToken(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	prev := c.deps.Store.Load()
	if err := c.deps.Store.SavePushToken(token); err != nil {
		return fmt.Errorf("persist push token: %w", err)
	}

	// An in-flight bootstrap picks the token up from the waiter.
	if c.running.Load() {
		return nil
	}
	if prev.AppMode == storage.ModeUndefined || prev.ConversionData == nil || prev.PushToken == token {
		return nil
	}

	fetched, err := c.deps.Fetcher.FetchConfig(ctx, transport.Request{
		ConversionData: attribution.ConversionData(prev.ConversionData),
		AttributionID:  prev.AttributionID,
		PushToken:      token,
		Device:         c.deps.Device.Snapshot(),
	})
	if err != nil {
		return fmt.Errorf("sync push token: %w", err)
	}

	if prev.AppMode == storage.ModeWebView {
		if err := c.deps.Store.SaveURL(fetched.URL, fetched.ExpiresAt); err != nil {
			return fmt.Errorf("sync push token: persist url: %w", err)
		}
	}
	c.logger.Debug("push token synced", "mode", prev.AppMode)
	return nil
}
