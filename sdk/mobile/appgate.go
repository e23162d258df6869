// Package mobile provides the Go core of the appgate mobile SDK.
//
// This package is compiled with gomobile bind to produce .xcframework (iOS)
// and .aar (Android) libraries. All exported functions use only
// gomobile-compatible types: string, int, bool and interfaces.
//
// A typical launch:
//
//	Init(configJSON)
//	RegisterPlatform(platform)
//	RegisterModeCallback(cb)
//	SetPlatformContext("ios", "17.2", "iPhone15,2", "en_US")
//	Start()
//	// later, from native SDK callbacks:
//	OnConversionData(json) / OnConversionDataFail(msg)
//	OnPushToken(token)
//
// Exported functions that can fail return "" on success or an error
// message.
package mobile

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/SebastienMelki/appgate/sdk/mobile/internal/attribution"
	"github.com/SebastienMelki/appgate/sdk/mobile/internal/bootstrap"
	"github.com/SebastienMelki/appgate/sdk/mobile/internal/device"
	"github.com/SebastienMelki/appgate/sdk/mobile/internal/lifecycle"
	"github.com/SebastienMelki/appgate/sdk/mobile/internal/push"
	"github.com/SebastienMelki/appgate/sdk/mobile/internal/storage"
	"github.com/SebastienMelki/appgate/sdk/mobile/internal/transport"
)

// sdkInstance is the package-level singleton. It exists only because
// gomobile cannot hand object graphs across the bridge; everything below
// it is explicitly constructed in Init.
var (
	sdkMu    sync.RWMutex
	instance *sdk
)

type sdk struct {
	config *Config
	logger *slog.Logger

	db      *storage.DB
	store   *storage.Store
	device  *device.Context
	monitor *transport.Monitor
	gateway *attribution.Gateway
	waiter  *push.TokenWaiter
	coord   *bootstrap.Coordinator
	tracker *lifecycle.Tracker
	prompt  push.PromptPolicy

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	platform   Platform
	pendingURL string
}

// Init initializes the SDK with a JSON configuration string.
// Returns empty string on success, or an error message on failure.
// Calling Init again shuts the previous instance down first.
//
// Example config JSON:
//
//	{"endpoint": "https://config.example.com/config", "bundle_id": "com.example.app", "data_path": "/var/mobile/.../Library"}
func Init(configJSON string) string {
	cfg, err := parseConfig(configJSON)
	if err != nil {
		sdkErr := newFatalError(ErrCodeInvalidConfig, err.Error())
		notifyErrorCallbacks(sdkErr)
		return sdkErr.Error()
	}

	inst, err := newSDK(cfg)
	if err != nil {
		sdkErr := newFatalError(ErrCodeStorage, err.Error())
		notifyErrorCallbacks(sdkErr)
		return sdkErr.Error()
	}

	sdkMu.Lock()
	prev := instance
	instance = inst
	sdkMu.Unlock()

	if prev != nil {
		prev.close()
	}

	inst.logger.Info("SDK initialized", "bundle_id", cfg.BundleID, "endpoint", cfg.Endpoint)
	return ""
}

// newSDK wires every component. This is the only place they are built.
func newSDK(cfg *Config) (*sdk, error) {
	logger := newLogger(cfg.DebugMode)

	dbPath := storage.MemoryPath
	if cfg.DataPath != "" {
		dbPath = filepath.Join(cfg.DataPath, dbFileName)
	}
	db, err := storage.NewDB(dbPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst := &sdk{
		config:  cfg,
		logger:  logger,
		db:      db,
		store:   storage.NewStore(db, logger),
		device:  device.NewContext(cfg.BundleID, cfg.StoreID, cfg.FirebaseProjectID),
		monitor: &transport.Monitor{},
		waiter:  push.NewTokenWaiter(ms(cfg.PushTokenTimeoutMs), logger),
		prompt:  push.PromptPolicy{RetryInterval: ms(cfg.NotificationRetryMs)},
		ctx:     ctx,
		cancel:  cancel,
	}
	inst.gateway = attribution.NewGateway(platformSDK{inst: inst}, logger)

	retry := &transport.ExponentialBackoff{
		BaseDelay:  transport.DefaultRetry.BaseDelay,
		MaxDelay:   transport.DefaultRetry.MaxDelay,
		MaxRetries: *cfg.MaxFetchRetries,
		Jitter:     transport.DefaultRetry.Jitter,
	}
	client := transport.NewClient(transport.Options{
		Endpoint:     cfg.Endpoint,
		Timeout:      ms(cfg.RequestTimeoutMs),
		Retry:        retry,
		Monitor:      inst.monitor,
		RecheckDelay: ms(cfg.RecheckDelayMs),
		Logger:       logger,
	})

	inst.coord = bootstrap.New(bootstrap.Deps{
		Store:       inst.store,
		Attribution: inst.gateway,
		Waiter:      inst.waiter,
		Fetcher:     client,
		Device:      inst.device,
	}, bootstrap.Config{
		ConversionTimeout: ms(cfg.ConversionTimeoutMs),
		FailOnTransient:   *cfg.PromptOnOffline,
	}, logger)

	inst.tracker = lifecycle.NewTracker(func(r lifecycle.Resume) {
		logger.Debug("app resumed", "visit_id", r.VisitID, "away", r.Away)
		inst.goBackground(inst.refresh)
	})

	return inst, nil
}

// Start runs the launch decision in the background. The result arrives
// through ModeCallback; a first launch that cannot reach the server
// reports INIT_FAILED through ErrorCallback.
func Start() string {
	inst := getInstance()
	if inst == nil {
		return notInitializedError()
	}
	if (platformSDK{inst: inst}).current() == nil {
		logError(inst.logger, newWarningError(ErrCodeNoPlatform, "no platform registered: tracking and attribution are skipped"))
	}

	inst.goBackground(inst.runBootstrap)
	return ""
}

// Retry re-runs the launch decision after INIT_FAILED.
func Retry() string {
	return Start()
}

func (s *sdk) runBootstrap(ctx context.Context) {
	res, err := s.coord.Run(ctx)
	switch {
	case errors.Is(err, bootstrap.ErrAlreadyRunning):
		s.logger.Debug("bootstrap already running")
		return
	case err != nil && ctx.Err() != nil:
		s.logger.Debug("bootstrap cancelled", "error", err)
		return
	case err != nil:
		logError(s.logger, newCriticalError(ErrCodeInitFailed, err.Error()))
		return
	}

	s.logger.Info("launch mode resolved", "mode", res.Mode, "source", res.Source)
	notifyModeCallbacks(string(res.Mode), res.URL, string(res.Source))

	if res.Source == bootstrap.SourceCached && res.Mode == storage.ModeWebView {
		s.refresh(ctx)
	}
}

func (s *sdk) refresh(ctx context.Context) {
	res, err := s.coord.Refresh(ctx)
	if err != nil {
		if !errors.Is(err, bootstrap.ErrAlreadyRunning) {
			s.logger.Warn("url refresh failed, keeping current url", "error", err)
		}
		return
	}
	if res.Source == bootstrap.SourceServer {
		notifyModeCallbacks(string(res.Mode), res.URL, string(res.Source))
	}
}

// goBackground runs fn on its own goroutine, tracked for Shutdown.
func (s *sdk) goBackground(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// close cancels background work, waits for it and closes the database.
func (s *sdk) close() {
	s.cancel()
	s.wg.Wait()
	if err := s.db.Close(); err != nil {
		s.logger.Warn("close database", "error", err)
	}
}

// OnForeground tells the SDK the app entered the foreground. An expired
// web URL is refreshed in the background.
func OnForeground() {
	if inst := getInstance(); inst != nil {
		inst.tracker.AppWillEnterForeground()
	}
}

// OnBackground tells the SDK the app left the foreground.
func OnBackground() {
	if inst := getInstance(); inst != nil {
		inst.tracker.AppDidEnterBackground()
	}
}

// GetMode returns the persisted launch mode: "undefined", "webview" or "game".
func GetMode() string {
	inst := getInstance()
	if inst == nil {
		return string(storage.ModeUndefined)
	}
	return string(inst.store.Load().AppMode)
}

// GetURL returns the current web URL, or "" outside webview mode.
func GetURL() string {
	inst := getInstance()
	if inst == nil {
		return ""
	}
	st := inst.store.Load()
	if st.AppMode != storage.ModeWebView {
		return ""
	}
	return st.CurrentURL
}

// GetPhase returns the bootstrap phase, e.g. "awaiting_push_token".
func GetPhase() string {
	inst := getInstance()
	if inst == nil {
		return ""
	}
	return inst.coord.Phase().String()
}

// DeleteProfile wipes the persisted launch state. The next Start behaves
// like a first launch.
func DeleteProfile() string {
	inst := getInstance()
	if inst == nil {
		return notInitializedError()
	}
	if err := inst.store.Reset(); err != nil {
		sdkErr := newCriticalError(ErrCodeStorage, err.Error())
		logError(inst.logger, sdkErr)
		return sdkErr.Error()
	}
	inst.logger.Info("profile deleted")
	return ""
}

// IsInitialized returns true if the SDK has been initialized.
func IsInitialized() bool {
	return getInstance() != nil
}

// Shutdown stops background work and closes the state database.
func Shutdown() string {
	sdkMu.Lock()
	inst := instance
	instance = nil
	sdkMu.Unlock()

	if inst == nil {
		return ""
	}
	inst.close()
	return ""
}

// getInstance returns the SDK singleton, or nil if not initialized.
func getInstance() *sdk {
	sdkMu.RLock()
	defer sdkMu.RUnlock()
	return instance
}

// notInitializedError returns and notifies about the not-initialized error.
func notInitializedError() string {
	sdkErr := newFatalError(ErrCodeNotInitialized, "SDK not initialized: call Init() first")
	notifyErrorCallbacks(sdkErr)
	return sdkErr.Error()
}

// resetForTesting resets the SDK state for unit tests.
// This is not exported and not available via gomobile.
func resetForTesting() {
	Shutdown()

	UnregisterErrorCallbacks()
	UnregisterModeCallbacks()
	RegisterLogCallback(nil)
}
