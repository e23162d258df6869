package mobile

import (
	"context"
	"errors"
	"time"

	"github.com/SebastienMelki/appgate/sdk/mobile/internal/push"
)

// Platform is implemented by the native wrapper. Methods may block; the
// SDK calls them off the main thread.
type Platform interface {
	// RequestTrackingAuthorization shows the OS tracking prompt (ATT on
	// iOS) and returns whether tracking was granted.
	RequestTrackingAuthorization() bool

	// StartAttribution starts the attribution SDK. Its results come back
	// through OnConversionData or OnConversionDataFail.
	StartAttribution()

	// AttributionID returns the attribution SDK's install id, or "".
	AttributionID() string

	// NotificationAuthorizationStatus returns the cached OS notification
	// permission: 0=not determined, 1=denied, 2=authorized. It must not
	// block waiting on the main thread.
	NotificationAuthorizationStatus() int
}

// RegisterPlatform installs the native platform. Call it after Init and
// before Start.
func RegisterPlatform(platform Platform) string {
	inst := getInstance()
	if inst == nil {
		return notInitializedError()
	}

	inst.mu.Lock()
	inst.platform = platform
	inst.mu.Unlock()
	return ""
}

// SetPlatformContext records device facts used in the config request and
// the User-Agent. platform is "ios" or "android"; locale is e.g. "en_US".
func SetPlatformContext(platform, osVersion, model, locale string) string {
	inst := getInstance()
	if inst == nil {
		return notInitializedError()
	}
	inst.device.SetPlatform(platform, osVersion, model, locale)
	return ""
}

// platformSDK adapts the registered Platform to the attribution gateway.
type platformSDK struct {
	inst *sdk
}

func (p platformSDK) current() Platform {
	p.inst.mu.RLock()
	defer p.inst.mu.RUnlock()
	return p.inst.platform
}

func (p platformSDK) RequestTrackingAuthorization(ctx context.Context) bool {
	pl := p.current()
	if pl == nil {
		return false
	}

	answer := make(chan bool, 1)
	go func() { answer <- pl.RequestTrackingAuthorization() }()

	select {
	case granted := <-answer:
		return granted
	case <-ctx.Done():
		return false
	}
}

func (p platformSDK) Start() {
	if pl := p.current(); pl != nil {
		pl.StartAttribution()
	}
}

func (p platformSDK) UID() string {
	if pl := p.current(); pl != nil {
		return pl.AttributionID()
	}
	return ""
}

// OnConversionData delivers the attribution SDK's conversion payload as a
// JSON object. Only the first delivery counts. Invalid JSON is treated as
// an attribution failure.
func OnConversionData(conversionJSON string) string {
	inst := getInstance()
	if inst == nil {
		return notInitializedError()
	}

	data, err := parseConversionData(conversionJSON)
	if err != nil {
		sdkErr := newWarningError(ErrCodeInvalidJSON, "invalid conversion data: "+err.Error())
		logError(inst.logger, sdkErr)
		inst.gateway.DeliverFailure(err)
		return sdkErr.Error()
	}

	inst.gateway.DeliverConversionData(data)
	return ""
}

// OnConversionDataFail reports that the attribution SDK failed. The
// bootstrap continues with organic fallback data.
func OnConversionDataFail(message string) string {
	inst := getInstance()
	if inst == nil {
		return notInitializedError()
	}
	inst.gateway.DeliverFailure(errors.New(message))
	return ""
}

// OnPushToken delivers a push (FCM/APNs) token. It releases the bootstrap's
// token wait and, once the launch is resolved, tells the server about it.
func OnPushToken(token string) string {
	inst := getInstance()
	if inst == nil {
		return notInitializedError()
	}
	if token == "" {
		return ""
	}

	inst.waiter.TokenArrived(token)
	inst.goBackground(func(ctx context.Context) {
		if err := inst.coord.SyncPushToken(ctx, token); err != nil {
			inst.logger.Warn("push token sync failed", "error", err)
		}
	})
	return ""
}

// SetNetworkAvailable reports connectivity changes from the OS monitor.
func SetNetworkAvailable(available bool) {
	inst := getInstance()
	if inst == nil {
		return
	}
	inst.monitor.SetConnected(available)
	inst.logger.Debug("network availability changed", "available", available)
}

// OnPageLoaded records a page the web view finished loading, used as a
// fallback URL when the config endpoint is unreachable.
func OnPageLoaded(url string) string {
	inst := getInstance()
	if inst == nil {
		return notInitializedError()
	}
	if err := inst.store.SetLastOpenedURL(url); err != nil {
		sdkErr := newWarningError(ErrCodeStorage, err.Error())
		logError(inst.logger, sdkErr)
		return sdkErr.Error()
	}
	return ""
}

// HandleNotification extracts the URL a tapped notification points at and
// keeps it as the pending URL. Returns "" when the payload carries none.
func HandleNotification(payloadJSON string) string {
	inst := getInstance()
	if inst == nil {
		return ""
	}

	u := push.ExtractURL(payloadJSON)
	if u == "" {
		return ""
	}

	inst.mu.Lock()
	inst.pendingURL = u
	inst.mu.Unlock()
	inst.logger.Debug("notification url pending", "url", u)
	return u
}

// ConsumePendingURL returns the URL from the last tapped notification and
// clears it.
func ConsumePendingURL() string {
	inst := getInstance()
	if inst == nil {
		return ""
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	u := inst.pendingURL
	inst.pendingURL = ""
	return u
}

// ShouldShowNotificationPrompt reports whether to ask for notification
// permission now.
func ShouldShowNotificationPrompt() bool {
	inst := getInstance()
	if inst == nil {
		return false
	}

	pl := platformSDK{inst: inst}.current()
	if pl == nil {
		return false
	}

	st := inst.store.Load()
	status := push.AuthorizationStatus(pl.NotificationAuthorizationStatus())
	return inst.prompt.ShouldShowPrompt(st.AppMode, status, st.NotificationDeniedAt, time.Now())
}

// OnNotificationPromptDenied records that the user declined the prompt.
func OnNotificationPromptDenied() string {
	inst := getInstance()
	if inst == nil {
		return notInitializedError()
	}
	if err := inst.store.SaveNotificationDenied(); err != nil {
		sdkErr := newWarningError(ErrCodeStorage, err.Error())
		logError(inst.logger, sdkErr)
		return sdkErr.Error()
	}
	return ""
}
