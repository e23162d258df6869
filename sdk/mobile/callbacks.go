package mobile

import (
	"log/slog"
	"sync"
)

// ErrorCallback is invoked when SDK errors occur.
//
// Parameters:
//   - code: Error code (e.g., "INIT_FAILED")
//   - message: Human-readable error message
//   - severity: 0=debug, 1=warning, 2=critical, 3=fatal
//
// INIT_FAILED means the first launch could not reach the config endpoint;
// show a retry prompt and call Retry.
type ErrorCallback interface {
	OnError(code string, message string, severity int)
}

// ModeCallback receives launch decisions. mode is "webview" or "game",
// url is empty in game mode, and source tells where the URL came from
// ("server", "cached", "saved_url", "last_opened", "rejected", "fallback").
// It fires once per Start and again whenever a foreground refresh
// replaces the URL.
type ModeCallback interface {
	OnModeResolved(mode string, url string, source string)
}

var (
	errorCallbacksMu sync.RWMutex
	errorCallbacks   []ErrorCallback

	modeCallbacksMu sync.RWMutex
	modeCallbacks   []ModeCallback
)

// RegisterErrorCallback adds a callback for error notifications.
// Multiple callbacks can be registered; all will be notified.
func RegisterErrorCallback(callback ErrorCallback) {
	if callback == nil {
		return
	}
	errorCallbacksMu.Lock()
	defer errorCallbacksMu.Unlock()
	errorCallbacks = append(errorCallbacks, callback)
}

// UnregisterErrorCallbacks clears all registered error callbacks.
func UnregisterErrorCallbacks() {
	errorCallbacksMu.Lock()
	defer errorCallbacksMu.Unlock()
	errorCallbacks = nil
}

// RegisterModeCallback adds a callback for launch decisions.
func RegisterModeCallback(callback ModeCallback) {
	if callback == nil {
		return
	}
	modeCallbacksMu.Lock()
	defer modeCallbacksMu.Unlock()
	modeCallbacks = append(modeCallbacks, callback)
}

// UnregisterModeCallbacks clears all registered mode callbacks.
func UnregisterModeCallbacks() {
	modeCallbacksMu.Lock()
	defer modeCallbacksMu.Unlock()
	modeCallbacks = nil
}

// notifyErrorCallbacks dispatches an error to all registered callbacks.
// Only Warning+ severity is delivered. Callbacks run asynchronously.
func notifyErrorCallbacks(err *SDKError) {
	if err == nil || err.Severity < SeverityWarning {
		return
	}

	errorCallbacksMu.RLock()
	callbacks := make([]ErrorCallback, len(errorCallbacks))
	copy(callbacks, errorCallbacks)
	errorCallbacksMu.RUnlock()

	for _, cb := range callbacks {
		go cb.OnError(err.Code, err.Message, int(err.Severity))
	}
}

// notifyModeCallbacks delivers a decision to all mode callbacks, in
// registration order, on the calling goroutine.
func notifyModeCallbacks(mode, url, source string) {
	modeCallbacksMu.RLock()
	callbacks := make([]ModeCallback, len(modeCallbacks))
	copy(callbacks, modeCallbacks)
	modeCallbacksMu.RUnlock()

	for _, cb := range callbacks {
		cb.OnModeResolved(mode, url, source)
	}
}

// logError logs err at a level matching its severity and notifies error
// callbacks for critical and fatal errors.
func logError(logger *slog.Logger, err *SDKError) {
	if err == nil {
		return
	}

	switch err.Severity {
	case SeverityDebug:
		logger.Debug(err.Message, "code", err.Code)
	case SeverityWarning:
		logger.Warn(err.Message, "code", err.Code)
	case SeverityCritical, SeverityFatal:
		logger.Error(err.Message, "code", err.Code, "severity", int(err.Severity))
		notifyErrorCallbacks(err)
	}
}
