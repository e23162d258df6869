package mobile

import (
	"io"
	"log/slog"
	"strings"
	"sync"
)

// LogCallback receives formatted SDK log lines so native wrappers can
// forward them to os_log or Logcat. Lines use slog's text format.
type LogCallback interface {
	OnLog(line string)
}

var (
	logCallbackMu sync.RWMutex
	logCallback   LogCallback
)

// RegisterLogCallback sets the log sink. Passing nil discards SDK logs,
// which is the default.
func RegisterLogCallback(callback LogCallback) {
	logCallbackMu.Lock()
	defer logCallbackMu.Unlock()
	logCallback = callback
}

// callbackWriter forwards each slog record (one Write per record) to the
// current LogCallback.
type callbackWriter struct{}

func (callbackWriter) Write(p []byte) (int, error) {
	logCallbackMu.RLock()
	cb := logCallback
	logCallbackMu.RUnlock()

	if cb != nil {
		cb.OnLog(strings.TrimRight(string(p), "\n"))
	}
	return len(p), nil
}

var _ io.Writer = callbackWriter{}

// newLogger builds the SDK logger routed to the registered LogCallback.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(callbackWriter{}, &slog.HandlerOptions{Level: level})).
		With("sdk", "appgate")
}
