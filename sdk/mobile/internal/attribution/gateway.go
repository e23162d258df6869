// Package attribution wraps the tracking-permission prompt and the
// attribution SDK behind a small gateway. The SDK itself is native code;
// the wrapper forwards its callbacks into DeliverConversionData and
// DeliverFailure, and the gateway turns them into a single, replayable
// conversion-data result.
package attribution

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SDK is the native attribution and tracking surface.
type SDK interface {
	// RequestTrackingAuthorization shows the OS tracking prompt (or returns
	// the cached answer) and reports whether tracking was granted.
	RequestTrackingAuthorization(ctx context.Context) bool
	// Start starts the attribution SDK. Conversion data arrives later
	// through the gateway's Deliver methods.
	Start()
	// UID returns the attribution SDK's install id, or "".
	UID() string
}

// Gateway delivers conversion data exactly once per process and replays it
// to callbacks registered after delivery.
type Gateway struct {
	sdk    SDK
	logger *slog.Logger

	initOnce sync.Once

	mu          sync.Mutex
	data        ConversionData
	delivered   bool
	subscribers []func(ConversionData)
	done        chan struct{}
}

// NewGateway creates a gateway over sdk. sdk may be nil, in which case the
// tracking prompt reports denied and only explicit deliveries resolve it.
func NewGateway(sdk SDK, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		sdk:    sdk,
		logger: logger.With("component", "attribution"),
		done:   make(chan struct{}),
	}
}

// RequestTrackingPermission asks for tracking permission. It never fails;
// a missing SDK, a panic in native glue or a cancelled context all count
// as denied.
func (g *Gateway) RequestTrackingPermission(ctx context.Context) (granted bool) {
	if g.sdk == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn("tracking prompt panicked", "panic", r)
			granted = false
		}
	}()

	granted = g.sdk.RequestTrackingAuthorization(ctx)
	g.logger.Debug("tracking permission", "granted", granted)
	return granted
}

// Initialize starts the attribution SDK. Calls after the first are no-ops.
func (g *Gateway) Initialize() {
	g.initOnce.Do(func() {
		if g.sdk == nil {
			g.logger.Warn("no attribution SDK, waiting for explicit delivery")
			return
		}
		g.sdk.Start()
		g.logger.Debug("attribution SDK started")
	})
}

// OnConversionData registers cb to receive the conversion data once. If the
// data has already arrived, cb runs immediately with it.
func (g *Gateway) OnConversionData(cb func(ConversionData)) {
	g.mu.Lock()
	if !g.delivered {
		g.subscribers = append(g.subscribers, cb)
		g.mu.Unlock()
		return
	}
	data := g.data.Clone()
	g.mu.Unlock()

	cb(data)
}

// DeliverConversionData records the SDK's payload. Only the first delivery
// counts; it returns false for later ones.
func (g *Gateway) DeliverConversionData(data ConversionData) bool {
	g.mu.Lock()
	if g.delivered {
		g.mu.Unlock()
		g.logger.Debug("ignoring repeated conversion data")
		return false
	}
	g.data = data.Clone()
	if g.data == nil {
		g.data = ConversionData{}
	}
	g.delivered = true
	subs := g.subscribers
	g.subscribers = nil
	close(g.done)
	g.mu.Unlock()

	g.logger.Info("conversion data received", "af_status", data.Status(), "keys", len(data))
	for _, cb := range subs {
		cb(g.data.Clone())
	}
	return true
}

// DeliverFailure records an attribution failure by delivering the organic
// fallback payload.
func (g *Gateway) DeliverFailure(err error) bool {
	g.logger.Warn("attribution failed, using organic fallback", "error", err)
	return g.DeliverConversionData(Fallback())
}

// Await blocks until conversion data is delivered, timeout elapses or ctx
// is done. On timeout the timeout fallback is delivered and returned.
// A non-positive timeout waits for ctx alone.
func (g *Gateway) Await(ctx context.Context, timeout time.Duration) (ConversionData, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-g.done:
	case <-expired:
		g.logger.Warn("conversion data timed out, using organic fallback", "timeout", timeout)
		g.DeliverConversionData(TimeoutFallback())
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.data.Clone(), nil
}

// Delivered reports whether conversion data has arrived.
func (g *Gateway) Delivered() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.delivered
}

// AttributionID returns the SDK's install id, or "" when unknown.
func (g *Gateway) AttributionID() string {
	if g.sdk == nil {
		return ""
	}
	return g.sdk.UID()
}
