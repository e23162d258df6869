// Package push gates the config fetch on push-token readiness and holds
// the small notification policies the bridge exposes: which URL a
// notification opens and whether to show the permission prompt.
package push

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTokenTimeout bounds how long the bootstrap waits for a push token.
const DefaultTokenTimeout = 10 * time.Second

// WaitState is the waiter's progress.
type WaitState int

// Waiter states. Transitions only move forward.
const (
	NotWaiting WaitState = iota
	Waiting
	Ready
)

func (s WaitState) String() string {
	switch s {
	case NotWaiting:
		return "not_waiting"
	case Waiting:
		return "waiting"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// TokenWaiter resolves once a push token arrives or the timeout fires,
// whichever is first. Ready is terminal for the life of the waiter.
type TokenWaiter struct {
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	state     WaitState
	token     string
	timedOut  bool
	timer     *time.Timer
	readyCh   chan struct{}
	onTimeout func()
}

// NewTokenWaiter creates a waiter. A non-positive timeout uses DefaultTokenTimeout.
func NewTokenWaiter(timeout time.Duration, logger *slog.Logger) *TokenWaiter {
	if timeout <= 0 {
		timeout = DefaultTokenTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenWaiter{
		timeout: timeout,
		logger:  logger.With("component", "push-token"),
		readyCh: make(chan struct{}),
	}
}

// OnTimeout sets a hook run (outside the lock) when the timer forces Ready.
func (w *TokenWaiter) OnTimeout(fn func()) {
	w.mu.Lock()
	w.onTimeout = fn
	w.mu.Unlock()
}

// StartWaiting arms the timeout. It is a no-op unless the waiter is NotWaiting.
func (w *TokenWaiter) StartWaiting() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != NotWaiting {
		return
	}
	w.state = Waiting
	w.timer = time.AfterFunc(w.timeout, w.expire)
	w.logger.Debug("waiting for push token", "timeout", w.timeout)
}

// TokenArrived records a token and moves to Ready from any state. A later
// token replaces an earlier one.
func (w *TokenWaiter) TokenArrived(token string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if token != "" {
		w.token = token
	}
	w.readyLocked()
}

// MarkReady moves to Ready without a token, e.g. when a token was persisted
// by an earlier launch.
func (w *TokenWaiter) MarkReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readyLocked()
}

func (w *TokenWaiter) expire() {
	w.mu.Lock()
	if w.state != Waiting {
		w.mu.Unlock()
		return
	}
	w.timedOut = true
	w.readyLocked()
	hook := w.onTimeout
	w.mu.Unlock()

	w.logger.Warn("push token timed out, continuing without it", "timeout", w.timeout)
	if hook != nil {
		hook()
	}
}

func (w *TokenWaiter) readyLocked() {
	if w.state == Ready {
		return
	}
	w.state = Ready
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.readyCh)
}

// Ready blocks until the waiter is Ready or ctx is done, and returns the
// token present at that moment ("" if none).
func (w *TokenWaiter) Ready(ctx context.Context) (string, error) {
	select {
	case <-w.readyCh:
		return w.Token(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Token returns the latest token, if any.
func (w *TokenWaiter) Token() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.token
}

// State returns the current state.
func (w *TokenWaiter) State() WaitState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// TimedOut reports whether Ready was reached by the timer.
func (w *TokenWaiter) TimedOut() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timedOut
}
