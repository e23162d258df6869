// Package transport talks to the remote config endpoint: it builds the
// flat JSON request, classifies every failure into a ConfigError, and
// retries network failures with exponential backoff.
package transport

import (
	"math"
	"math/rand"
	"time"
)

// RetryStrategy schedules retries after network failures.
type RetryStrategy interface {
	// NextDelay returns the delay before retry number attempt (0-indexed),
	// or 0 when no more retries should be made.
	NextDelay(attempt int) time.Duration

	// MaxAttempts returns the maximum number of retries.
	MaxAttempts() int
}

// ExponentialBackoff doubles the delay per attempt up to MaxDelay and
// spreads it by +/- Jitter.
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int

	// Jitter is a fraction in [0, 1].
	Jitter float64
}

// NextDelay implements RetryStrategy.
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt >= e.MaxRetries {
		return 0
	}

	delay := math.Min(float64(e.BaseDelay)*math.Pow(2, float64(attempt)), float64(e.MaxDelay))

	if e.Jitter > 0 {
		//nolint:gosec // jitter, not security
		delay += delay * e.Jitter * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// MaxAttempts implements RetryStrategy.
func (e *ExponentialBackoff) MaxAttempts() int {
	return e.MaxRetries
}

// NoRetry never retries.
var NoRetry RetryStrategy = &ExponentialBackoff{}

// DefaultRetry fits inside a launch screen: two retries, 500ms then 1s,
// never more than 4s, with 20% jitter.
var DefaultRetry = &ExponentialBackoff{
	BaseDelay:  500 * time.Millisecond,
	MaxDelay:   4 * time.Second,
	MaxRetries: 2,
	Jitter:     0.2,
}
