package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed config fetch.
type ErrorKind int

// Error kinds.
const (
	KindNoConnection ErrorKind = iota + 1
	KindInvalidURL
	KindEncoding
	KindNetwork
	KindInvalidResponse
	KindNoData
	KindDecoding
	KindServerError
	KindRecheckUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoConnection:
		return "no_connection"
	case KindInvalidURL:
		return "invalid_url"
	case KindEncoding:
		return "encoding"
	case KindNetwork:
		return "network"
	case KindInvalidResponse:
		return "invalid_response"
	case KindNoData:
		return "no_data"
	case KindDecoding:
		return "decoding"
	case KindServerError:
		return "server_error"
	case KindRecheckUnavailable:
		return "recheck_unavailable"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ConfigError is the error type returned by Client. Match it with errors.As.
type ConfigError struct {
	Kind ErrorKind

	// StatusCode and Message are set for KindServerError.
	StatusCode int
	Message    string

	// Err is the underlying cause, if any.
	Err error
}

func (e *ConfigError) Error() string {
	msg := "config: " + e.Kind.String()
	if e.Kind == KindServerError {
		msg = fmt.Sprintf("%s %d", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsHardRejection reports whether the server refused this install outright.
// A 4xx means game; 5xx walks the fallback chain. 408 and 429 are load
// signals, not verdicts, so they walk the chain too.
func (e *ConfigError) IsHardRejection() bool {
	if e.Kind != KindServerError || e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	return e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests
}

// IsTransient reports whether the failure is about reaching the server at
// all, so asking again later may succeed.
func (e *ConfigError) IsTransient() bool {
	return e.Kind == KindNoConnection || e.Kind == KindNetwork
}

// IsRetryable reports whether a first launch that hit this error should
// offer the user a retry instead of settling on game mode. Everything but
// a hard rejection or a misconfigured endpoint qualifies.
func (e *ConfigError) IsRetryable() bool {
	return !e.IsHardRejection() && e.Kind != KindInvalidURL
}

// AsConfigError unwraps err to a *ConfigError.
func AsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func newError(kind ErrorKind, err error) *ConfigError {
	return &ConfigError{Kind: kind, Err: err}
}
