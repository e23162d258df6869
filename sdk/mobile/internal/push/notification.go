package push

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/SebastienMelki/appgate/sdk/mobile/internal/storage"
)

// DefaultPromptRetryInterval is how long a denial suppresses the prompt.
const DefaultPromptRetryInterval = 72 * time.Hour

// AuthorizationStatus mirrors the OS notification authorization state.
type AuthorizationStatus int

// Authorization states, numbered as the native wrappers pass them.
const (
	StatusNotDetermined AuthorizationStatus = iota
	StatusDenied
	StatusAuthorized
)

// ExtractURL returns the URL a notification payload points at: the root
// "url" field, else "aps.url". It returns "" when neither is a non-empty
// string or the payload is not a JSON object.
func ExtractURL(payload string) string {
	var root map[string]any
	if err := json.Unmarshal([]byte(payload), &root); err != nil {
		return ""
	}
	if u := stringField(root, "url"); u != "" {
		return u
	}
	if aps, ok := root["aps"].(map[string]any); ok {
		return stringField(aps, "url")
	}
	return ""
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// PromptPolicy decides whether to ask for notification permission.
type PromptPolicy struct {
	RetryInterval time.Duration
}

// ShouldShowPrompt is true only in webview mode while the OS has not decided,
// and not within RetryInterval of a recorded denial.
func (p PromptPolicy) ShouldShowPrompt(mode storage.AppMode, status AuthorizationStatus, deniedAt, now time.Time) bool {
	if mode != storage.ModeWebView {
		return false
	}
	if status != StatusNotDetermined {
		return false
	}
	if deniedAt.IsZero() {
		return true
	}

	retry := p.RetryInterval
	if retry <= 0 {
		retry = DefaultPromptRetryInterval
	}
	return now.Sub(deniedAt) >= retry
}
