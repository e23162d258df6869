package push

import (
	"testing"
	"time"

	"github.com/SebastienMelki/appgate/sdk/mobile/internal/storage"
)

func TestExtractURL(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "root url", payload: `{"url":"https://a.example"}`, want: "https://a.example"},
		{name: "aps url", payload: `{"aps":{"alert":"hi","url":"https://b.example"}}`, want: "https://b.example"},
		{name: "root wins", payload: `{"url":"https://a.example","aps":{"url":"https://b.example"}}`, want: "https://a.example"},
		{name: "empty root falls through", payload: `{"url":"","aps":{"url":"https://b.example"}}`, want: "https://b.example"},
		{name: "non-string", payload: `{"url":42}`, want: ""},
		{name: "none", payload: `{"aps":{"alert":"hi"}}`, want: ""},
		{name: "invalid json", payload: `nope`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractURL(tt.payload); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPromptPolicy(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	p := PromptPolicy{RetryInterval: 72 * time.Hour}

	tests := []struct {
		name     string
		mode     storage.AppMode
		status   AuthorizationStatus
		deniedAt time.Time
		want     bool
	}{
		{name: "webview undetermined", mode: storage.ModeWebView, status: StatusNotDetermined, want: true},
		{name: "game mode", mode: storage.ModeGame, status: StatusNotDetermined, want: false},
		{name: "undefined mode", mode: storage.ModeUndefined, status: StatusNotDetermined, want: false},
		{name: "already authorized", mode: storage.ModeWebView, status: StatusAuthorized, want: false},
		{name: "os denied", mode: storage.ModeWebView, status: StatusDenied, want: false},
		{name: "denied recently", mode: storage.ModeWebView, status: StatusNotDetermined, deniedAt: now.Add(-71 * time.Hour), want: false},
		{name: "denied long ago", mode: storage.ModeWebView, status: StatusNotDetermined, deniedAt: now.Add(-72 * time.Hour), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ShouldShowPrompt(tt.mode, tt.status, tt.deniedAt, now); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPromptPolicy_ZeroIntervalUsesDefault(t *testing.T) {
	now := time.Now()
	var p PromptPolicy
	if p.ShouldShowPrompt(storage.ModeWebView, StatusNotDetermined, now.Add(-time.Hour), now) {
		t.Fatal("zero interval should fall back to the three-day default")
	}
}
