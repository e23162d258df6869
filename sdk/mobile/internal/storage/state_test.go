package storage

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, nil)
}

func TestLoad_FreshInstallDefaults(t *testing.T) {
	s := newTestStore(t)

	st := s.Load()
	if st.AppMode != ModeUndefined {
		t.Errorf("AppMode: got %q, want %q", st.AppMode, ModeUndefined)
	}
	if !st.IsFirstLaunch {
		t.Error("IsFirstLaunch should default to true")
	}
	if st.HasURL() {
		t.Error("fresh install should have no URL")
	}
	if st.IsPushTokenReady {
		t.Error("push token should not be ready on a fresh install")
	}
}

func TestSaveLoad_RoundTripIsNoop(t *testing.T) {
	s := newTestStore(t)
	s.SetClock(func() time.Time { return time.UnixMilli(1_700_000_000_000) })

	if err := s.SaveURL("https://a.example/path", time.UnixMilli(1_700_000_360_000)); err != nil {
		t.Fatalf("SaveURL: %v", err)
	}
	if err := s.SaveAttributionID("af-123"); err != nil {
		t.Fatalf("SaveAttributionID: %v", err)
	}
	if err := s.SaveConversionData(map[string]any{"af_status": "Non-organic", "clicks": json.Number("3")}); err != nil {
		t.Fatalf("SaveConversionData: %v", err)
	}
	if err := s.SaveNotificationDenied(); err != nil {
		t.Fatalf("SaveNotificationDenied: %v", err)
	}

	before := s.Load()
	if err := s.Save(before); err != nil {
		t.Fatalf("Save: %v", err)
	}
	after := s.Load()

	if !reflect.DeepEqual(before, after) {
		t.Fatalf("save(load()) changed state:\nbefore=%+v\nafter=%+v", before, after)
	}
}

func TestSave_DropsHalfSetURL(t *testing.T) {
	s := newTestStore(t)

	st := s.Load()
	st.CurrentURL = "https://only-url.example"
	if err := s.Save(st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := s.Load()
	if got.CurrentURL != "" || !got.URLExpiresAt.IsZero() {
		t.Fatalf("expected url pair to be cleared, got url=%q expires=%v", got.CurrentURL, got.URLExpiresAt)
	}
}

func TestSaveURL_RequiresBothFields(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveURL("", time.Now()); err == nil {
		t.Error("expected error for empty url")
	}
	if err := s.SaveURL("https://x.example", time.Time{}); err == nil {
		t.Error("expected error for zero expiry")
	}
}

func TestIsURLExpired(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{name: "one second ago", expires: now.Add(-time.Second), want: true},
		{name: "one second ahead", expires: now.Add(time.Second), want: false},
		{name: "exactly now", expires: now, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			s.SetClock(func() time.Time { return now })

			if err := s.SaveURL("https://x.example", tt.expires); err != nil {
				t.Fatalf("SaveURL: %v", err)
			}
			if got := s.IsURLExpired(); got != tt.want {
				t.Errorf("IsURLExpired: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsURLExpired_NoURL(t *testing.T) {
	s := newTestStore(t)
	if !s.IsURLExpired() {
		t.Fatal("missing URL must count as expired")
	}
}

func TestSetAppMode_EndsFirstLaunch(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetAppMode(ModeWebView); err != nil {
		t.Fatalf("SetAppMode: %v", err)
	}

	st := s.Load()
	if st.AppMode != ModeWebView {
		t.Errorf("AppMode: got %q, want %q", st.AppMode, ModeWebView)
	}
	if st.IsFirstLaunch {
		t.Error("IsFirstLaunch should be false after a mode is set")
	}
}

func TestSetAppMode_GameClearsLastOpenedURL(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetLastOpenedURL("https://last.example"); err != nil {
		t.Fatalf("SetLastOpenedURL: %v", err)
	}
	if err := s.SetAppMode(ModeWebView); err != nil {
		t.Fatalf("SetAppMode(webview): %v", err)
	}
	if got := s.LastOpenedURL(); got != "https://last.example" {
		t.Fatalf("webview mode must keep last opened url, got %q", got)
	}

	if err := s.SetAppMode(ModeGame); err != nil {
		t.Fatalf("SetAppMode(game): %v", err)
	}
	if got := s.LastOpenedURL(); got != "" {
		t.Fatalf("game mode must clear last opened url, got %q", got)
	}
}

func TestAdoptURL_ExpiresImmediately(t *testing.T) {
	s := newTestStore(t)
	now := time.UnixMilli(1_700_000_000_000)
	s.SetClock(func() time.Time { return now })

	if err := s.AdoptURL("https://fallback.example"); err != nil {
		t.Fatalf("AdoptURL: %v", err)
	}

	st := s.Load()
	if st.CurrentURL != "https://fallback.example" {
		t.Errorf("CurrentURL: got %q", st.CurrentURL)
	}

	s.SetClock(func() time.Time { return now.Add(time.Millisecond) })
	if !s.IsURLExpired() {
		t.Error("adopted url should be due for refresh")
	}
}

func TestPushTokenReady_Monotonic(t *testing.T) {
	s := newTestStore(t)

	s.MarkPushTokenReady()
	st := s.Load()
	if !st.IsPushTokenReady {
		t.Fatal("expected ready after MarkPushTokenReady")
	}

	st.IsPushTokenReady = false
	if err := s.Save(st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Load().IsPushTokenReady {
		t.Fatal("saving false must not reset push token readiness")
	}
}

func TestSavePushToken_PersistsAcrossStores(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	db1, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	if err := NewStore(db1, nil).SavePushToken("fcm-token"); err != nil {
		t.Fatalf("SavePushToken: %v", err)
	}
	db1.Close()

	db2, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB reopen: %v", err)
	}
	defer db2.Close()

	st := NewStore(db2, nil).Load()
	if st.PushToken != "fcm-token" {
		t.Errorf("PushToken: got %q", st.PushToken)
	}
	if !st.IsPushTokenReady {
		t.Error("a stored token makes the gate ready on the next launch")
	}
}

func TestLoad_CorruptValuesFallBackToDefaults(t *testing.T) {
	s := newTestStore(t)

	for k, v := range map[string]string{
		keyAppMode:        "sideways",
		keyFirstLaunch:    "maybe",
		keyURLExpires:     "not-a-number",
		keyCurrentURL:     "https://x.example",
		keyConversionData: "{broken",
	} {
		if _, err := s.db.Exec("INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, 0)", k, v); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}

	st := s.Load()
	if st.AppMode != ModeUndefined {
		t.Errorf("AppMode: got %q, want default", st.AppMode)
	}
	if !st.IsFirstLaunch {
		t.Error("IsFirstLaunch should fall back to true")
	}
	if st.HasURL() {
		t.Error("url without a readable expiry must be dropped")
	}
	if st.ConversionData != nil {
		t.Errorf("ConversionData: got %v, want nil", st.ConversionData)
	}
}

func TestUpdate_ConcurrentWritersKeepEveryField(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.SavePushToken("tok"); err != nil {
			t.Errorf("SavePushToken: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := s.SaveURL("https://x.example", time.Now().Add(time.Hour)); err != nil {
			t.Errorf("SaveURL: %v", err)
		}
	}()
	wg.Wait()

	st := s.Load()
	if st.PushToken != "tok" {
		t.Errorf("push token lost: %q", st.PushToken)
	}
	if st.CurrentURL != "https://x.example" {
		t.Errorf("url lost: %q", st.CurrentURL)
	}
}

func TestReset(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetLastOpenedURL("https://last.example"); err != nil {
		t.Fatalf("SetLastOpenedURL: %v", err)
	}
	if err := s.SetAppMode(ModeWebView); err != nil {
		t.Fatalf("SetAppMode: %v", err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if got := s.Load(); !reflect.DeepEqual(got, DefaultState()) {
		t.Errorf("after reset: got %+v, want defaults", got)
	}
	if got := s.LastOpenedURL(); got != "" {
		t.Errorf("last opened url survived reset: %q", got)
	}
}

func TestParseAppMode(t *testing.T) {
	for _, m := range []AppMode{ModeUndefined, ModeWebView, ModeGame} {
		got, ok := ParseAppMode(string(m))
		if !ok || got != m {
			t.Errorf("ParseAppMode(%q) = %q, %v", m, got, ok)
		}
	}
	if _, ok := ParseAppMode("webView"); ok {
		t.Error("mode names are case sensitive")
	}
}
