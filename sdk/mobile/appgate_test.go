package mobile

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testTimeout = 3 * time.Second

// fakePlatform implements Platform. StartAttribution delivers conversion
// data synchronously, the way a native SDK with cached data would.
type fakePlatform struct {
	conversion string
	uid        string
	status     atomic.Int32
}

func (p *fakePlatform) RequestTrackingAuthorization() bool { return true }

func (p *fakePlatform) StartAttribution() {
	if p.conversion == "" {
		OnConversionDataFail("attribution unavailable")
		return
	}
	OnConversionData(p.conversion)
}

func (p *fakePlatform) AttributionID() string { return p.uid }

func (p *fakePlatform) NotificationAuthorizationStatus() int { return int(p.status.Load()) }

// configServer is a scripted config endpoint.
type configServer struct {
	*httptest.Server

	mu     sync.Mutex
	bodies []map[string]any
	hits   atomic.Int32
}

func newConfigServer(t *testing.T, respond func(hit int) (int, string)) *configServer {
	t.Helper()
	cs := &configServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		cs.mu.Lock()
		cs.bodies = append(cs.bodies, body)
		cs.mu.Unlock()

		status, payload := respond(int(cs.hits.Add(1)))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *configServer) body(i int) map[string]any {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.bodies[i]
}

func okResponse(url string, expires time.Time) string {
	return fmt.Sprintf(`{"ok":true,"url":%q,"expires":%d}`, url, expires.Unix())
}

func testConfigJSON(endpoint, dataPath string) string {
	cfg := map[string]any{
		"endpoint":              endpoint,
		"bundle_id":             "com.example.app",
		"push_token_timeout_ms": 50,
		"conversion_timeout_ms": 2000,
		"recheck_delay_ms":      10,
		"request_timeout_ms":    2000,
		"max_fetch_retries":     0,
		"debug_mode":            true,
	}
	if dataPath != "" {
		cfg["data_path"] = dataPath
	}
	data, _ := json.Marshal(cfg)
	return string(data)
}

// startSDK initializes the SDK against endpoint and registers recorders.
func startSDK(t *testing.T, endpoint, dataPath string, platform *fakePlatform) (*modeRecorder, *mockCallback) {
	t.Helper()
	if res := Init(testConfigJSON(endpoint, dataPath)); res != "" {
		t.Fatalf("Init: %s", res)
	}
	t.Cleanup(resetForTesting)

	modes := newModeRecorder()
	errs := newMockCallback()
	RegisterModeCallback(modes)
	RegisterErrorCallback(errs)
	if platform != nil {
		if res := RegisterPlatform(platform); res != "" {
			t.Fatalf("RegisterPlatform: %s", res)
		}
	}
	SetPlatformContext("ios", "17.2", "iPhone15,2", "en_US")
	return modes, errs
}

func TestInit_ValidConfig(t *testing.T) {
	resetForTesting()
	defer resetForTesting()

	if res := Init(testConfigJSON("https://config.example.com", "")); res != "" {
		t.Fatalf("Init returned error: %s", res)
	}
	if !IsInitialized() {
		t.Error("IsInitialized() = false after Init")
	}
	if GetMode() != "undefined" {
		t.Errorf("GetMode() = %q on a fresh install", GetMode())
	}
}

func TestInit_InvalidConfig(t *testing.T) {
	resetForTesting()
	defer resetForTesting()

	errs := newMockCallback()
	RegisterErrorCallback(errs)

	res := Init(`{"endpoint": ""}`)
	if !strings.Contains(res, "endpoint is required") {
		t.Errorf("Init = %q", res)
	}
	if IsInitialized() {
		t.Error("IsInitialized() = true after failed Init")
	}
	if !errs.waitForCalls(1, time.Second) || errs.getCalls()[0].Code != ErrCodeInvalidConfig {
		t.Error("expected INVALID_CONFIG callback")
	}
}

func TestFunctions_NotInitialized(t *testing.T) {
	resetForTesting()

	for name, fn := range map[string]func() string{
		"Start":         Start,
		"Retry":         Retry,
		"DeleteProfile": DeleteProfile,
		"OnPushToken":   func() string { return OnPushToken("t") },
		"OnPageLoaded":  func() string { return OnPageLoaded("https://x.example") },
	} {
		if res := fn(); !strings.Contains(res, "not initialized") {
			t.Errorf("%s() = %q, want not-initialized error", name, res)
		}
	}

	if GetMode() != "undefined" || GetURL() != "" || HandleNotification(`{"url":"https://x"}`) != "" {
		t.Error("getters should return zero values before Init")
	}
	if ShouldShowNotificationPrompt() {
		t.Error("prompt should be suppressed before Init")
	}
}

func TestStart_ResolvesWebView(t *testing.T) {
	resetForTesting()
	srv := newConfigServer(t, func(int) (int, string) {
		return http.StatusOK, okResponse("https://landing.example/a", time.Now().Add(time.Hour))
	})
	platform := &fakePlatform{conversion: `{"af_status":"Non-organic","campaign":"spring"}`, uid: "af-1"}
	modes, _ := startSDK(t, srv.URL, "", platform)

	if res := OnPushToken("push-1"); res != "" {
		t.Fatalf("OnPushToken: %s", res)
	}
	if res := Start(); res != "" {
		t.Fatalf("Start: %s", res)
	}

	got := modes.next(t, testTimeout)
	if got.Mode != "webview" || got.URL != "https://landing.example/a" || got.Source != "server" {
		t.Fatalf("unexpected decision %+v", got)
	}
	if GetMode() != "webview" || GetURL() != "https://landing.example/a" {
		t.Errorf("GetMode/GetURL = %q/%q", GetMode(), GetURL())
	}
	if GetPhase() != "resolved" {
		t.Errorf("GetPhase() = %q", GetPhase())
	}

	body := srv.body(0)
	for k, want := range map[string]any{
		"af_status": "Non-organic", "campaign": "spring", "af_id": "af-1",
		"bundle_id": "com.example.app", "os": "iOS", "store_id": "com.example.app",
		"locale": "en", "push_token": "push-1",
	} {
		if body[k] != want {
			t.Errorf("body[%q] = %v, want %v", k, body[k], want)
		}
	}
}

func TestStart_WithoutPlatformStillResolves(t *testing.T) {
	resetForTesting()
	srv := newConfigServer(t, func(int) (int, string) {
		return http.StatusOK, okResponse("https://landing.example/a", time.Now().Add(time.Hour))
	})
	modes, _ := startSDK(t, srv.URL, "", nil)

	if res := OnConversionData(`{"af_status":"Non-organic"}`); res != "" {
		t.Fatalf("OnConversionData: %s", res)
	}
	if res := Start(); res != "" {
		t.Fatalf("Start: %s", res)
	}

	if got := modes.next(t, testTimeout); got.Mode != "webview" || got.Source != "server" {
		t.Fatalf("unexpected decision %+v", got)
	}
	if body := srv.body(0); body["af_status"] != "Non-organic" {
		t.Errorf("conversion data delivered before Start should be sent, got %v", body)
	}
}

func TestStart_ThrottledFirstLaunchReportsInitFailed(t *testing.T) {
	resetForTesting()
	srv := newConfigServer(t, func(int) (int, string) {
		return http.StatusTooManyRequests, `{"ok":false,"message":"rate limit exceeded"}`
	})
	_, errs := startSDK(t, srv.URL, "", &fakePlatform{conversion: `{"af_status":"Non-organic"}`})

	Start()

	if !errs.waitForCalls(1, testTimeout) {
		t.Fatal("expected INIT_FAILED")
	}
	if c := errs.getCalls()[0]; c.Code != ErrCodeInitFailed {
		t.Fatalf("unexpected error %+v", c)
	}
	if GetMode() != "undefined" {
		t.Errorf("throttled install must not be persisted, got mode %q", GetMode())
	}
}

func TestStart_RejectionResolvesGame(t *testing.T) {
	resetForTesting()
	srv := newConfigServer(t, func(int) (int, string) {
		return http.StatusNotFound, `{"ok":false,"message":"unknown bundle"}`
	})
	modes, _ := startSDK(t, srv.URL, "", &fakePlatform{conversion: `{"af_status":"Non-organic"}`})

	Start()

	got := modes.next(t, testTimeout)
	if got.Mode != "game" || got.URL != "" || got.Source != "rejected" {
		t.Fatalf("unexpected decision %+v", got)
	}
	if GetURL() != "" {
		t.Errorf("GetURL() = %q in game mode", GetURL())
	}
}

func TestStart_AttributionFailureStillResolves(t *testing.T) {
	resetForTesting()
	srv := newConfigServer(t, func(int) (int, string) {
		return http.StatusOK, okResponse("https://landing.example/organic", time.Now().Add(time.Hour))
	})
	modes, _ := startSDK(t, srv.URL, "", &fakePlatform{})

	Start()

	if got := modes.next(t, testTimeout); got.Mode != "webview" {
		t.Fatalf("unexpected decision %+v", got)
	}
	body := srv.body(0)
	if body["af_status"] != "Organic" || body["error_fallback"] != true || body["is_first_launch"] != true {
		t.Errorf("expected organic fallback body, got %v", body)
	}
}

func TestStart_OfflineFirstLaunchThenRetry(t *testing.T) {
	resetForTesting()
	srv := newConfigServer(t, func(int) (int, string) {
		return http.StatusOK, okResponse("https://landing.example/a", time.Now().Add(time.Hour))
	})
	modes, errs := startSDK(t, srv.URL, "", &fakePlatform{conversion: `{"af_status":"Non-organic"}`})

	SetNetworkAvailable(false)
	Start()

	if !errs.waitForCalls(1, testTimeout) {
		t.Fatal("expected INIT_FAILED")
	}
	if c := errs.getCalls()[0]; c.Code != ErrCodeInitFailed || c.Severity != int(SeverityCritical) {
		t.Fatalf("unexpected error %+v", c)
	}
	if GetMode() != "undefined" {
		t.Fatalf("mode should stay undefined, got %q", GetMode())
	}
	if srv.hits.Load() != 0 {
		t.Fatal("offline fetch must not reach the server")
	}

	SetNetworkAvailable(true)
	Retry()

	if got := modes.next(t, testTimeout); got.Mode != "webview" {
		t.Fatalf("retry should resolve webview, got %+v", got)
	}
}

func TestStart_ServerErrorUsesLastOpenedPage(t *testing.T) {
	resetForTesting()
	srv := newConfigServer(t, func(int) (int, string) {
		return http.StatusInternalServerError, `{"ok":false}`
	})
	modes, _ := startSDK(t, srv.URL, "", &fakePlatform{conversion: `{"af_status":"Non-organic"}`})

	if res := OnPageLoaded("https://landing.example/last"); res != "" {
		t.Fatalf("OnPageLoaded: %s", res)
	}
	Start()

	got := modes.next(t, testTimeout)
	if got.Mode != "webview" || got.URL != "https://landing.example/last" || got.Source != "last_opened" {
		t.Fatalf("unexpected decision %+v", got)
	}
}

func TestRelaunch_CachedThenRefreshed(t *testing.T) {
	resetForTesting()
	dir := t.TempDir()
	srv := newConfigServer(t, func(hit int) (int, string) {
		if hit == 1 {
			return http.StatusOK, okResponse("https://landing.example/old", time.Now().Add(-time.Minute))
		}
		return http.StatusOK, okResponse("https://landing.example/new", time.Now().Add(time.Hour))
	})
	platform := &fakePlatform{conversion: `{"af_status":"Non-organic","campaign":"spring"}`}

	modes, _ := startSDK(t, srv.URL, dir, platform)
	Start()
	if got := modes.next(t, testTimeout); got.URL != "https://landing.example/old" {
		t.Fatalf("first launch got %+v", got)
	}

	// Second process launch over the same data directory.
	resetForTesting()
	modes, _ = startSDK(t, srv.URL, dir, platform)
	Start()

	cached := modes.next(t, testTimeout)
	if cached.Source != "cached" || cached.URL != "https://landing.example/old" {
		t.Fatalf("expected cached decision first, got %+v", cached)
	}
	refreshed := modes.next(t, testTimeout)
	if refreshed.Source != "server" || refreshed.URL != "https://landing.example/new" || refreshed.Mode != "webview" {
		t.Fatalf("expected refreshed url, got %+v", refreshed)
	}
	if srv.body(1)["campaign"] != "spring" {
		t.Errorf("refresh should resend persisted conversion data, got %v", srv.body(1))
	}
	if GetURL() != "https://landing.example/new" {
		t.Errorf("GetURL() = %q", GetURL())
	}
}

func TestNotificationPrompt(t *testing.T) {
	resetForTesting()
	srv := newConfigServer(t, func(int) (int, string) {
		return http.StatusOK, okResponse("https://landing.example/a", time.Now().Add(time.Hour))
	})
	platform := &fakePlatform{conversion: `{"af_status":"Non-organic"}`}
	modes, _ := startSDK(t, srv.URL, "", platform)

	if ShouldShowNotificationPrompt() {
		t.Fatal("prompt must wait for webview mode")
	}

	Start()
	modes.next(t, testTimeout)

	if !ShouldShowNotificationPrompt() {
		t.Fatal("expected prompt in webview mode with undetermined permission")
	}
	if res := OnNotificationPromptDenied(); res != "" {
		t.Fatalf("OnNotificationPromptDenied: %s", res)
	}
	if ShouldShowNotificationPrompt() {
		t.Fatal("prompt must be suppressed right after a denial")
	}

	platform.status.Store(2)
	if ShouldShowNotificationPrompt() {
		t.Fatal("prompt must not show once authorized")
	}
}

func TestHandleNotification(t *testing.T) {
	resetForTesting()
	startSDK(t, "https://config.example.com", "", nil)

	if u := HandleNotification(`{"aps":{"alert":"hi","url":"https://promo.example"}}`); u != "https://promo.example" {
		t.Fatalf("HandleNotification = %q", u)
	}
	if u := HandleNotification(`{"aps":{"alert":"no url"}}`); u != "" {
		t.Fatalf("HandleNotification = %q", u)
	}
	if u := ConsumePendingURL(); u != "https://promo.example" {
		t.Fatalf("ConsumePendingURL = %q", u)
	}
	if u := ConsumePendingURL(); u != "" {
		t.Fatalf("pending url should be cleared, got %q", u)
	}
}

func TestDeleteProfile(t *testing.T) {
	resetForTesting()
	srv := newConfigServer(t, func(int) (int, string) {
		return http.StatusNotFound, `{"ok":false}`
	})
	modes, _ := startSDK(t, srv.URL, "", &fakePlatform{conversion: `{"af_status":"Non-organic"}`})

	Start()
	modes.next(t, testTimeout)
	if GetMode() != "game" {
		t.Fatalf("GetMode() = %q", GetMode())
	}

	if res := DeleteProfile(); res != "" {
		t.Fatalf("DeleteProfile: %s", res)
	}
	if GetMode() != "undefined" {
		t.Fatalf("GetMode() after delete = %q", GetMode())
	}
}

func TestOnConversionData_InvalidJSON(t *testing.T) {
	resetForTesting()
	startSDK(t, "https://config.example.com", "", nil)

	res := OnConversionData(`{not json`)
	if !strings.Contains(res, "invalid conversion data") {
		t.Fatalf("OnConversionData = %q", res)
	}
	if !getInstance().gateway.Delivered() {
		t.Fatal("invalid data should resolve attribution with the fallback")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	resetForTesting()
	if res := Init(testConfigJSON("https://config.example.com", "")); res != "" {
		t.Fatalf("Init: %s", res)
	}
	if res := Shutdown(); res != "" {
		t.Fatalf("Shutdown: %s", res)
	}
	if res := Shutdown(); res != "" {
		t.Fatalf("second Shutdown: %s", res)
	}
	if IsInitialized() {
		t.Fatal("IsInitialized() after Shutdown")
	}
}
