package configsvc

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/config", nil)
	req.RemoteAddr = ip + ":40000"
	return req
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	mw := RateLimit(RateLimitConfig{Enabled: true, RequestsPerSecond: 100, BurstSize: 100}, nil)(okHandler)

	for i := range 10 {
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, requestFrom("10.0.0.1"))
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
}

func TestRateLimit_BlocksOverLimit(t *testing.T) {
	mw := RateLimit(RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 1}, nil)(okHandler)

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, requestFrom("10.0.0.1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, requestFrom("10.0.0.1"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"ok":false,"message":"rate limit exceeded"}`, rec.Body.String())
}

func TestRateLimit_ClientsIndependent(t *testing.T) {
	mw := RateLimit(RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 1}, nil)(okHandler)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, requestFrom(ip))
		assert.Equal(t, http.StatusOK, rec.Code, ip)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	mw := RateLimit(RateLimitConfig{Enabled: false, RequestsPerSecond: 1, BurstSize: 1}, nil)(okHandler)

	for range 5 {
		rec := httptest.NewRecorder()
		mw.ServeHTTP(rec, requestFrom("10.0.0.1"))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestClientLimiter_SweepsIdleBuckets(t *testing.T) {
	l := newClientLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	l.allow("a")
	l.allow("b")
	require.Equal(t, 2, l.size())

	now = now.Add(2 * time.Minute)
	l.allow("c")
	assert.Equal(t, 1, l.size())
}

func TestBodySizeLimit(t *testing.T) {
	read := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mw := BodySizeLimit(100)(read)

	tests := []struct {
		name string
		size int
		want int
	}{
		{"under", 50, http.StatusOK},
		{"exact", 100, http.StatusOK},
		{"over", 101, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/config", bytes.NewReader(bytes.Repeat([]byte("a"), tt.size)))
			rec := httptest.NewRecorder()
			mw.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	mw := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-id-1")
	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	assert.Equal(t, "client-id-1", seen)
	assert.Equal(t, "client-id-1", rec.Header().Get(RequestIDHeader))
}
