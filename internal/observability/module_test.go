package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

func scrape(t *testing.T, m *Module) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestModule_ExportsDecisionCounter(t *testing.T) {
	m, err := New("appgate-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	m.Metrics().Decisions.Add(context.Background(), 3,
		otelmetric.WithAttributes(attribute.String("outcome", "webview")))

	body := scrape(t, m)
	assert.Contains(t, body, "appgate_decisions")
	assert.Contains(t, body, `outcome="webview"`)
}

func TestHTTPMetrics_RecordsRoutePattern(t *testing.T) {
	m, err := New("appgate-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	r := chi.NewRouter()
	r.Use(HTTPMetrics(m.Metrics()))
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, path := range []string{"/items/1", "/items/2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	body := scrape(t, m)
	assert.Contains(t, body, `path="/items/{id}"`)
	assert.NotContains(t, body, `path="/items/1"`)
	assert.Contains(t, body, "http_request_errors")
}

func TestHTTPMetrics_NilMetricsPassesThrough(t *testing.T) {
	called := false
	h := HTTPMetrics(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
