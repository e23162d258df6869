package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminServer_Health(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("archive_messages_total 0\n"))
	})
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("bucket gone") }

	healthy := adminServer(":0", metrics, ok, ok).Handler
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "archive_messages_total")

	unhealthy := adminServer(":0", metrics, ok, down).Handler
	rec = httptest.NewRecorder()
	unhealthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "bucket gone")
}

func TestRun_RequiresNATS(t *testing.T) {
	err := run(Config{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NATS_URL")
}
