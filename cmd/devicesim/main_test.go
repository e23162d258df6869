package main

import (
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/caarlos0/env/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SebastienMelki/appgate/internal/configsvc"
)

func newEndpoint(t *testing.T, vars map[string]string) *httptest.Server {
	t.Helper()
	var cfg configsvc.Config
	require.NoError(t, env.ParseWithOptions(&cfg, env.Options{Environment: vars}))

	decider, err := configsvc.NewDecider(cfg.Decision)
	require.NoError(t, err)
	svc := configsvc.NewDecisionService(decider, configsvc.ServiceOptions{}, slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(configsvc.NewServer(cfg, svc, configsvc.ServerOptions{}, slog.New(slog.DiscardHandler)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func simConfig(t *testing.T, endpoint string, vars map[string]string) Config {
	t.Helper()
	environment := map[string]string{
		"SIM_ENDPOINT":           endpoint + "/config",
		"SIM_BUNDLE_ID":          "com.example.app",
		"SIM_PUSH_TOKEN_TIMEOUT": "50ms",
		"SIM_CONVERSION_TIMEOUT": "2s",
		"SIM_RECHECK_DELAY":      "10ms",
		"SIM_TIMEOUT":            "10s",
	}
	for k, v := range vars {
		environment[k] = v
	}
	var cfg Config
	require.NoError(t, env.ParseWithOptions(&cfg, env.Options{Environment: environment}))
	return cfg
}

func TestSim_ResolvesWebview(t *testing.T) {
	srv := newEndpoint(t, map[string]string{
		"LANDING_URL_TEMPLATE": "https://land.example/{{ bundle_id }}?af={{ af_id }}",
	})
	cfg := simConfig(t, srv.URL, map[string]string{"SIM_PUSH_TOKEN": "tok-1"})

	res, err := run(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, "webview", res.Mode)
	assert.Equal(t, "https://land.example/com.example.app?af=sim-install", res.URL)
	assert.Equal(t, "server", res.Source)
}

func TestSim_UnknownBundleResolvesGame(t *testing.T) {
	srv := newEndpoint(t, map[string]string{"ALLOWED_BUNDLES": "com.other"})
	cfg := simConfig(t, srv.URL, nil)

	res, err := run(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, "game", res.Mode)
	assert.Empty(t, res.URL)
}

func TestSim_OrganicFallbackRejected(t *testing.T) {
	srv := newEndpoint(t, map[string]string{"ORGANIC_POLICY": "reject"})
	cfg := simConfig(t, srv.URL, map[string]string{"SIM_ATTRIBUTION_FAIL": "true"})

	res, err := run(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.Equal(t, "game", res.Mode)
}

func TestSim_UnreachableEndpointFails(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	cfg := simConfig(t, url, nil)
	_, err := run(cfg, slog.New(slog.DiscardHandler))
	assert.ErrorIs(t, err, ErrInitFailed)
}

func TestSim_ThrottledInstallIsNotLockedIntoGame(t *testing.T) {
	srv := newEndpoint(t, map[string]string{
		"RATE_LIMIT_REQUESTS_PER_SECOND": "0.001",
		"RATE_LIMIT_BURST_SIZE":          "1",
	})

	res, err := run(simConfig(t, srv.URL, nil), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.Equal(t, "webview", res.Mode)

	dataPath := t.TempDir()
	cfg := simConfig(t, srv.URL, map[string]string{"SIM_DATA_PATH": dataPath})

	_, err = run(cfg, slog.New(slog.DiscardHandler))
	require.ErrorIs(t, err, ErrInitFailed)

	// A persisted game decision would resolve from disk without asking the
	// server; a second throttled answer shows the install is still open.
	_, err = run(cfg, slog.New(slog.DiscardHandler))
	assert.ErrorIs(t, err, ErrInitFailed)
}

func TestSim_RequiresEndpoint(t *testing.T) {
	var cfg Config
	err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{"SIM_BUNDLE_ID": "x"}})
	assert.Error(t, err)
}
