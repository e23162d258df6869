// Package observability provides OpenTelemetry metrics with a Prometheus
// exporter for the appgate config endpoint.
package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Module holds the OTel MeterProvider and the Prometheus registry it
// exports into.
type Module struct {
	provider *sdkmetric.MeterProvider
	meter    otelmetric.Meter
	registry *prometheus.Registry
	metrics  *Metrics
}

// New configures a Prometheus exporter backed by a private registry,
// installs the MeterProvider globally and creates the appgate instruments
// under the serviceName scope.
func New(serviceName string) (*Module, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	metrics, err := NewMetrics(meter)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}

	return &Module{
		provider: provider,
		meter:    meter,
		registry: registry,
		metrics:  metrics,
	}, nil
}

// Shutdown flushes and stops the MeterProvider.
func (m *Module) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// MetricsHandler serves the registry in the Prometheus exposition format.
// Mount this at "/metrics".
func (m *Module) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Meter returns the OTel Meter for creating additional instruments.
func (m *Module) Meter() otelmetric.Meter {
	return m.meter
}

// Metrics returns the shared appgate instruments.
func (m *Module) Metrics() *Metrics {
	return m.metrics
}
