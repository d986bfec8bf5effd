package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

const meterName = "github.com/shaibs3/shopwatch"

// Instruments are the counters and histograms shared by the pipeline components
type Instruments struct {
	ListingsIngested   metric.Int64Counter
	UniqueURLsCreated  metric.Int64Counter
	RegistryConflicts  metric.Int64Counter
	KeywordFailures    metric.Int64Counter
	CompetitorsCreated metric.Int64Counter
	PagesFetched       metric.Int64Counter
	HTTPRequests       metric.Int64Counter
	HTTPDuration       metric.Float64Histogram
}

// Telemetry owns the meter provider and the Prometheus registry it exports to
type Telemetry struct {
	Meter       metric.Meter
	Instruments *Instruments
	registry    *prometheus.Registry
	provider    *sdkmetric.MeterProvider
	logger      *zap.Logger
}

// NewTelemetry builds an otel meter exported through a dedicated Prometheus registry
func NewTelemetry(logger *zap.Logger) (*Telemetry, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(meterName)

	instruments, err := NewInstruments(meter)
	if err != nil {
		return nil, err
	}

	logger.Named("telemetry").Info("telemetry initialized")
	return &Telemetry{
		Meter:       meter,
		Instruments: instruments,
		registry:    registry,
		provider:    provider,
		logger:      logger.Named("telemetry"),
	}, nil
}

// NewNoop returns telemetry whose instruments record nothing. Used by tests and CLI commands.
func NewNoop() *Telemetry {
	meter := noop.NewMeterProvider().Meter(meterName)
	instruments, _ := NewInstruments(meter)
	return &Telemetry{
		Meter:       meter,
		Instruments: instruments,
		registry:    prometheus.NewRegistry(),
		logger:      zap.NewNop(),
	}
}

// NewInstruments creates the shared instruments on meter
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&in.ListingsIngested, "shopwatch_listings_ingested_total", "Ranking results persisted"},
		{&in.UniqueURLsCreated, "shopwatch_unique_urls_created_total", "Unique URL rows created"},
		{&in.RegistryConflicts, "shopwatch_registry_conflicts_total", "Unique URL inserts recovered after a uniqueness conflict"},
		{&in.KeywordFailures, "shopwatch_keyword_failures_total", "Keywords whose ingestion failed"},
		{&in.CompetitorsCreated, "shopwatch_competitors_created_total", "Competitors created by detection"},
		{&in.PagesFetched, "shopwatch_pages_fetched_total", "Product pages fetched, by outcome"},
		{&in.HTTPRequests, "shopwatch_http_requests_total", "HTTP requests served"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
	}

	in.HTTPDuration, err = meter.Float64Histogram(
		"shopwatch_http_request_duration_seconds",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	return &in, nil
}

// Handler serves the Prometheus exposition of all recorded metrics
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
