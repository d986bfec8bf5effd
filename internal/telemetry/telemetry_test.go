package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

func TestTelemetry_ExposesRecordedCounters(t *testing.T) {
	tel, err := NewTelemetry(zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = tel.Shutdown(context.Background()) }()

	tel.Instruments.UniqueURLsCreated.Add(context.Background(), 3,
		metric.WithAttributes(attribute.String("status", "pending")))

	w := httptest.NewRecorder()
	tel.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "shopwatch_unique_urls_created_total")
}

func TestNewNoop_InstrumentsUsable(t *testing.T) {
	tel := NewNoop()
	require.NotNil(t, tel.Instruments)
	tel.Instruments.ListingsIngested.Add(context.Background(), 1)
	require.NoError(t, tel.Shutdown(context.Background()))
}
