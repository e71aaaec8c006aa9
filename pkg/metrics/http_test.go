package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsGroupByRouteAndStatusClass(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.Observe("/api/loaders/orders/{orderId}/complete", http.MethodPost, http.StatusOK, 30*time.Millisecond)
	m.Observe("/api/loaders/orders/{orderId}/complete", http.MethodPost, http.StatusUnprocessableEntity, 10*time.Millisecond)
	m.Observe("/api/loaders/orders/{orderId}/complete", http.MethodPost, http.StatusConflict, 10*time.Millisecond)
	m.Observe("", http.MethodGet, http.StatusNotFound, time.Millisecond)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	fam := findMetricFamily(mfs, "escrow_http_requests_total")
	require.NotNil(t, fam)

	byStatus := map[string]float64{}
	for _, metric := range fam.GetMetric() {
		if matchesLabel(metric.GetLabel(), "route", "/api/loaders/orders/{orderId}/complete") {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "status" {
					byStatus[l.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	require.Equal(t, map[string]float64{"2xx": 1, "4xx": 2}, byStatus)

	got, err := fetchCounterValue(mfs, "escrow_http_requests_total", "route", "unknown")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	sum, err := fetchHistogramSum(mfs, "escrow_http_request_duration_seconds", "route", "/api/loaders/orders/{orderId}/complete")
	require.NoError(t, err)
	require.InDelta(t, 0.05, sum, 1e-9)
}

func TestNilHTTPMetricsAreSafe(t *testing.T) {
	var m *HTTPMetrics
	m.Observe("/health/live", http.MethodGet, http.StatusOK, time.Millisecond)
	NewHTTPMetrics(nil).Observe("/health/live", http.MethodGet, http.StatusOK, time.Millisecond)
}
