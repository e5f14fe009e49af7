package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	require.NotNil(t, m)

	m.CacheHitsTotal.WithLabelValues("npm").Inc()
	m.WarmupFilesWritten.Add(3)
	m.WinGetIndexPackages.Set(42)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.CacheHitsTotal.WithLabelValues("npm").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nexus_cache_hits_total")
}

func TestInstrumentHandler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	wrapped := m.InstrumentHandler("/cdn/npm/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cdn/npm/x", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metricsRec.Body.String()
	assert.Contains(t, body, `nexus_http_requests_total{method="GET",route="/cdn/npm/",status="404"} 1`)
}
