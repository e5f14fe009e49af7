package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Package cache metrics
	CacheHitsTotal     *prometheus.CounterVec
	CacheMissesTotal   *prometheus.CounterVec
	WarmupsTotal       *prometheus.CounterVec
	WarmupDuration     *prometheus.HistogramVec
	WarmupFilesWritten prometheus.Counter

	// Upstream metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec

	// Storage metrics
	StorageOperationsTotal *prometheus.CounterVec
	StorageErrorsTotal     *prometheus.CounterVec

	// WinGet index metrics
	WinGetRebuildsTotal   *prometheus.CounterVec
	WinGetRebuildDuration prometheus.Histogram
	WinGetIndexPackages   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_cache_hits_total",
				Help: "File requests served from the storage back-end",
			},
			[]string{"ecosystem"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_cache_misses_total",
				Help: "File requests that required an upstream pull",
			},
			[]string{"ecosystem"},
		),
		WarmupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_warmups_total",
				Help: "Background package hydrations by outcome",
			},
			[]string{"ecosystem", "outcome"},
		),
		WarmupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_warmup_duration_seconds",
				Help:    "Background package hydration duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"ecosystem"},
		),
		WarmupFilesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "nexus_warmup_files_written_total",
				Help: "Files persisted during background hydration",
			},
		),
		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_upstream_requests_total",
				Help: "Upstream registry requests by host and status",
			},
			[]string{"host", "status"},
		),
		UpstreamRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_upstream_request_duration_seconds",
				Help:    "Upstream registry request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"host"},
		),
		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_storage_operations_total",
				Help: "Storage back-end operations by type",
			},
			[]string{"operation"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_storage_errors_total",
				Help: "Storage back-end transport failures by operation",
			},
			[]string{"operation"},
		),
		WinGetRebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_winget_rebuilds_total",
				Help: "WinGet index rebuilds by outcome",
			},
			[]string{"outcome"},
		),
		WinGetRebuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nexus_winget_rebuild_duration_seconds",
				Help:    "WinGet index rebuild duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		WinGetIndexPackages: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "nexus_winget_index_packages",
				Help: "Number of packages in the current WinGet index",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.WarmupsTotal,
		m.WarmupDuration,
		m.WarmupFilesWritten,
		m.UpstreamRequestsTotal,
		m.UpstreamRequestDuration,
		m.StorageOperationsTotal,
		m.StorageErrorsTotal,
		m.WinGetRebuildsTotal,
		m.WinGetRebuildDuration,
		m.WinGetIndexPackages,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request metrics. The route
// label is the mux route template, not the raw path, to bound cardinality.
func (m *Metrics) InstrumentHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
		m.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rec.written))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)
	return n, err
}
