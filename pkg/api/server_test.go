package api

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funish/nexus/pkg/config"
	"github.com/funish/nexus/pkg/mirror"
	"github.com/funish/nexus/pkg/observability"
	"github.com/funish/nexus/pkg/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "0"},
		Storage: storage.Config{
			Type: "memory",
		},
		Upstream: config.UpstreamConfig{
			WinGetRepo:       "microsoft/winget-pkgs",
			WinGetBranch:     "master",
			MetadataCacheTTL: time.Minute,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:       observability.ErrorLevel,
			MetricsEnabled: true,
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewServer(testConfig(), storage.NewMemoryKV(), logger)
}

func do(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RequestURI = target
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var status observability.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, observability.StatusHealthy, status.Status)
	assert.Contains(t, status.Dependencies, "storage")
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.MetricsEnabled = false
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	srv := NewServer(cfg, storage.NewMemoryKV(), logger)

	rec := do(t, srv, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDocsRoutes(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/_docs/openapi.json")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/_docs/swagger")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/health/live")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodOptions, "/cdn/npm/uikit")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMirrorUnknownRegistry(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/mirror/not-a-registry/some/path")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMirrorPreservesDoubledSlashes(t *testing.T) {
	var gotURI string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.RequestURI
	}))
	defer up.Close()

	old := mirror.Registries["npm"]
	mirror.Registries["npm"] = up.URL
	defer func() { mirror.Registries["npm"] = old }()

	srv := newTestServer(t)

	// SkipClean on the router must keep // intact end to end.
	rec := do(t, srv, http.MethodGet, "/mirror/npm/a//b")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/a//b", gotURI)
}

func TestCDNRouteEndToEnd(t *testing.T) {
	files := map[string]string{
		"package.json": `{"name":"left-pad","main":"index.js"}`,
		"index.js":     "module.exports = pad;",
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "package/" + name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(body)),
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	var reg *httptest.Server
	regMux := http.NewServeMux()
	regMux.HandleFunc("/left-pad", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"name":      "left-pad",
			"dist-tags": map[string]string{"latest": "1.3.0"},
			"versions": map[string]interface{}{
				"1.3.0": map[string]interface{}{
					"version": "1.3.0",
					"main":    "index.js",
					"dist":    map[string]string{"tarball": reg.URL + "/left-pad.tgz"},
				},
			},
		})
	})
	regMux.HandleFunc("/left-pad.tgz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	})
	reg = httptest.NewServer(regMux)
	defer reg.Close()

	srv := newTestServer(t)
	srv.client.NPMRegistry = reg.URL

	rec := do(t, srv, http.MethodGet, "/cdn/npm/left-pad@1.3.0/index.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "module.exports = pad;", rec.Body.String())
	assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))
}

func TestRateLimitWiredWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Server.RateLimitPerMinute = 1
	cfg.Server.RateLimitBurst = 0
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	srv := NewServer(cfg, storage.NewMemoryKV(), logger)

	rec := do(t, srv, http.MethodGet, "/health/live")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/health/live")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestUnknownRouteIs404(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/no/such/route")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
