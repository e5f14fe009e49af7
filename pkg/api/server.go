// Package api assembles the gateway's HTTP surface: the CDN routes, the
// registry mirror, the WinGet source, docs, health, and metrics.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/funish/nexus/pkg/cdn"
	"github.com/funish/nexus/pkg/config"
	"github.com/funish/nexus/pkg/docs"
	"github.com/funish/nexus/pkg/esm"
	"github.com/funish/nexus/pkg/httputil"
	"github.com/funish/nexus/pkg/middleware"
	"github.com/funish/nexus/pkg/mirror"
	"github.com/funish/nexus/pkg/observability"
	"github.com/funish/nexus/pkg/pkgcache"
	"github.com/funish/nexus/pkg/resolver"
	"github.com/funish/nexus/pkg/storage"
	"github.com/funish/nexus/pkg/upstream"
	"github.com/funish/nexus/pkg/winget"
)

// Server wires every handler onto one router behind the shared middleware
// chain.
type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  *observability.Logger
	metrics *observability.Metrics

	kv     storage.KV
	client *upstream.Client
	cache  *pkgcache.Cache
}

// NewServer builds the full gateway from configuration.
func NewServer(cfg *config.Config, kv storage.KV, logger *observability.Logger) *Server {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	kv = storage.Instrument(kv, metrics.StorageOperationsTotal, metrics.StorageErrorsTotal)

	client := upstream.NewClient(upstream.Options{
		GitHubToken:     cfg.Upstream.GitHubToken,
		MetadataTimeout: cfg.Upstream.MetadataTimeout,
		TarballTimeout:  cfg.Upstream.TarballTimeout,
		CacheSize:       cfg.Upstream.MetadataCacheSize,
		CacheTTL:        cfg.Upstream.MetadataCacheTTL,
		Metrics:         metrics,
	})

	cache := pkgcache.New(kv, client, metrics)

	s := &Server{
		// SkipClean keeps doubled slashes intact; mirror paths carry
		// upstream URLs verbatim and must not be rewritten.
		router:  mux.NewRouter().SkipClean(true),
		logger:  logger,
		metrics: metrics,
		kv:      kv,
		client:  client,
		cache:   cache,
	}

	s.setupRoutes(cfg)

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.CORSMiddleware,
	}
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{
			RequestsPerWindow: cfg.Server.RateLimitPerMinute,
			WindowDuration:    time.Minute,
			BurstSize:         cfg.Server.RateLimitBurst,
		})
		middlewares = append(middlewares, middleware.RateLimit(limiter))
	}
	s.handler = httputil.Chain(middlewares...)(s.router)
	return s
}

// setupRoutes configures all the gateway routes
func (s *Server) setupRoutes(cfg *config.Config) {
	res := resolver.New(s.client)
	bundler := esm.New(s.cache)
	cdnHandler := cdn.NewHandler(s.cache, s.kv, res, s.client, bundler)
	cdnHandler.RegisterRoutes(s.router)

	owner, repo, _ := strings.Cut(cfg.Upstream.WinGetRepo, "/")
	index := winget.NewIndex(s.kv, s.client, s.metrics, owner, repo, cfg.Upstream.WinGetBranch)
	winget.NewHandler(index).RegisterRoutes(s.router)

	proxy := mirror.New()
	s.router.PathPrefix("/mirror/").HandlerFunc(proxy.Handle)

	docs.NewHandlers().RegisterRoutes(s.router)

	health := observability.NewHealthChecker(s.kv)
	s.router.HandleFunc("/health", health.Readiness).Methods("GET")
	s.router.HandleFunc("/health/live", health.Liveness).Methods("GET")

	if cfg.Observability.MetricsEnabled {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
