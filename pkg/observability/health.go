package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/funish/nexus/pkg/storage"
)

// HealthChecker probes the storage back-end the gateway depends on.
type HealthChecker struct {
	kv storage.KV
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker(kv storage.KV) *HealthChecker {
	return &HealthChecker{kv: kv}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe (200 whenever the server is running).
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness probes the storage back-end with a short deadline. The gateway
// can still serve upstream-backed responses without storage, so a degraded
// back-end reports unhealthy but the process stays up.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus),
	}

	start := time.Now()
	_, err := h.kv.GetRaw(ctx, "health/probe")
	latency := time.Since(start).Milliseconds()

	dep := DependencyStatus{Status: StatusHealthy, LatencyMS: latency}
	if err != nil && err != storage.ErrNotFound {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
		status.Status = StatusUnhealthy
	}
	status.Dependencies["storage"] = dep

	code := http.StatusOK
	if status.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
