// Package health exposes liveness and readiness over HTTP and keeps the
// standard gRPC health service in step with readiness.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthCheck tracks whether the process should receive traffic.
type HealthCheck struct {
	isReady  atomic.Bool
	grpc     *health.Server
	services []string
}

// NewHealthCheck returns a HealthCheck that starts not ready. Readiness is
// mirrored to the overall ("") status of srv and to each named service.
// srv may be nil.
func NewHealthCheck(srv *health.Server, services ...string) *HealthCheck {
	h := &HealthCheck{grpc: srv, services: services}
	h.SetReady(false)
	return h
}

// HealthHandler always reports healthy while the process can serve HTTP.
func (h *HealthCheck) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, "healthy")
}

// ReadyHandler reports 503 until SetReady(true).
func (h *HealthCheck) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if !h.isReady.Load() {
		writeStatus(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

// SetReady marks the service as ready to receive traffic
func (h *HealthCheck) SetReady(ready bool) {
	h.isReady.Store(ready)
	if h.grpc == nil {
		return
	}

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.grpc.SetServingStatus("", status)
	for _, svc := range h.services {
		h.grpc.SetServingStatus(svc, status)
	}
}

// Ready reports the current readiness.
func (h *HealthCheck) Ready() bool {
	return h.isReady.Load()
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
