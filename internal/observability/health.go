package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker manages liveness and readiness state for the probe
// endpoints: /healthz (liveness) and /readyz (readiness).
type HealthChecker struct {
	mu        sync.Mutex
	ready     bool
	reason    string
	startTime time.Time
}

// NewHealthChecker creates a health checker in the not-ready state.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		reason:    "starting",
		startTime: time.Now(),
	}
}

// SetReady marks the service ready to accept traffic.
func (h *HealthChecker) SetReady() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = true
	h.reason = ""
}

// SetNotReady marks the service not ready, with an operator-visible reason.
func (h *HealthChecker) SetNotReady(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = false
	h.reason = reason
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// LivenessHandler returns 200 whenever the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 only after migrations ran, the stores are
// reachable, and startup recovery finished; 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	ready, reason := h.ready, h.reason
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if ready {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "ready"})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "not_ready",
		"reason": reason,
	})
}
