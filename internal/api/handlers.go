package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"storegate/internal/breaker"
	"storegate/internal/models"
	"storegate/internal/ratelimit"
	"storegate/internal/storage"
	"storegate/internal/version"
)

// Handlers contains HTTP handlers for the gateway API
type Handlers struct {
	store     storage.Store
	limiter   *ratelimit.SlidingWindow
	breaker   *breaker.Breaker
	version   version.Info
	startTime time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(store storage.Store, limiter *ratelimit.SlidingWindow, br *breaker.Breaker, ver version.Info) *Handlers {
	return &Handlers{
		store:     store,
		limiter:   limiter,
		breaker:   br,
		version:   ver,
		startTime: time.Now(),
	}
}

// HealthCheck handles health check requests
// GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.startTime).Round(time.Second).String()

	// The audit store is probed through the breaker so that a dead backend
	// does not stall health checks once the circuit has opened.
	if err := h.breaker.Execute(r.Context(), h.store.Ping); err != nil {
		response.Status = models.StatusDegraded
		response.AddComponent("storage", models.StatusUnhealthy, err.Error())
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Audit store is operational")
	}

	snap := h.breaker.Snapshot()
	breakerStatus := models.StatusHealthy
	if snap.State != "closed" {
		breakerStatus = models.StatusDegraded
	}
	response.AddComponent("breaker", breakerStatus, "Circuit "+snap.State)

	m := h.limiter.Metrics()
	response.AddComponent("admission", models.StatusHealthy, "Rate limiter is operational")
	response.AddMetric("tracked_keys", m.TrackedKeys)
	response.AddMetric("blocked_ips", m.BlockedIPs)

	status := http.StatusOK
	if response.Status != models.StatusHealthy {
		status = http.StatusServiceUnavailable
	}

	h.writeJSONResponse(w, status, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; log and move on.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// recordAuditEvent writes an operator-initiated audit event. Failures are
// logged, not surfaced: the admin action itself already succeeded.
func (h *Handlers) recordAuditEvent(r *http.Request, eventType, ip, detail string) {
	event := &models.AuditEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		IP:        ip,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.RecordEvent(r.Context(), event); err != nil {
		slog.Error("Failed to record audit event", "type", eventType, "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorCode, message string) {
	errorResp := models.NewErrorResponse(message, errorCode)
	errorResp.RequestID = RequestID(r)

	h.writeJSONResponse(w, statusCode, errorResp)
}
