package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"storegate/internal/models"
)

// ListBlocks handles blocklist requests
// GET /admin/blocks
func (h *Handlers) ListBlocks(w http.ResponseWriter, r *http.Request) {
	records := h.limiter.Blocks()

	blocks := make([]models.BlockInfo, 0, len(records))
	for _, rec := range records {
		blocks = append(blocks, models.BlockInfo{
			IP:             rec.IP,
			Reason:         rec.Reason,
			BlockedUntil:   rec.Until,
			ViolationCount: rec.ViolationCount,
		})
	}

	h.writeJSONResponse(w, http.StatusOK, models.ListBlocksResponse{
		Blocks:     blocks,
		TotalCount: len(blocks),
	})
}

// UnblockIP handles operator unblock requests
// DELETE /admin/blocks/{ip}
func (h *Handlers) UnblockIP(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ip := vars["ip"]

	if !h.limiter.Unblock(ip) {
		h.writeErrorResponse(w, r, http.StatusNotFound, models.ErrorCodeNotFound,
			"No active block for this IP")
		return
	}

	// Best effort: the in-memory unblock already took effect.
	if err := h.store.DeleteBlock(r.Context(), ip); err != nil {
		h.writeErrorResponse(w, r, http.StatusInternalServerError, models.ErrorCodeInternalError,
			"Block lifted but could not be removed from the audit store")
		return
	}

	h.recordAuditEvent(r, models.EventIPUnblocked, ip, "unblocked by operator")

	h.writeJSONResponse(w, http.StatusOK, models.UnblockResponse{
		IP:      ip,
		Message: "Block removed",
	})
}

// GetBreakerStatus handles circuit breaker status requests
// GET /admin/breaker
func (h *Handlers) GetBreakerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.breaker.Snapshot())
}

// GetAdmissionMetrics handles rate limiter metrics requests
// GET /admin/ratelimit/metrics
func (h *Handlers) GetAdmissionMetrics(w http.ResponseWriter, r *http.Request) {
	m := h.limiter.Metrics()

	h.writeJSONResponse(w, http.StatusOK, models.AdmissionMetricsResponse{
		TrackedKeys:   m.TrackedKeys,
		BlockedIPs:    m.BlockedIPs,
		SuspiciousIPs: m.SuspiciousIPs,
		Events:        m.Events,
		Timestamp:     time.Now().UTC(),
	})
}

// ListEvents handles audit trail requests
// GET /admin/events?since=<RFC3339>&limit=<n>
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if sinceParam := r.URL.Query().Get("since"); sinceParam != "" {
		parsed, err := time.Parse(time.RFC3339, sinceParam)
		if err != nil {
			h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest,
				"Invalid 'since' parameter, expected RFC3339 timestamp")
			return
		}
		since = parsed
	}

	limit := 0
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n < 0 {
			h.writeErrorResponse(w, r, http.StatusBadRequest, models.ErrorCodeBadRequest,
				"Invalid 'limit' parameter")
			return
		}
		limit = n
	}

	events, err := h.store.Events(r.Context(), since, limit)
	if err != nil {
		h.writeErrorResponse(w, r, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable,
			"Audit store unavailable")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, models.ListEventsResponse{
		Events:     events,
		TotalCount: len(events),
	})
}
