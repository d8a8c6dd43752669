package api

import (
	"net/http"
)

// HealthCheck reports liveness plus the most recent poll activity.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	var poller interface{}
	if h.tracker != nil {
		ph := h.tracker.Health()
		if ph.LastError != nil && *ph.LastError != "" {
			status = "degraded"
		}
		poller = ph
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"poller": poller,
	})
}
