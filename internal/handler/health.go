package handler

import (
	"net/http"

	"github.com/eva-ai/platform/internal/apiclient"
	"github.com/eva-ai/platform/internal/events"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	backend   *apiclient.Client
	publisher *events.Publisher
}

// NewHealthHandler creates a new health handler. The publisher is
// optional.
func NewHealthHandler(backend *apiclient.Client, publisher *events.Publisher) *HealthHandler {
	return &HealthHandler{
		backend:   backend,
		publisher: publisher,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.backend != nil && h.backend.IsOffline() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "backend unreachable",
		})
		return
	}

	if h.publisher != nil && !h.publisher.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
