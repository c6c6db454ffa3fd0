package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eva-ai/platform/internal/apiclient"
	"github.com/eva-ai/platform/pkg/logger"
)

// BackendHandler proxies read requests to the upstream backend through
// the retrying client, so dashboard data flows through the full
// interceptor pipeline.
type BackendHandler struct {
	client *apiclient.Client
	logger *logger.Logger
}

// NewBackendHandler creates a new backend proxy handler.
func NewBackendHandler(client *apiclient.Client, log *logger.Logger) *BackendHandler {
	return &BackendHandler{
		client: client,
		logger: log,
	}
}

// Proxy handles GET /api/v1/backend/*
func (h *BackendHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")

	res := h.client.Get(r.Context(), path, r.URL.Query())
	if res.Success {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(res.Status)
		w.Write(res.Data)
		return
	}

	var netErr *apiclient.NetworkError
	if errors.As(res.Err, &netErr) {
		writeError(w, http.StatusServiceUnavailable, res.Err.Error())
		return
	}

	status := res.Status
	if status == 0 {
		status = http.StatusBadGateway
	}
	writeError(w, status, res.Err.Error())
}
