package handler

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/eva-ai/platform/internal/history"
	"github.com/eva-ai/platform/pkg/logger"
)

// HistoryHandler handles whole-store history endpoints.
type HistoryHandler struct {
	history *history.Service
	logger  *logger.Logger
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(svc *history.Service, log *logger.Logger) *HistoryHandler {
	return &HistoryHandler{
		history: svc,
		logger:  log,
	}
}

// Export handles GET /api/v1/history/export
func (h *HistoryHandler) Export(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["id"]

	data, err := h.history.ExportConversations(ids)
	if err != nil {
		h.logger.Error("failed to export history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export history")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="eva-chat-history.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Import handles POST /api/v1/history/import
func (h *HistoryHandler) Import(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	count, err := h.history.ImportConversations(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid import payload")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"imported": count})
}

// Clear handles DELETE /api/v1/history
func (h *HistoryHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.history.ClearAllHistory()
	w.WriteHeader(http.StatusNoContent)
}
