// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eva-ai/platform/internal/history"
	"github.com/eva-ai/platform/internal/middleware"
	"github.com/eva-ai/platform/internal/model"
	"github.com/eva-ai/platform/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	history *history.Service
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *history.Service, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		history: svc,
		logger:  log,
	}
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateTitle(req.Title); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateTags(req.Tags); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv := h.history.CreateConversation(req)
	writeJSON(w, http.StatusCreated, conv)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	convs := h.history.GetConversations(filter)
	writeJSON(w, http.StatusOK, model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
	})
}

// Get handles GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.history.GetConversation(conversationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Update handles PUT /api/v1/conversations/:id
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Title != nil {
		if err := middleware.ValidateTitle(*req.Title); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Tags != nil {
		if err := middleware.ValidateTags(*req.Tags); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	conv, err := h.history.UpdateConversation(conversationID, req)
	if err != nil {
		if errors.Is(err, history.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to update conversation")
		writeError(w, http.StatusInternalServerError, "failed to update conversation")
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /api/v1/conversations/:id
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.history.DeleteConversation(conversationID)
	w.WriteHeader(http.StatusNoContent)
}

// BulkDelete handles POST /api/v1/conversations/bulk-delete
func (h *ConversationHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.history.DeleteConversations(req.IDs)
	w.WriteHeader(http.StatusNoContent)
}

// Statistics handles GET /api/v1/conversations/statistics
func (h *ConversationHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.history.GetStatistics())
}

// Search handles GET /api/v1/conversations/search
func (h *ConversationHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}

	opts := &history.SearchOptions{
		ConversationID: r.URL.Query().Get("conversation_id"),
		AgentID:        r.URL.Query().Get("agent_id"),
	}
	if from, err := parseTimeParam(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	} else {
		opts.From = from
	}
	if to, err := parseTimeParam(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	} else {
		opts.To = to
	}

	results := h.history.SearchMessages(query, opts)
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"total":   len(results),
	})
}

func filterFromQuery(r *http.Request) (*model.ConversationFilter, error) {
	q := r.URL.Query()
	filter := &model.ConversationFilter{
		AgentIDs:      q["agent_id"],
		CustomerID:    q.Get("customer_id"),
		TransactionID: q.Get("transaction_id"),
		Search:        q.Get("q"),
		Tags:          q["tag"],
	}

	from, err := parseTimeParam(r, "from")
	if err != nil {
		return nil, err
	}
	filter.From = from

	to, err := parseTimeParam(r, "to")
	if err != nil {
		return nil, err
	}
	filter.To = to

	if starred := q.Get("starred"); starred != "" {
		v := starred == "true"
		filter.Starred = &v
	}
	if sentiment := q.Get("sentiment"); sentiment != "" {
		filter.Sentiment = model.SentimentLabel(sentiment)
	}

	return filter, nil
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.New("invalid " + name + " timestamp, expected RFC 3339")
	}
	return &t, nil
}
