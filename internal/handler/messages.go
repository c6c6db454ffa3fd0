package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/eva-ai/platform/internal/history"
	"github.com/eva-ai/platform/internal/llm"
	"github.com/eva-ai/platform/internal/middleware"
	"github.com/eva-ai/platform/internal/model"
	"github.com/eva-ai/platform/pkg/logger"
	"github.com/eva-ai/platform/pkg/metrics"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	history *history.Service
	llm     llm.Client
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler. llmClient may be nil
// when no provider is configured; reply generation is then disabled.
func NewMessageHandler(svc *history.Service, llmClient llm.Client, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		history: svc,
		llm:     llmClient,
		logger:  log,
	}
}

// List handles GET /api/v1/conversations/:id/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
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

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": conv.Messages,
		"total":    len(conv.Messages),
	})
}

// Add handles POST /api/v1/conversations/:id/messages
func (h *MessageHandler) Add(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.AddMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Sender == "" {
		req.Sender = model.SenderUser
	}
	if req.Sender != model.SenderUser && req.Sender != model.SenderAI {
		writeError(w, http.StatusBadRequest, "sender must be user or ai")
		return
	}
	if err := middleware.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.history.AddMessage(conversationID, req)
	if err != nil {
		if errors.Is(err, history.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to add message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to add message")
		return
	}

	resp := model.AddMessageResponse{Message: msg}
	if req.GenerateReply && req.Sender == model.SenderUser {
		if reply := h.generateReply(r, conversationID); reply != nil {
			resp.Reply = reply
		}
	}

	writeJSON(w, http.StatusCreated, resp)
}

// generateReply produces and stores an assistant message from the
// conversation history. Failures degrade to a nil reply; the user
// message is already committed.
func (h *MessageHandler) generateReply(r *http.Request, conversationID string) *model.ChatMessage {
	if h.llm == nil {
		return nil
	}

	conv, err := h.history.GetConversation(conversationID)
	if err != nil {
		return nil
	}

	start := time.Now()
	completion, err := h.llm.Complete(r.Context(), &llm.CompletionRequest{
		Messages: llm.FromHistory(conv.Messages),
	})
	if err != nil {
		metrics.LLMCompletionDuration.WithLabelValues(h.llm.Name(), "error").Observe(time.Since(start).Seconds())
		h.logger.Warn("assistant reply generation failed", zap.Error(err))
		return nil
	}
	metrics.LLMCompletionDuration.WithLabelValues(h.llm.Name(), "success").Observe(time.Since(start).Seconds())

	reply, err := h.history.AddMessage(conversationID, model.AddMessageRequest{
		Sender:    model.SenderAI,
		Text:      completion.Content,
		AgentName: h.llm.Name(),
		Metadata: map[string]string{
			"model": completion.Model,
		},
	})
	if err != nil {
		h.logger.Warn("failed to store assistant reply", zap.Error(err))
		return nil
	}
	return reply
}
