package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/eva-ai/platform/internal/history"
	"github.com/eva-ai/platform/internal/kv"
	"github.com/eva-ai/platform/internal/llm"
	"github.com/eva-ai/platform/internal/model"
	"github.com/eva-ai/platform/pkg/logger"
)

type stubLLM struct {
	reply string
	fail  bool
}

func (s *stubLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if s.fail {
		return nil, errors.New("provider unavailable")
	}
	return &llm.CompletionResponse{Content: s.reply, Model: "stub-1"}, nil
}

func (s *stubLLM) Name() string { return "stub" }

func setupRouter(t *testing.T, llmClient llm.Client) (*chi.Mux, *history.Service) {
	t.Helper()

	log := logger.NewNop()
	svc := history.NewService(kv.NewMemoryStore(), log)

	conversations := NewConversationHandler(svc, log)
	messages := NewMessageHandler(svc, llmClient, log)
	hist := NewHistoryHandler(svc, log)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversations.List)
			r.Post("/", conversations.Create)
			r.Post("/bulk-delete", conversations.BulkDelete)
			r.Get("/statistics", conversations.Statistics)
			r.Get("/search", conversations.Search)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversations.Get)
				r.Put("/", conversations.Update)
				r.Delete("/", conversations.Delete)
				r.Get("/messages", messages.List)
				r.Post("/messages", messages.Add)
			})
		})
		r.Route("/history", func(r chi.Router) {
			r.Get("/export", hist.Export)
			r.Post("/import", hist.Import)
			r.Delete("/", hist.Clear)
		})
	})
	return r, svc
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestConversationLifecycle(t *testing.T) {
	r, _ := setupRouter(t, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/conversations", model.CreateConversationRequest{
		Title:   "Loan review",
		AgentID: "agent-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[model.ChatConversation](t, rec)
	if created.ID == "" || created.Title != "Loan review" {
		t.Fatalf("unexpected created conversation: %+v", created)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/conversations/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/conversations", nil)
	listed := decodeBody[model.ListConversationsResponse](t, rec)
	if listed.Total != 1 || len(listed.Conversations) != 1 {
		t.Fatalf("list: expected 1 conversation, got %+v", listed)
	}

	title := "Loan approved"
	rec = doJSON(t, r, http.MethodPut, "/api/v1/conversations/"+created.ID, model.UpdateConversationRequest{Title: &title})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d, body %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[model.ChatConversation](t, rec)
	if updated.Title != "Loan approved" {
		t.Errorf("update: title %q", updated.Title)
	}

	rec = doJSON(t, r, http.MethodDelete, "/api/v1/conversations/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/conversations/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status %d", rec.Code)
	}
}

func TestConversationValidation(t *testing.T) {
	r, _ := setupRouter(t, nil)

	rec := doJSON(t, r, http.MethodGet, "/api/v1/conversations/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed ID, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations", strings.NewReader("{broken"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestAddMessageWithGeneratedReply(t *testing.T) {
	r, _ := setupRouter(t, &stubLLM{reply: "Happy to help with that."})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/conversations", model.CreateConversationRequest{})
	created := decodeBody[model.ChatConversation](t, rec)

	rec = doJSON(t, r, http.MethodPost, "/api/v1/conversations/"+created.ID+"/messages", model.AddMessageRequest{
		Text:          "What are the current mortgage rates?",
		GenerateReply: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add message: status %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[model.AddMessageResponse](t, rec)
	if resp.Message == nil || resp.Message.Sender != model.SenderUser {
		t.Fatalf("expected stored user message, got %+v", resp.Message)
	}
	if resp.Reply == nil {
		t.Fatal("expected generated reply")
	}
	if resp.Reply.Sender != model.SenderAI || resp.Reply.Text != "Happy to help with that." {
		t.Errorf("unexpected reply: %+v", resp.Reply)
	}
	if resp.Reply.Metadata["model"] != "stub-1" {
		t.Errorf("expected provider model in metadata, got %v", resp.Reply.Metadata)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/conversations/"+created.ID+"/messages", nil)
	listed := decodeBody[struct {
		Total int `json:"total"`
	}](t, rec)
	if listed.Total != 2 {
		t.Errorf("expected user message plus reply stored, got %d", listed.Total)
	}
}

func TestAddMessageReplyFailureDegrades(t *testing.T) {
	r, _ := setupRouter(t, &stubLLM{fail: true})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/conversations", model.CreateConversationRequest{})
	created := decodeBody[model.ChatConversation](t, rec)

	rec = doJSON(t, r, http.MethodPost, "/api/v1/conversations/"+created.ID+"/messages", model.AddMessageRequest{
		Text:          "hello",
		GenerateReply: true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected user message accepted despite provider failure, got %d", rec.Code)
	}
	resp := decodeBody[model.AddMessageResponse](t, rec)
	if resp.Reply != nil {
		t.Errorf("expected nil reply on provider failure, got %+v", resp.Reply)
	}
}

func TestAddMessageUnknownConversationReturns404(t *testing.T) {
	r, _ := setupRouter(t, nil)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/conversations/0191e2f0-0000-7000-8000-000000000000/messages", model.AddMessageRequest{
		Text: "hello",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSearchEndpoint(t *testing.T) {
	r, svc := setupRouter(t, nil)

	conv := svc.CreateConversation(model.CreateConversationRequest{})
	if _, err := svc.AddMessage(conv.ID, model.AddMessageRequest{Sender: model.SenderUser, Text: "wire transfer failed"}); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	rec := doJSON(t, r, http.MethodGet, "/api/v1/conversations/search?q=transfer", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: status %d", rec.Code)
	}
	result := decodeBody[struct {
		Total int `json:"total"`
	}](t, rec)
	if result.Total != 1 {
		t.Errorf("expected 1 hit, got %d", result.Total)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/conversations/search", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing query, got %d", rec.Code)
	}

	rec = doJSON(t, r, http.MethodGet, "/api/v1/conversations/search?q=x&from=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad timestamp, got %d", rec.Code)
	}
}

func TestExportImportEndpoints(t *testing.T) {
	r, svc := setupRouter(t, nil)

	conv := svc.CreateConversation(model.CreateConversationRequest{Title: "to export"})
	if _, err := svc.AddMessage(conv.ID, model.AddMessageRequest{Sender: model.SenderUser, Text: "keep this"}); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	rec := doJSON(t, r, http.MethodGet, "/api/v1/history/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: status %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("expected attachment disposition, got %q", cd)
	}
	exported := rec.Body.Bytes()

	fresh, _ := setupRouter(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/history/import", bytes.NewReader(exported))
	rec = httptest.NewRecorder()
	fresh.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("import: status %d, body %s", rec.Code, rec.Body.String())
	}
	imported := decodeBody[map[string]int](t, rec)
	if imported["imported"] != 1 {
		t.Errorf("expected 1 imported, got %v", imported)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/history/import", strings.NewReader("{bad"))
	rec = httptest.NewRecorder()
	fresh.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed import, got %d", rec.Code)
	}
}

func TestBulkDeleteAndClear(t *testing.T) {
	r, svc := setupRouter(t, nil)

	a := svc.CreateConversation(model.CreateConversationRequest{})
	b := svc.CreateConversation(model.CreateConversationRequest{})
	svc.CreateConversation(model.CreateConversationRequest{})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/conversations/bulk-delete", map[string][]string{
		"ids": {a.ID, b.ID},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("bulk-delete: status %d", rec.Code)
	}
	if n := len(svc.GetConversations(nil)); n != 1 {
		t.Errorf("expected 1 conversation left, got %d", n)
	}

	rec = doJSON(t, r, http.MethodDelete, "/api/v1/history", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear: status %d", rec.Code)
	}
	if n := len(svc.GetConversations(nil)); n != 0 {
		t.Errorf("expected empty store, got %d", n)
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	r, svc := setupRouter(t, nil)

	conv := svc.CreateConversation(model.CreateConversationRequest{AgentID: "agent-1"})
	svc.AddMessage(conv.ID, model.AddMessageRequest{Sender: model.SenderUser, Text: "hi"})

	rec := doJSON(t, r, http.MethodGet, "/api/v1/conversations/statistics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("statistics: status %d", rec.Code)
	}
	stats := decodeBody[model.Statistics](t, rec)
	if stats.TotalConversations != 1 || stats.TotalMessages != 1 {
		t.Errorf("unexpected statistics: %+v", stats)
	}
}
