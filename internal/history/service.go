// Package history implements the bounded, persisted chat history store:
// conversation CRUD, capacity eviction, sentiment scoring, search, and
// import/export.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eva-ai/platform/internal/kv"
	"github.com/eva-ai/platform/internal/model"
	"github.com/eva-ai/platform/pkg/logger"
	"github.com/eva-ai/platform/pkg/metrics"
)

const (
	// MaxConversations bounds the number of stored conversations.
	MaxConversations = 100
	// MaxMessagesPerConversation bounds each conversation's message list.
	MaxMessagesPerConversation = 1000

	storageKey   = "eva_chat_history"
	defaultTitle = "New Conversation"
	titleMaxLen  = 50
)

// ErrConversationNotFound is returned when an operation references a
// conversation ID that does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

// EventSink receives history lifecycle events.
type EventSink interface {
	Publish(ev model.HistoryEvent)
}

// Service owns the in-memory conversation map and is the sole writer to
// the persisted snapshot. One instance is constructed at startup and
// injected into consumers.
type Service struct {
	store  kv.Store
	logger *logger.Logger
	sink   EventSink
	now    func() time.Time

	mu            sync.RWMutex
	conversations map[string]*model.ChatConversation
}

// Option configures a Service.
type Option func(*Service)

// WithEventSink attaches a lifecycle event sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithClock overrides the service clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the history store and loads the persisted snapshot.
// An absent or malformed snapshot is not fatal; the store starts empty.
func NewService(store kv.Store, log *logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:         store,
		logger:        log,
		now:           time.Now,
		conversations: make(map[string]*model.ChatConversation),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

func (s *Service) load() {
	raw, ok, err := s.store.Get(storageKey)
	if err != nil {
		s.logger.Warn("failed to load chat history", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	var convs []model.ChatConversation
	if err := json.Unmarshal(raw, &convs); err != nil {
		s.logger.Warn("discarding malformed chat history snapshot", zap.Error(err))
		return
	}

	for i := range convs {
		c := convs[i]
		s.conversations[c.ID] = &c
	}
	s.logger.Info("chat history loaded", zap.Int("conversations", len(convs)))
}

// persistLocked snapshots the full store. Write failures are logged and
// counted, never surfaced; the in-memory state stays authoritative.
func (s *Service) persistLocked() {
	convs := make([]model.ChatConversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		convs = append(convs, *c)
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.Before(convs[j].CreatedAt)
	})

	raw, err := json.Marshal(convs)
	if err != nil {
		s.logger.Warn("failed to encode chat history snapshot", zap.Error(err))
		metrics.PersistenceFailuresTotal.Inc()
		return
	}
	if err := s.store.Set(storageKey, raw); err != nil {
		s.logger.Warn("failed to persist chat history snapshot", zap.Error(err))
		metrics.PersistenceFailuresTotal.Inc()
	}
}

func (s *Service) emit(t model.EventType, conversationID, messageID string) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(model.HistoryEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Type:           t,
		ConversationID: conversationID,
		MessageID:      messageID,
		CreatedAt:      s.now(),
	})
}

// CreateConversation creates a new conversation. At capacity the
// conversation with the oldest updatedAt among unpinned ones is evicted
// first; if every conversation is pinned the cap is exceeded.
func (s *Service) CreateConversation(req model.CreateConversationRequest) *model.ChatConversation {
	s.mu.Lock()

	if len(s.conversations) >= MaxConversations {
		if victim := s.oldestUnpinnedLocked(); victim != "" {
			delete(s.conversations, victim)
			metrics.EvictionsTotal.WithLabelValues("conversation").Inc()
			s.logger.Debug("evicted conversation at capacity", zap.String("conversation_id", victim))
		}
	}

	now := s.now()
	title := req.Title
	if title == "" {
		title = defaultTitle
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	conv := &model.ChatConversation{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Title:         title,
		Messages:      []model.ChatMessage{},
		CreatedAt:     now,
		UpdatedAt:     now,
		AgentID:       req.AgentID,
		CustomerID:    req.CustomerID,
		TransactionID: req.TransactionID,
		Tags:          tags,
	}
	s.conversations[conv.ID] = conv
	s.persistLocked()
	out := cloneConversation(conv)
	s.mu.Unlock()

	metrics.ConversationsTotal.Inc()
	s.emit(model.EventConversationCreated, out.ID, "")
	return out
}

func (s *Service) oldestUnpinnedLocked() string {
	var victim string
	var oldest time.Time
	for id, c := range s.conversations {
		if c.IsPinned {
			continue
		}
		if victim == "" || c.UpdatedAt.Before(oldest) {
			victim = id
			oldest = c.UpdatedAt
		}
	}
	return victim
}

// AddMessage appends a message to a conversation. When the message cap
// is reached the oldest message is dropped first. A user message on a
// still-default title derives the title, and user messages trigger a
// sentiment recompute over the full user history.
func (s *Service) AddMessage(conversationID string, req model.AddMessageRequest) (*model.ChatMessage, error) {
	s.mu.Lock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}

	now := s.now()
	msg := model.ChatMessage{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Sender:       req.Sender,
		Text:         req.Text,
		Timestamp:    now,
		AgentID:      req.AgentID,
		AgentName:    req.AgentName,
		Attachment:   req.Attachment,
		BulletPoints: req.BulletPoints,
		Metadata:     req.Metadata,
	}

	if len(conv.Messages) >= MaxMessagesPerConversation {
		conv.Messages = conv.Messages[1:]
		metrics.EvictionsTotal.WithLabelValues("message").Inc()
	}

	first := len(conv.Messages) == 0
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = now

	if first && conv.Title == defaultTitle && req.Sender == model.SenderUser {
		conv.Title = deriveTitle(req.Text)
	}

	if req.Sender == model.SenderUser {
		sentiment := scoreSentiment(conv.Messages)
		conv.Sentiment = &sentiment
	}

	s.persistLocked()
	s.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues(string(req.Sender)).Inc()
	s.emit(model.EventMessageAdded, conversationID, msg.ID)
	return &msg, nil
}

// deriveTitle builds a conversation title from the first user message:
// newlines flattened, trimmed, truncated to 50 characters with a
// trailing ellipsis when longer.
func deriveTitle(text string) string {
	t := strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)
	t = strings.TrimSpace(t)
	if t == "" {
		return defaultTitle
	}
	if utf8.RuneCountInString(t) > titleMaxLen {
		runes := []rune(t)
		t = string(runes[:titleMaxLen]) + "..."
	}
	return t
}

// GetConversation returns a copy of a conversation by ID.
func (s *Service) GetConversation(id string) (*model.ChatConversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return cloneConversation(conv), nil
}

// GetConversations returns copies of all conversations matching every
// supplied filter predicate, pinned first, then by updatedAt descending.
func (s *Service) GetConversations(filter *model.ConversationFilter) []model.ChatConversation {
	s.mu.RLock()

	out := make([]model.ChatConversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if matchesFilter(c, filter) {
			out = append(out, *cloneConversation(c))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPinned != out[j].IsPinned {
			return out[i].IsPinned
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func matchesFilter(c *model.ChatConversation, f *model.ConversationFilter) bool {
	if f == nil {
		return true
	}
	if f.From != nil && c.UpdatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && c.UpdatedAt.After(*f.To) {
		return false
	}
	if len(f.AgentIDs) > 0 && !contains(f.AgentIDs, c.AgentID) {
		return false
	}
	if f.CustomerID != "" && c.CustomerID != f.CustomerID {
		return false
	}
	if f.TransactionID != "" && c.TransactionID != f.TransactionID {
		return false
	}
	if f.Starred != nil && c.IsStarred != *f.Starred {
		return false
	}
	if f.Sentiment != "" {
		if c.Sentiment == nil || c.Sentiment.Label != f.Sentiment {
			return false
		}
	}
	if len(f.Tags) > 0 {
		found := false
		for _, t := range f.Tags {
			if contains(c.Tags, t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Search != "" && !matchesSearch(c, f.Search) {
		return false
	}
	return true
}

func matchesSearch(c *model.ChatConversation, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(c.Title), q) {
		return true
	}
	for _, t := range c.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	for i := range c.Messages {
		if strings.Contains(strings.ToLower(c.Messages[i].Text), q) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// UpdateConversation shallow-merges the non-nil fields of req into the
// conversation and refreshes updatedAt.
func (s *Service) UpdateConversation(id string, req model.UpdateConversationRequest) (*model.ChatConversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}

	if req.Title != nil {
		conv.Title = *req.Title
	}
	if req.AgentID != nil {
		conv.AgentID = *req.AgentID
	}
	if req.CustomerID != nil {
		conv.CustomerID = *req.CustomerID
	}
	if req.TransactionID != nil {
		conv.TransactionID = *req.TransactionID
	}
	if req.Tags != nil {
		conv.Tags = append([]string{}, (*req.Tags)...)
	}
	if req.IsStarred != nil {
		conv.IsStarred = *req.IsStarred
	}
	if req.IsPinned != nil {
		conv.IsPinned = *req.IsPinned
	}
	conv.UpdatedAt = s.now()

	s.persistLocked()
	return cloneConversation(conv), nil
}

// DeleteConversation removes a conversation. Deleting an absent ID is
// not an error.
func (s *Service) DeleteConversation(id string) {
	s.DeleteConversations([]string{id})
}

// DeleteConversations removes a batch of conversations, idempotently.
func (s *Service) DeleteConversations(ids []string) {
	s.mu.Lock()
	removed := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.conversations[id]; ok {
			delete(s.conversations, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		s.persistLocked()
	}
	s.mu.Unlock()

	for _, id := range removed {
		s.emit(model.EventConversationDeleted, id, "")
	}
}

// ClearAllHistory removes every conversation except pinned ones.
func (s *Service) ClearAllHistory() {
	s.mu.Lock()
	for id, c := range s.conversations {
		if !c.IsPinned {
			delete(s.conversations, id)
		}
	}
	s.persistLocked()
	s.mu.Unlock()

	s.emit(model.EventHistoryCleared, "", "")
}

// ExportConversations serializes the selected conversations (all when
// ids is empty) to pretty-printed JSON with RFC 3339 dates.
func (s *Service) ExportConversations(ids []string) ([]byte, error) {
	var selected []model.ChatConversation
	if len(ids) == 0 {
		selected = s.GetConversations(nil)
	} else {
		s.mu.RLock()
		for _, id := range ids {
			if c, ok := s.conversations[id]; ok {
				selected = append(selected, *cloneConversation(c))
			}
		}
		s.mu.RUnlock()
	}

	raw, err := json.MarshalIndent(selected, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return raw, nil
}

// ImportConversations parses an exported JSON payload and inserts its
// conversations under freshly generated IDs. Returns the number of
// conversations imported, or an error on malformed JSON.
func (s *Service) ImportConversations(data []byte) (int, error) {
	var convs []model.ChatConversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return 0, fmt.Errorf("invalid import payload: %w", err)
	}

	s.mu.Lock()
	for i := range convs {
		c := convs[i]
		c.ID = uuid.Must(uuid.NewV7()).String()
		if c.Messages == nil {
			c.Messages = []model.ChatMessage{}
		}
		if c.Tags == nil {
			c.Tags = []string{}
		}
		s.conversations[c.ID] = &c
	}
	s.persistLocked()
	s.mu.Unlock()

	s.emit(model.EventHistoryImported, "", "")
	return len(convs), nil
}

// GetStatistics computes a read-only aggregate over the store.
func (s *Service) GetStatistics() model.Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := model.Statistics{
		SentimentCounts: make(map[model.SentimentLabel]int),
		AgentCounts:     make(map[string]int),
	}

	for _, c := range s.conversations {
		stats.TotalConversations++
		stats.TotalMessages += len(c.Messages)
		if c.Sentiment != nil {
			stats.SentimentCounts[c.Sentiment.Label]++
		}
		if c.AgentID != "" {
			stats.AgentCounts[c.AgentID]++
		}
		updated := c.UpdatedAt
		if stats.OldestUpdatedAt == nil || updated.Before(*stats.OldestUpdatedAt) {
			u := updated
			stats.OldestUpdatedAt = &u
		}
		if stats.NewestUpdatedAt == nil || updated.After(*stats.NewestUpdatedAt) {
			u := updated
			stats.NewestUpdatedAt = &u
		}
	}

	if stats.TotalConversations > 0 {
		stats.AvgMessagesPerConversation = float64(stats.TotalMessages) / float64(stats.TotalConversations)
	}
	return stats
}

func cloneConversation(c *model.ChatConversation) *model.ChatConversation {
	out := *c
	out.Messages = make([]model.ChatMessage, len(c.Messages))
	copy(out.Messages, c.Messages)
	out.Tags = append([]string{}, c.Tags...)
	if c.Sentiment != nil {
		sentiment := *c.Sentiment
		out.Sentiment = &sentiment
	}
	return &out
}
