package model

import (
	"time"
)

// SentimentLabel classifies a conversation's overall user sentiment.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// Sentiment is a lexical sentiment score on a 0-100 scale.
type Sentiment struct {
	Score int            `json:"score"`
	Label SentimentLabel `json:"label"`
}

// ChatConversation is a multi-turn conversation thread.
type ChatConversation struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Messages      []ChatMessage `json:"messages"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	AgentID       string        `json:"agent_id,omitempty"`
	CustomerID    string        `json:"customer_id,omitempty"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Tags          []string      `json:"tags"`
	IsStarred     bool          `json:"is_starred"`
	IsPinned      bool          `json:"is_pinned"`
	Sentiment     *Sentiment    `json:"sentiment,omitempty"`
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	Title         string   `json:"title,omitempty"`
	AgentID       string   `json:"agent_id,omitempty"`
	CustomerID    string   `json:"customer_id,omitempty"`
	TransactionID string   `json:"transaction_id,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// UpdateConversationRequest is the request to update a conversation.
// Nil fields are left untouched; the update is a shallow merge.
type UpdateConversationRequest struct {
	Title         *string   `json:"title,omitempty"`
	AgentID       *string   `json:"agent_id,omitempty"`
	CustomerID    *string   `json:"customer_id,omitempty"`
	TransactionID *string   `json:"transaction_id,omitempty"`
	Tags          *[]string `json:"tags,omitempty"`
	IsStarred     *bool     `json:"is_starred,omitempty"`
	IsPinned      *bool     `json:"is_pinned,omitempty"`
}

// ConversationFilter narrows a conversation listing. All supplied
// predicates must match.
type ConversationFilter struct {
	From          *time.Time
	To            *time.Time
	AgentIDs      []string
	CustomerID    string
	TransactionID string
	Search        string
	Tags          []string
	Starred       *bool
	Sentiment     SentimentLabel
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []ChatConversation `json:"conversations"`
	Total         int                `json:"total"`
}

// Statistics is a read-only aggregate over the history store.
type Statistics struct {
	TotalConversations         int                    `json:"total_conversations"`
	TotalMessages              int                    `json:"total_messages"`
	AvgMessagesPerConversation float64                `json:"avg_messages_per_conversation"`
	SentimentCounts            map[SentimentLabel]int `json:"sentiment_counts"`
	AgentCounts                map[string]int         `json:"agent_counts"`
	OldestUpdatedAt            *time.Time             `json:"oldest_updated_at"`
	NewestUpdatedAt            *time.Time             `json:"newest_updated_at"`
}

// SearchResult is a single message search hit. MatchedText is a window
// around the first occurrence of the query.
type SearchResult struct {
	Conversation ChatConversation `json:"conversation"`
	Message      ChatMessage      `json:"message"`
	MatchedText  string           `json:"matched_text"`
}
