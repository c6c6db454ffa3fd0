package model

import (
	"time"
)

// EventType represents the type of history lifecycle event.
type EventType string

const (
	EventConversationCreated EventType = "conversation_created"
	EventConversationDeleted EventType = "conversation_deleted"
	EventMessageAdded        EventType = "message_added"
	EventHistoryImported     EventType = "history_imported"
	EventHistoryCleared      EventType = "history_cleared"
)

// HistoryEvent is emitted on every history store mutation.
type HistoryEvent struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
