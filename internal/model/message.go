// Package model defines data structures for the assistant core.
package model

import (
	"time"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Attachment is a file reference carried by a message.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// ChatMessage is a single turn in a conversation. Messages are immutable
// once stored; they are appended, never edited in place.
type ChatMessage struct {
	ID           string            `json:"id"`
	Sender       Sender            `json:"sender"`
	Text         string            `json:"text"`
	Timestamp    time.Time         `json:"timestamp"`
	AgentID      string            `json:"agent_id,omitempty"`
	AgentName    string            `json:"agent_name,omitempty"`
	Attachment   *Attachment       `json:"attachment,omitempty"`
	BulletPoints []string          `json:"bullet_points,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// AddMessageRequest is the request to append a message to a conversation.
type AddMessageRequest struct {
	Sender        Sender            `json:"sender"`
	Text          string            `json:"text"`
	AgentID       string            `json:"agent_id,omitempty"`
	AgentName     string            `json:"agent_name,omitempty"`
	Attachment    *Attachment       `json:"attachment,omitempty"`
	BulletPoints  []string          `json:"bullet_points,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	GenerateReply bool              `json:"generate_reply,omitempty"`
}

// AddMessageResponse is the response after appending a message. Reply is
// present only when an assistant reply was generated.
type AddMessageResponse struct {
	Message *ChatMessage `json:"message"`
	Reply   *ChatMessage `json:"reply,omitempty"`
}
