package domain

import (
	"time"
)

// ConversationStatus is the lifecycle status of a conversation.
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationCompleted ConversationStatus = "completed"
	ConversationError     ConversationStatus = "error"
)

// Conversation is one dialogue between a visitor and an agent, scoped to a tenant.
type Conversation struct {
	ID           string             `json:"id"`
	AgentID      string             `json:"agentId"`
	CompanyID    string             `json:"companyId"`
	ExternalID   string             `json:"externalId,omitempty"`
	CurrentState string             `json:"currentState"`
	Status       ConversationStatus `json:"status"`
	Context      Context            `json:"context"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// IsActive returns true while the conversation accepts new turns.
func (c *Conversation) IsActive() bool {
	return c.Status == ConversationActive
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is an append-only conversation turn.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	CompanyID      string         `json:"companyId"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// StateAtTime returns the state recorded when the message was written.
func (m *Message) StateAtTime() string {
	if s, ok := m.Metadata["stateAtTime"].(string); ok {
		return s
	}
	return ""
}
