// Package language defines the natural-language capabilities the conversation
// handlers depend on and provides adapters for hosted and remote providers.
package language

import (
	"context"
	"errors"
)

var (
	// ErrUnsupported is returned by providers that cannot perform a capability.
	ErrUnsupported = errors.New("capability not supported by language provider")
	// ErrNoChoices is returned when a provider answers without any completion.
	ErrNoChoices = errors.New("language provider returned no choices")
)

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one entry of a conversation sent to the provider.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// ToolDefinition exposes a callable function to the provider.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a function invocation requested by the provider.
// Arguments holds the raw JSON arguments.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ConverseResult is the outcome of a tool-enabled exchange. ToolCall is nil
// when the provider answered with text only.
type ConverseResult struct {
	Text     string
	ToolCall *ToolCall
}

// QuestionCheck reports whether a message asks or objects instead of providing data.
type QuestionCheck struct {
	IsQuestion bool   `json:"isQuestion"`
	Intent     string `json:"intent"`
}

// AnswerCheck reports whether a free-text answer addresses a question.
type AnswerCheck struct {
	IsValid bool   `json:"isValid"`
	Reason  string `json:"reason"`
}

// Service is the language capability set consumed by the state handlers.
type Service interface {
	// ExtractField pulls one field out of message. An empty string means nothing was found.
	ExtractField(ctx context.Context, field, description, message string) (string, error)

	// DetectQuestionOrObjection classifies message against the expected field kind.
	DetectQuestionOrObjection(ctx context.Context, message, fieldKind string) (QuestionCheck, error)

	// ValidateAnswer checks that answer addresses question.
	ValidateAnswer(ctx context.Context, question, answer string) (AnswerCheck, error)

	// GenerateText produces free text from a system prompt, history and a user message.
	GenerateText(ctx context.Context, systemPrompt, userMessage string, history []ChatMessage) (string, error)

	// Converse runs one tool-enabled exchange.
	Converse(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (ConverseResult, error)
}
