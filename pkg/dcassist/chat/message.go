// Package chat holds the conversation data model for the Dynamic Capital
// assistant: messages, sync status, the bounded message store, and the
// per-profile session context.
package chat

import "strings"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single conversation entry. Immutable once appended, except
// for in-place content replacement while the assistant response streams in.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage builds a user-authored message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-authored message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Normalize returns the canonical form of message text used for equality
// checks in the suggestion ranker: lower-cased and whitespace-trimmed.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Local store keys. These are a compatibility contract with the web widget
// and must not change: the browser build persists under the same names.
const (
	HistoryKey   = "chat-assistant-history"
	SessionIDKey = "chat-assistant-session-id"
	FallbackKey  = "chat-assistant-fallback"
)
