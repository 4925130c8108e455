package core

import (
	"time"

	"github.com/convoke-ai/convoke/internal/util"
)

// Conversation roles used throughout the engine.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a function invocation requested by a model completion. The
// Arguments payload is a raw (possibly fragment-assembled) string; it is
// validated and parsed by the tool handler, never here.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Message is one entry of a Run's conversation history. Append-only once
// finalized: the orchestrator copies messages into history and never mutates
// them afterwards.
type Message struct {
	ID        string     `json:"id"`
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	Sender    string     `json:"sender,omitempty"` // originating agent name
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a role=tool message back to the call it answers.
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewMessage constructs a message with a fresh ID and UTC timestamp.
func NewMessage(role, content, sender string) Message {
	return Message{
		ID:        util.NewID(),
		Role:      role,
		Content:   content,
		Sender:    sender,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessage is a convenience wrapper for a user-authored text message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content, "user")
}

// NewToolMessage records the outcome of a tool call so it can be fed back to
// the model on the next turn.
func NewToolMessage(callID, name, content string) Message {
	m := NewMessage(RoleTool, content, name)
	m.ToolCallID = callID
	return m
}

// HasToolCalls reports whether the message requests any tool invocations.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }
