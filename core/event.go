package core

import (
	"time"

	"github.com/convoke-ai/convoke/internal/util"
)

// EventType identifies a lifecycle point in the turn loop. The set is closed;
// each type corresponds 1:1 with a breakpoint gate.
type EventType string

const (
	EventStart                 EventType = "START"
	EventInstruct              EventType = "INSTRUCT"
	EventMessageCompletion     EventType = "MESSAGE_COMPLETION"
	EventPostMessageCompletion EventType = "POST_MESSAGE_COMPLETION"
	EventToolExecution         EventType = "TOOL_EXECUTION"
	EventPostToolExecution     EventType = "POST_TOOL_EXECUTION"
	EventHandoff               EventType = "HANDOFF"
)

// EventTypes returns all lifecycle event types in emission order.
func EventTypes() []EventType {
	return []EventType{
		EventStart,
		EventInstruct,
		EventMessageCompletion,
		EventPostMessageCompletion,
		EventToolExecution,
		EventPostToolExecution,
		EventHandoff,
	}
}

// Valid reports whether t is a known lifecycle event type.
func (t EventType) Valid() bool {
	switch t {
	case EventStart, EventInstruct, EventMessageCompletion, EventPostMessageCompletion,
		EventToolExecution, EventPostToolExecution, EventHandoff:
		return true
	}
	return false
}

// Event is an immutable notification broadcast to registered observers at a
// lifecycle point. Payload holds one of the typed *Payload structs below;
// treat both the event and its payload as read-only after creation.
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Agent     string    `json:"agent"` // originating agent name
	RunID     string    `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id"`
}

// NewEvent stamps an event with a UTC timestamp and fresh trace id.
func NewEvent(t EventType, runID, agent string, payload any) Event {
	return Event{
		Type:      t,
		Payload:   payload,
		Agent:     agent,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		TraceID:   util.NewID(),
	}
}

// StartPayload accompanies EventStart, emitted once per run before turn 1.
type StartPayload struct {
	RunID    string `json:"run_id"`
	Agent    string `json:"agent"`
	Input    string `json:"input"`
	MaxTurns int    `json:"max_turns"`
}

// InstructPayload accompanies EventInstruct with the resolved instruction
// text for the active agent.
type InstructPayload struct {
	Turn        int    `json:"turn"`
	Instruction string `json:"instruction"`
}

// CompletionRequestPayload accompanies EventMessageCompletion, emitted just
// before the completion provider is invoked.
type CompletionRequestPayload struct {
	Turn      int    `json:"turn"`
	Model     string `json:"model"`
	Streaming bool   `json:"streaming"`
}

// CompletionPayload accompanies EventPostMessageCompletion with the finalized
// assistant message. Diagnostics lists non-fatal fragment problems recorded
// while the message was assembled; token counts are provider reported and
// zero when the provider sent none.
type CompletionPayload struct {
	Turn             int      `json:"turn"`
	Message          Message  `json:"message"`
	Diagnostics      []string `json:"diagnostics,omitempty"`
	PromptTokens     int      `json:"prompt_tokens,omitempty"`
	CompletionTokens int      `json:"completion_tokens,omitempty"`
}

// ToolExecutionPayload accompanies EventToolExecution before any tool in the
// batch runs.
type ToolExecutionPayload struct {
	Turn  int        `json:"turn"`
	Calls []ToolCall `json:"calls"`
}

// PostToolExecutionPayload accompanies EventPostToolExecution with the
// outcome of every call in the batch, error Results included.
type PostToolExecutionPayload struct {
	Turn    int      `json:"turn"`
	Results []Result `json:"results"`
}

// HandoffPayload accompanies EventHandoff when a Result replaced the active
// agent for the next turn.
type HandoffPayload struct {
	Turn int    `json:"turn"`
	From string `json:"from"`
	To   string `json:"to"`
}
