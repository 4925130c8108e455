package model

import (
	"context"
	"fmt"

	"github.com/convoke-ai/convoke/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the
// model. Parameters is a JSON Schema object (minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

/// Request captures the normalized model input produced by the orchestrator:
// resolved instructions, full conversation history, the active agent's tool
// specs and its completion policy.
type Request struct {
	Instructions      string           `json:"instructions"`
	Messages          []core.Message   `json:"messages"`
	Tools             []ToolDefinition `json:"tools,omitempty"`
	ToolChoice        string           `json:"tool_choice,omitempty"` // "auto", "none", "required" or a tool name
	ParallelToolCalls bool             `json:"parallel_tool_calls,omitempty"`
	Model             string           `json:"model,omitempty"` // overrides the adapter default when set
	Stream            bool             `json:"stream,omitempty"`
}

// TokenUsage captures token bookkeeping attached to responses or fragments.
// When spread across fragments the counts are summed, never maximized.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage from another sample.
func (u *TokenUsage) Add(o TokenUsage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// ToolCallDelta is one partial piece of a streamed tool call, keyed by call
// index. ArgumentsDelta strings for one index are concatenated in arrival
// order; ID and Name stick once seen.
type ToolCallDelta struct {
	Index          int    `json:"index"`
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// Fragment is one partial piece of a streamed completion. A well-formed
// fragment carries at most one of: a content delta, or one-or-more tool-call
// deltas. Usage may ride on any fragment and is summed by the accumulator.
type Fragment struct {
	ContentDelta   string          `json:"content_delta,omitempty"`
	ToolCallDeltas []ToolCallDelta `json:"tool_call_deltas,omitempty"`
	Usage          *TokenUsage     `json:"usage,omitempty"`
}

// Response is one element of a provider's output stream.
//
// Streaming providers emit Partial responses carrying a Fragment for each
// chunk, then a terminal non-partial response carrying FinishReason and
// Usage but no Message: the streaming accumulator owns final assembly.
// Non-streaming providers emit exactly one non-partial response carrying the
// complete Message.
type Response struct {
	Partial      bool          `json:"partial"`
	Fragment     *Fragment     `json:"fragment,omitempty"`
	Message      *core.Message `json:"message,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        *TokenUsage   `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name              string `json:"name"`
	Provider          string `json:"provider"` // "openai", "anthropic", "mock", ...
	SupportsTools     bool   `json:"supports_tools"`
	SupportsStreaming bool   `json:"supports_streaming"`
}

// Model is the completion capability consumed by the orchestrator. Generate
// returns an ordered response stream plus a terminal error channel; both are
// closed when generation finishes. A provider-level failure sent on the error
// channel is fatal to the requesting run.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Canned responses are keyed by the latest user/tool message content; inputs
// without a canned entry echo a default reply.
type MockModel struct {
	info      Info
	responses map[string]core.Message
}

// NewMockModel constructs a MockModel with tool and streaming support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{
			Name:              name,
			Provider:          "mock",
			SupportsTools:     true,
			SupportsStreaming: true,
		},
		responses: make(map[string]core.Message),
	}
}

// AddResponse registers a deterministic canned text completion for an input.
func (m *MockModel) AddResponse(input, reply string) {
	m.responses[input] = core.NewMessage(core.RoleAssistant, reply, m.info.Name)
}

// AddToolCallResponse registers a canned completion that requests tool calls.
func (m *MockModel) AddToolCallResponse(input string, calls ...core.ToolCall) {
	msg := core.NewMessage(core.RoleAssistant, "", m.info.Name)
	msg.ToolCalls = calls
	m.responses[input] = msg
}

// Generate implements Model; emits char-level fragments when streaming is
// requested, otherwise a single complete message.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}

		input := req.Messages[len(req.Messages)-1].Content
		full, ok := m.responses[input]
		if !ok {
			full = core.NewMessage(core.RoleAssistant, fmt.Sprintf("Mock response to: %s", input), m.info.Name)
		}

		if !req.Stream {
			respCh <- Response{Message: &full, FinishReason: "stop"}
			return
		}

		for _, r := range full.Content {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case respCh <- Response{Partial: true, Fragment: &Fragment{ContentDelta: string(r)}}:
			}
		}
		for i, tc := range full.ToolCalls {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case respCh <- Response{Partial: true, Fragment: &Fragment{
				ToolCallDeltas: []ToolCallDelta{{Index: i, ID: tc.ID, Name: tc.Name, ArgumentsDelta: tc.Arguments}},
			}}:
			}
		}
		finish := "stop"
		if len(full.ToolCalls) > 0 {
			finish = "tool_calls"
		}
		respCh <- Response{FinishReason: finish}
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
