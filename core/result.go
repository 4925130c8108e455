package core

// NextStep is the orchestration directive attached to a Result. It decouples
// what a tool computed from what happens to the run afterwards.
type NextStep int

const (
	// NextContinue keeps the current agent active for the following turn.
	NextContinue NextStep = iota
	// NextHandoff replaces the active agent with Result.Handoff.
	NextHandoff
	// NextTerminate stops the run after the current turn (non-recoverable
	// tool failure or an explicit stop requested by a tool).
	NextTerminate
)

// String returns the directive name for logs and telemetry.
func (n NextStep) String() string {
	switch n {
	case NextHandoff:
		return "handoff"
	case NextTerminate:
		return "terminate"
	default:
		return "continue"
	}
}

// Result is the sanctioned output channel of a tool execution. Context
// mutation and agent handoff happen only by the orchestrator applying Result
// fields; tools never touch shared state directly.
type Result struct {
	// CallID links the result back to the originating tool call.
	CallID string `json:"call_id,omitempty"`
	// Tool is the executed function name.
	Tool string `json:"tool,omitempty"`
	// Value is the tool's computed value, rendered into the tool message fed
	// back to the model.
	Value any `json:"value,omitempty"`
	// ContextDelta stages context-variable writes applied after the batch.
	ContextDelta map[string]any `json:"context_delta,omitempty"`
	// Handoff names the agent that takes over when Next == NextHandoff.
	Handoff string `json:"handoff,omitempty"`
	// Next directs the run after this batch.
	Next NextStep `json:"next"`
	// Err records a recoverable failure (validation or execution). The run
	// continues unless Next == NextTerminate.
	Err error `json:"-"`
}

// NewResult wraps a bare tool return value into a neutral Result.
func NewResult(value any) Result {
	return Result{Value: value, Next: NextContinue}
}

// NewHandoffResult wraps a value and requests a handoff to the named agent.
func NewHandoffResult(value any, target string) Result {
	return Result{Value: value, Handoff: target, Next: NextHandoff}
}

// NewErrorResult captures a recoverable tool failure as data.
func NewErrorResult(err error) Result {
	return Result{Err: err, Next: NextContinue}
}

// IsError reports whether the result carries a failure.
func (r Result) IsError() bool { return r.Err != nil }
