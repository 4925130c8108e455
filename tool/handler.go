package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/internal/util"
	"github.com/convoke-ai/convoke/logging"
)

// Handler validates and executes model-requested tool calls on behalf of the
// orchestrator. Calls within a batch run sequentially in declared order; a
// failing call yields an error Result and execution continues with the next
// call unless the failing tool is marked non-recoverable.
type Handler struct {
	logger logging.Logger
}

// NewHandler creates a Handler. A nil logger is replaced with a no-op logger.
func NewHandler(logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Handler{logger: logger}
}

// Validate checks a single call against the agent's tool roster: the tool
// must exist, the arguments must be parseable JSON, and required / typed /
// enum constraints of the tool's parameter schema must hold. On success it
// returns the parsed argument map.
func (h *Handler) Validate(call core.ToolCall, tools map[string]Tool) (map[string]any, error) {
	t, ok := tools[call.Name]
	if !ok {
		return nil, NewToolError(call.Name, "unknown tool", CodeValidation)
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return nil, NewToolError(call.Name, fmt.Sprintf("invalid arguments JSON: %v", err), CodeValidation)
		}
	}

	if err := util.ValidateParameters(args, t.Parameters()); err != nil {
		te := NewToolError(call.Name, err.Error(), CodeValidation)
		te.Details = err
		return nil, te
	}

	return args, nil
}

// Execute runs one call end to end and always returns a Result: validation
// failures and execution errors become error Results so the model can react
// to them on the next turn. A panic inside the tool is recovered and reported
// the same way. Non-recoverable tools escalate execution failure to
// NextTerminate.
func (h *Handler) Execute(ctx context.Context, agent string, snapshot map[string]any, call core.ToolCall, tools map[string]Tool) (res core.Result) {
	args, err := h.Validate(call, tools)
	if err != nil {
		h.logger.Warn("tool call validation failed", "tool", call.Name, "fc_id", call.ID, "error", err)
		return h.errorResult(call, err, false)
	}
	t := tools[call.Name]

	tc := NewContext(ctx, agent, call.ID, snapshot, h.logger)

	defer func() {
		if r := recover(); r != nil {
			err := NewToolError(call.Name, fmt.Sprintf("panic: %v", r), CodePanic)
			h.logger.Error("tool call panicked", "tool", call.Name, "fc_id", call.ID, "panic", r)
			res = h.errorResult(call, err, IsNonRecoverable(t))
		}
	}()

	start := time.Now()
	value, callErr := t.Call(tc, args)
	elapsed := time.Since(start)

	if callErr != nil {
		h.logger.Warn("tool call failed", "tool", call.Name, "fc_id", call.ID, "duration_ms", elapsed.Milliseconds(), "error", callErr)
		return h.errorResult(call, NewToolError(call.Name, callErr.Error(), CodeExecution), IsNonRecoverable(t))
	}

	h.logger.Debug("tool call completed", "tool", call.Name, "fc_id", call.ID, "duration_ms", elapsed.Milliseconds())

	res = h.fold(call, tc, value)
	return res
}

// errorResult builds the error Result for a failed call, escalating to
// NextTerminate for non-recoverable tools.
func (h *Handler) errorResult(call core.ToolCall, err error, terminate bool) core.Result {
	res := core.NewErrorResult(err)
	res.CallID = call.ID
	res.Tool = call.Name
	if terminate {
		res.Next = core.NextTerminate
	}
	return res
}

// fold merges the tool's return value with the state staged on its Context
// into the final Result. A returned core.Result keeps its own fields; context
// writes staged via Context.Set are merged in, with the Result's explicit
// delta winning on key conflict.
func (h *Handler) fold(call core.ToolCall, tc *Context, value any) core.Result {
	var res core.Result
	switch v := value.(type) {
	case core.Result:
		res = v
	case *core.Result:
		res = *v
	default:
		res = core.NewResult(v)
	}
	res.CallID = call.ID
	res.Tool = call.Name

	if len(tc.delta) > 0 {
		merged := make(map[string]any, len(tc.delta)+len(res.ContextDelta))
		for k, v := range tc.delta {
			merged[k] = v
		}
		for k, v := range res.ContextDelta {
			merged[k] = v
		}
		res.ContextDelta = merged
	}

	if res.Handoff == "" && tc.handoff != "" {
		res.Handoff = tc.handoff
	}
	if res.Handoff != "" && res.Next == core.NextContinue {
		res.Next = core.NextHandoff
	}
	if tc.stop {
		res.Next = core.NextTerminate
	}
	return res
}

// ExecuteBatch executes calls sequentially in declared order and returns one
// Result per call, index-aligned with the input. Execution continues past
// error Results; it stops early only after a NextTerminate Result, in which
// case the returned slice is shorter than the input.
func (h *Handler) ExecuteBatch(ctx context.Context, agent string, snapshot map[string]any, calls []core.ToolCall, tools map[string]Tool) []core.Result {
	results := make([]core.Result, 0, len(calls))
	for _, call := range calls {
		res := h.Execute(ctx, agent, snapshot, call, tools)
		results = append(results, res)
		if res.Next == core.NextTerminate {
			break
		}
	}
	return results
}
