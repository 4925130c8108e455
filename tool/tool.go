// Package tool implements the function / tool calling subsystem that lets
// agents invoke structured capabilities (APIs, computations, side-effects)
// with schema validated arguments and consistent error handling. The Handler
// validates calls against the active agent's declared tools and executes
// batches sequentially, isolating per-call failures as error Results.
package tool

import (
	"fmt"

	"github.com/convoke-ai/convoke/internal/util"
)

// Tool defines the interface for extending agent capabilities with external functions.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Stage state changes and handoffs through the ToolContext or a returned
//     core.Result, never by mutating shared state directly
//   - Be thread-safe if used concurrently
type Tool interface {
	// Name returns the unique identifier for this tool.
	// Names should be descriptive and follow snake_case conventions.
	Name() string

	// Description returns a human-readable description of what this tool does.
	// It is provided to the LLM to help it decide when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	// The schema is used for parameter validation and LLM function calling.
	Parameters() map[string]any

	// Call executes the tool with parsed, validated arguments. The return
	// value may be a core.Result (with context delta / handoff / next step)
	// or any bare value, which the handler wraps into a neutral Result.
	Call(toolCtx *Context, args map[string]any) (any, error)
}

// NonRecoverable marks tools whose execution failure must terminate the run
// instead of being fed back to the model as a recoverable error Result.
type NonRecoverable interface {
	NonRecoverable() bool
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error codes attached to ToolError for uniform downstream handling.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodePanic      = "PANIC"
)

// ToolError represents errors that occur during tool validation or execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// critical wraps a tool and marks it non-recoverable.
type critical struct {
	Tool
}

func (critical) NonRecoverable() bool { return true }

// Critical wraps a tool so that an execution failure terminates the run.
func Critical(t Tool) Tool { return critical{Tool: t} }

// IsNonRecoverable reports whether t is marked non-recoverable.
func IsNonRecoverable(t Tool) bool {
	nr, ok := t.(NonRecoverable)
	return ok && nr.NonRecoverable()
}
