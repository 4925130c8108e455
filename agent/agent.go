package agent

import (
	"fmt"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/model"
	"github.com/convoke-ai/convoke/tool"
)

// Options configures an Agent instance.
//
// Use functional options with New to override defaults.
type Options struct {
	Instruction       Instruction
	Tools             []tool.Tool
	ToolChoice        string
	ParallelToolCalls bool
	AllowHandoff      bool
}

// WithInstruction sets the agent's instruction.
func WithInstruction(i Instruction) func(*Options) {
	return func(o *Options) { o.Instruction = i }
}

// WithInstructionText sets a static instruction string.
func WithInstructionText(text string) func(*Options) {
	return func(o *Options) { o.Instruction = NewInstructionFromText(text) }
}

// WithInstructionFunc sets a dynamic instruction resolved per turn from a
// snapshot of the run's context variables.
func WithInstructionFunc(f func(vars map[string]any) (string, error)) func(*Options) {
	return func(o *Options) { o.Instruction = NewInstructionFromFunc(f) }
}

// WithTools appends tools to the agent's roster. Declaration order is
// preserved and is the order tools are offered to the model.
func WithTools(tools ...tool.Tool) func(*Options) {
	return func(o *Options) { o.Tools = append(o.Tools, tools...) }
}

// WithToolChoice sets the model-side tool choice directive ("auto", "none",
// "required" or a tool name, depending on what the model supports).
func WithToolChoice(choice string) func(*Options) {
	return func(o *Options) { o.ToolChoice = choice }
}

// WithParallelToolCalls allows the model to request several tool calls in one
// completion. Execution remains sequential in declared order.
func WithParallelToolCalls(enabled bool) func(*Options) {
	return func(o *Options) { o.ParallelToolCalls = enabled }
}

// WithHandoff controls whether the built-in transfer_to_agent tool is added
// to the roster.
func WithHandoff(enabled bool) func(*Options) {
	return func(o *Options) { o.AllowHandoff = enabled }
}

// Agent is an immutable agent configuration: a name, the model that speaks
// for it, its instruction and an ordered tool roster. Agents are registered
// with the orchestrator up front and looked up by name when a handoff
// activates them. An Agent carries no per-run state and may be shared by
// concurrent runs.
type Agent struct {
	name              string
	llm               model.Model
	instruction       Instruction
	tools             []tool.Tool
	toolIndex         map[string]tool.Tool
	toolChoice        string
	parallelToolCalls bool
}

// New creates an agent with sensible defaults: a generic assistant
// instruction, handoff enabled and no extra tools.
func New(name string, llm model.Model, optFns ...func(*Options)) *Agent {
	opts := Options{
		Instruction:  NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
		AllowHandoff: true,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	tools := make([]tool.Tool, 0, len(opts.Tools)+1)
	tools = append(tools, opts.Tools...)
	if opts.AllowHandoff {
		tools = append(tools, tool.NewHandoffTool())
	}

	index := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		index[t.Name()] = t
	}

	return &Agent{
		name:              name,
		llm:               llm,
		instruction:       opts.Instruction,
		tools:             tools,
		toolIndex:         index,
		toolChoice:        opts.ToolChoice,
		parallelToolCalls: opts.ParallelToolCalls,
	}
}

// Name returns the agent's unique name.
func (a *Agent) Name() string { return a.name }

// Model returns the model bound to this agent, which may be nil when the
// orchestrator's primary completion provider should be used instead.
func (a *Agent) Model() model.Model { return a.llm }

// Instruction returns the agent's instruction.
func (a *Agent) Instruction() Instruction { return a.instruction }

// ResolveInstruction resolves the instruction against a context snapshot.
func (a *Agent) ResolveInstruction(vars map[string]any) (string, error) {
	return a.instruction.Resolve(vars)
}

// Tools returns the roster in declaration order.
func (a *Agent) Tools() []tool.Tool {
	out := make([]tool.Tool, len(a.tools))
	copy(out, a.tools)
	return out
}

// ToolsByName returns the roster keyed by tool name for call routing.
func (a *Agent) ToolsByName() map[string]tool.Tool {
	out := make(map[string]tool.Tool, len(a.toolIndex))
	for k, v := range a.toolIndex {
		out[k] = v
	}
	return out
}

// ToolChoice returns the configured tool choice directive.
func (a *Agent) ToolChoice() string { return a.toolChoice }

// ParallelToolCalls reports whether the model may batch tool calls.
func (a *Agent) ParallelToolCalls() bool { return a.parallelToolCalls }

// ToolDefinitions renders the roster as model-facing function declarations,
// in declaration order.
func (a *Agent) ToolDefinitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(a.tools))
	for _, t := range a.tools {
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Validate checks the configuration for problems that would only surface mid
// run otherwise: an empty name or duplicate tool names.
func (a *Agent) Validate() error {
	if a.name == "" {
		return &core.ConfigurationError{Reason: "agent name must not be empty"}
	}
	seen := map[string]bool{}
	for _, t := range a.tools {
		if t.Name() == "" {
			return &core.ConfigurationError{Reason: fmt.Sprintf("agent %q has a tool with an empty name", a.name)}
		}
		if seen[t.Name()] {
			return &core.ConfigurationError{Reason: fmt.Sprintf("agent %q declares tool %q twice", a.name, t.Name())}
		}
		seen[t.Name()] = true
	}
	return nil
}
