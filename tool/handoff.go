package tool

import (
	"fmt"
)

// handoffTool requests transfer of the active agent to a named peer.
type handoffTool struct{}

// NewHandoffTool constructs the built-in transfer tool. Runs register it
// automatically for every agent so models can route work between peers.
func NewHandoffTool() Tool { return &handoffTool{} }

func (t *handoffTool) Name() string { return "transfer_to_agent" }

func (t *handoffTool) Description() string {
	return "Request transfer of control to another agent by name. Use when another agent is better suited."
}

func (t *handoffTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{"type": "string", "description": "Target agent name"},
		},
		"required": []string{"agent"},
	}
}

func (t *handoffTool) Call(tc *Context, args map[string]any) (any, error) {
	raw, ok := args["agent"]
	if !ok {
		return nil, fmt.Errorf("missing required field 'agent'")
	}
	agentName, ok := raw.(string)
	if !ok || agentName == "" {
		return nil, fmt.Errorf("field 'agent' must be non-empty string")
	}
	tc.Handoff(agentName)
	return map[string]any{"transferred": true, "agent": agentName}, nil
}
