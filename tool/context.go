package tool

import (
	"context"

	"github.com/convoke-ai/convoke/logging"
)

// Context carries the per-call execution scope handed to a tool: a read-only
// snapshot of the run's context variables, a staging buffer for writes, and
// the handoff / termination directives. The handler folds the staged state
// into the call's Result after execution; tools never mutate shared state
// directly.
type Context struct {
	ctx      context.Context
	agent    string
	callID   string
	snapshot map[string]any
	delta    map[string]any
	handoff  string
	stop     bool
	logger   logging.Logger
}

// NewContext builds a tool context for one call.
func NewContext(ctx context.Context, agent, callID string, snapshot map[string]any, logger logging.Logger) *Context {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Context{
		ctx:      ctx,
		agent:    agent,
		callID:   callID,
		snapshot: snapshot,
		delta:    map[string]any{},
		logger:   logger,
	}
}

// Context returns the ambient cancellation context.
func (c *Context) Context() context.Context { return c.ctx }

// Agent returns the name of the agent that requested the call.
func (c *Context) Agent() string { return c.agent }

// FunctionCallID returns the id correlating model request and tool execution.
func (c *Context) FunctionCallID() string { return c.callID }

// Logger returns the logger scoped to this call.
func (c *Context) Logger() logging.Logger { return c.logger }

// Get reads a context variable: staged writes shadow the snapshot.
func (c *Context) Get(key string) (any, bool) {
	if v, ok := c.delta[key]; ok {
		return v, true
	}
	v, ok := c.snapshot[key]
	return v, ok
}

// Set stages a context-variable write. The write is applied by the
// orchestrator when the call's Result is processed.
func (c *Context) Set(key string, value any) { c.delta[key] = value }

// Handoff requests that the named agent take over for the next turn.
func (c *Context) Handoff(agent string) { c.handoff = agent }

// Terminate requests that the run stop after the current turn.
func (c *Context) Terminate() { c.stop = true }

// Delta returns the staged context-variable writes.
func (c *Context) Delta() map[string]any { return c.delta }
