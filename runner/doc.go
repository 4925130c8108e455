// Package runner implements the turn orchestrator: the single writer that
// drives agents through the turn loop, requests model completions through the
// provider registry, executes tool calls, applies context deltas and agent
// handoffs, and emits the lifecycle event at each step. Every event emission
// passes the breakpoint controller's gate before the run proceeds, so an
// armed breakpoint or a global pause suspends the run at a well defined
// point.
package runner
