// Package core contains the shared data model of the Convoke orchestration
// engine: messages and tool calls, the versioned context-variable store,
// typed lifecycle events, tool results with their next-step directive, the
// Run aggregate and the error taxonomy.
//
// Everything in this package is either an immutable value (Event, Result) or
// a container mutated through a single sanctioned path (Run and ContextVars
// are written only by the orchestrator). Observers read snapshots, never live
// internals.
package core
