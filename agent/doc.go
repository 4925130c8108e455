// Package agent defines the Agent configuration type: a named, immutable
// bundle of model, instruction and tool roster that the orchestrator
// activates one at a time over a run. Agents carry no per-run state; all
// mutable state lives on the run itself.
package agent
