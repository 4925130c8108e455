package core

import (
	"sync"
	"time"

	"github.com/convoke-ai/convoke/internal/util"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	// RunRunning marks an in-flight run.
	RunRunning RunStatus = "running"
	// RunCompleted marks normal termination (last message requested no tools).
	RunCompleted RunStatus = "completed"
	// RunTurnLimit marks termination because the turn counter reached maxTurns.
	RunTurnLimit RunStatus = "turn_limit"
	// RunFailed marks termination by a fatal error (configuration or
	// completion provider failure, or a non-recoverable tool).
	RunFailed RunStatus = "failed"
	// RunCancelled marks termination by external cancellation.
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status ends the run.
func (s RunStatus) Terminal() bool { return s != RunRunning }

// Run is one end-to-end execution of the turn loop. It is created by the
// orchestrator at start, mutated only by the orchestrator while running, and
// returned to the caller at termination with whatever history accumulated.
//
// History is monotonically append-only and the turn counter increases by
// exactly one per completed turn.
type Run struct {
	ID          string
	ActiveAgent string
	Context     *ContextVars
	Created     time.Time
	Finished    time.Time

	mu       sync.RWMutex
	messages []Message
	turns    int
	status   RunStatus
	reason   string
}

// NewRun creates a running Run for the given starting agent.
func NewRun(agent string, contextSeed map[string]any) *Run {
	return &Run{
		ID:          util.NewID(),
		ActiveAgent: agent,
		Context:     NewContextVars(contextSeed),
		Created:     time.Now().UTC(),
		status:      RunRunning,
	}
}

// Append adds finalized messages to the history.
func (r *Run) Append(msgs ...Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msgs...)
}

// History returns a defensive copy of the message history.
func (r *Run) History() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// LastMessage returns the most recent history entry, if any.
func (r *Run) LastMessage() (Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.messages) == 0 {
		return Message{}, false
	}
	return r.messages[len(r.messages)-1], true
}

// Turns returns the number of completed turns.
func (r *Run) Turns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.turns
}

// CompleteTurn increments the turn counter by exactly one.
func (r *Run) CompleteTurn() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns++
	return r.turns
}

// Status returns the current lifecycle state.
func (r *Run) Status() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Reason explains which terminal condition applied, empty while running.
func (r *Run) Reason() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reason
}

// Terminate transitions the run into a terminal status. The first terminal
// transition wins; later calls are ignored.
func (r *Run) Terminate(status RunStatus, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Terminal() {
		return
	}
	r.status = status
	r.reason = reason
	r.Finished = time.Now().UTC()
}

// Terminated reports whether a terminal status has been reached.
func (r *Run) Terminated() bool { return r.Status().Terminal() }
