package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextVarsSnapshotIsDefensive(t *testing.T) {
	cv := NewContextVars(map[string]any{"a": 1})

	snap := cv.Snapshot()
	snap["a"] = 99
	snap["b"] = "new"

	v, ok := cv.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = cv.Get("b")
	assert.False(t, ok)
}

func TestContextVarsApplyBumpsVersionOnce(t *testing.T) {
	cv := NewContextVars(nil)
	assert.Equal(t, uint64(0), cv.Version())

	got := cv.Apply(map[string]any{"a": 1, "b": 2})
	assert.Equal(t, uint64(1), got)
	assert.Equal(t, uint64(1), cv.Version())
	assert.Equal(t, 2, cv.Len())

	// Empty delta is a no-op.
	got = cv.Apply(nil)
	assert.Equal(t, uint64(1), got)
}

func TestContextVarsKeysPreserveInsertionOrder(t *testing.T) {
	cv := NewContextVars(nil)
	cv.Apply(map[string]any{"z": 1})
	cv.Apply(map[string]any{"a": 2})
	cv.Apply(map[string]any{"z": 3}) // overwrite keeps original position

	assert.Equal(t, []string{"z", "a"}, cv.Keys())
	v, _ := cv.Get("z")
	assert.Equal(t, 3, v)
}

func TestRunLifecycle(t *testing.T) {
	run := NewRun("Agent", map[string]any{"seed": true})
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunRunning, run.Status())
	assert.False(t, run.Terminated())

	run.Append(NewUserMessage("hi"))
	run.Append(NewMessage(RoleAssistant, "hello", "Agent"))
	assert.Len(t, run.History(), 2)

	last, ok := run.LastMessage()
	require.True(t, ok)
	assert.Equal(t, "hello", last.Content)

	assert.Equal(t, 1, run.CompleteTurn())
	assert.Equal(t, 2, run.CompleteTurn())
	assert.Equal(t, 2, run.Turns())
}

func TestRunTerminateFirstWins(t *testing.T) {
	run := NewRun("Agent", nil)

	run.Terminate(RunCompleted, "answered")
	run.Terminate(RunFailed, "too late")

	assert.Equal(t, RunCompleted, run.Status())
	assert.Equal(t, "answered", run.Reason())
	assert.True(t, run.Terminated())
	assert.False(t, run.Finished.IsZero())
}

func TestRunHistoryIsDefensiveCopy(t *testing.T) {
	run := NewRun("Agent", nil)
	run.Append(NewUserMessage("original"))

	history := run.History()
	history[0].Content = "mutated"

	fresh := run.History()
	assert.Equal(t, "original", fresh[0].Content)
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunRunning.Terminal())
	for _, s := range []RunStatus{RunCompleted, RunTurnLimit, RunFailed, RunCancelled} {
		assert.True(t, s.Terminal(), string(s))
	}
}

func TestNewEventStampsMetadata(t *testing.T) {
	before := time.Now().UTC()
	ev := NewEvent(EventInstruct, "run-1", "Agent", &InstructPayload{Turn: 1})

	assert.Equal(t, EventInstruct, ev.Type)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, "Agent", ev.Agent)
	assert.NotEmpty(t, ev.TraceID)
	assert.False(t, ev.Timestamp.Before(before))
}

func TestEventTypeValid(t *testing.T) {
	for _, et := range EventTypes() {
		assert.True(t, et.Valid(), string(et))
	}
	assert.False(t, EventType("NOT_A_THING").Valid())
}

func TestMessageHelpers(t *testing.T) {
	user := NewUserMessage("question")
	assert.Equal(t, RoleUser, user.Role)
	assert.NotEmpty(t, user.ID)
	assert.False(t, user.HasToolCalls())

	toolMsg := NewToolMessage("call-1", "lookup", "42")
	assert.Equal(t, RoleTool, toolMsg.Role)
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
	assert.Equal(t, "42", toolMsg.Content)

	withCalls := NewMessage(RoleAssistant, "", "Agent")
	withCalls.ToolCalls = []ToolCall{{ID: "c1", Name: "x"}}
	assert.True(t, withCalls.HasToolCalls())
}

func TestResultConstructors(t *testing.T) {
	plain := NewResult(42)
	assert.Equal(t, NextContinue, plain.Next)
	assert.False(t, plain.IsError())

	handoff := NewHandoffResult("bye", "Billing")
	assert.Equal(t, NextHandoff, handoff.Next)
	assert.Equal(t, "Billing", handoff.Handoff)

	failed := NewErrorResult(assert.AnError)
	assert.True(t, failed.IsError())
	assert.Equal(t, NextContinue, failed.Next)
}

func TestNextStepString(t *testing.T) {
	assert.Equal(t, "continue", NextContinue.String())
	assert.Equal(t, "handoff", NextHandoff.String())
	assert.Equal(t, "terminate", NextTerminate.String())
}
