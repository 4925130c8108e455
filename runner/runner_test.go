package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoke-ai/convoke/agent"
	"github.com/convoke-ai/convoke/breakpoint"
	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/model"
	"github.com/convoke-ai/convoke/provider"
	"github.com/convoke-ai/convoke/telemetry"
	"github.com/convoke-ai/convoke/tool"
)

type fixture struct {
	orch    *Orchestrator
	mock    *model.MockModel
	journal *telemetry.Journal
}

func newFixture(t *testing.T, agents ...*agent.Agent) *fixture {
	t.Helper()

	registry := provider.NewRegistry()
	mock := model.NewMockModel("mock")
	require.NoError(t, registry.Register(mock))

	journal := telemetry.NewJournal()
	require.NoError(t, registry.Register(journal, provider.WithName("journal")))

	orch := New(registry)
	for _, a := range agents {
		require.NoError(t, orch.RegisterAgent(a))
	}
	return &fixture{orch: orch, mock: mock, journal: journal}
}

func simpleAgent(name string, tools ...tool.Tool) *agent.Agent {
	return agent.New(name, nil,
		agent.WithInstructionText("You are "+name+"."),
		agent.WithHandoff(false),
		agent.WithTools(tools...),
	)
}

func TestRunCompletesWithoutToolCalls(t *testing.T) {
	f := newFixture(t, simpleAgent("Solo"))
	f.mock.AddResponse("hi", "hello there")

	run, err := f.orch.Run(context.Background(), "Solo", "hi", 5)
	require.NoError(t, err)

	assert.Equal(t, core.RunCompleted, run.Status())
	assert.Equal(t, 1, run.Turns())

	history := run.History()
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, core.RoleAssistant, history[1].Role)
	assert.Equal(t, "hello there", history[1].Content)
	assert.Equal(t, "Solo", history[1].Sender)

	assert.Equal(t, []core.EventType{
		core.EventStart,
		core.EventInstruct,
		core.EventMessageCompletion,
		core.EventPostMessageCompletion,
	}, f.journal.Types(run.ID))
}

func TestRunToolCallFlow(t *testing.T) {
	greet := tool.NewFunctionTool("greet", "Produce a greeting",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
			"required": []string{"name"},
		},
		func(tc *tool.Context, args map[string]any) (any, error) {
			tc.Set("greeted", args["name"])
			return "Hello, " + args["name"].(string), nil
		},
	)

	f := newFixture(t, simpleAgent("Worker", greet))
	f.mock.AddToolCallResponse("greet Ada", core.ToolCall{
		ID: "call-1", Name: "greet", Arguments: `{"name":"Ada"}`,
	})

	run, err := f.orch.Run(context.Background(), "Worker", "greet Ada", 5)
	require.NoError(t, err)

	assert.Equal(t, core.RunCompleted, run.Status())
	assert.Equal(t, 2, run.Turns())

	// Context delta staged by the tool was applied.
	v, ok := run.Context.Get("greeted")
	require.True(t, ok)
	assert.Equal(t, "Ada", v)
	assert.Equal(t, uint64(1), run.Context.Version())

	// Tool message carries the tool's value and call correlation.
	history := run.History()
	var toolMsg *core.Message
	for i := range history {
		if history[i].Role == core.RoleTool {
			toolMsg = &history[i]
			break
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
	assert.Equal(t, "Hello, Ada", toolMsg.Content)

	assert.Equal(t, []core.EventType{
		core.EventStart,
		core.EventInstruct,
		core.EventMessageCompletion,
		core.EventPostMessageCompletion,
		core.EventToolExecution,
		core.EventPostToolExecution,
		core.EventInstruct,
		core.EventMessageCompletion,
		core.EventPostMessageCompletion,
	}, f.journal.Types(run.ID))
}

func TestRunHandoff(t *testing.T) {
	triage := agent.New("Triage", nil, agent.WithInstructionText("Route the user."))
	billing := simpleAgent("Billing")

	f := newFixture(t, triage, billing)
	f.mock.AddToolCallResponse("invoice question", core.ToolCall{
		ID: "call-1", Name: "transfer_to_agent", Arguments: `{"agent":"Billing"}`,
	})

	run, err := f.orch.Run(context.Background(), "Triage", "invoice question", 5)
	require.NoError(t, err)

	assert.Equal(t, core.RunCompleted, run.Status())
	assert.Equal(t, "Billing", run.ActiveAgent)

	// Exactly one HANDOFF event with correct endpoints.
	var handoffs []telemetry.Record
	for _, rec := range f.journal.RecordsForRun(run.ID) {
		if rec.Type == core.EventHandoff {
			handoffs = append(handoffs, rec)
		}
	}
	require.Len(t, handoffs, 1)
	payload, ok := handoffs[0].Payload.(*core.HandoffPayload)
	require.True(t, ok)
	assert.Equal(t, "Triage", payload.From)
	assert.Equal(t, "Billing", payload.To)

	// The turn after the handoff ran as the new agent.
	history := run.History()
	last := history[len(history)-1]
	assert.Equal(t, core.RoleAssistant, last.Role)
	assert.Equal(t, "Billing", last.Sender)
}

func TestRunUnknownHandoffTargetFails(t *testing.T) {
	triage := agent.New("Triage", nil)
	f := newFixture(t, triage)
	f.mock.AddToolCallResponse("go", core.ToolCall{
		ID: "call-1", Name: "transfer_to_agent", Arguments: `{"agent":"Nobody"}`,
	})

	run, err := f.orch.Run(context.Background(), "Triage", "go", 5)
	require.Error(t, err)

	var cfgErr *core.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, core.RunFailed, run.Status())
}

func TestRunTurnLimit(t *testing.T) {
	busy := tool.NewFunctionTool("tick", "Keep the loop going", map[string]any{"type": "object"},
		func(tc *tool.Context, args map[string]any) (any, error) {
			return "again", nil
		},
	)

	f := newFixture(t, simpleAgent("Loop", busy))
	// Both the user input and the tool feedback trigger another tool call.
	call := core.ToolCall{ID: "call-1", Name: "tick", Arguments: `{}`}
	f.mock.AddToolCallResponse("go", call)
	f.mock.AddToolCallResponse("again", call)

	run, err := f.orch.Run(context.Background(), "Loop", "go", 3)
	require.NoError(t, err)

	assert.Equal(t, core.RunTurnLimit, run.Status())
	assert.Equal(t, 3, run.Turns())
}

func TestRunTurnNumbersMonotonic(t *testing.T) {
	busy := tool.NewFunctionTool("tick", "Keep the loop going", map[string]any{"type": "object"},
		func(tc *tool.Context, args map[string]any) (any, error) { return "again", nil },
	)
	f := newFixture(t, simpleAgent("Loop", busy))
	call := core.ToolCall{ID: "call-1", Name: "tick", Arguments: `{}`}
	f.mock.AddToolCallResponse("go", call)
	f.mock.AddToolCallResponse("again", call)

	run, err := f.orch.Run(context.Background(), "Loop", "go", 3)
	require.NoError(t, err)

	var turns []int
	for _, rec := range f.journal.RecordsForRun(run.ID) {
		if rec.Type == core.EventInstruct {
			payload := rec.Payload.(*core.InstructPayload)
			turns = append(turns, payload.Turn)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, turns)
}

func TestRunUnknownStartAgent(t *testing.T) {
	f := newFixture(t)

	run, err := f.orch.Run(context.Background(), "Ghost", "hi", 5)
	require.Error(t, err)
	require.NotNil(t, run)
	assert.Equal(t, core.RunFailed, run.Status())
}

func TestRunWithoutCompletionProvider(t *testing.T) {
	registry := provider.NewRegistry()
	orch := New(registry)
	require.NoError(t, orch.RegisterAgent(simpleAgent("Solo")))

	run, err := orch.Run(context.Background(), "Solo", "hi", 5)
	require.Error(t, err)

	var cfgErr *core.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, core.RunFailed, run.Status())
}

type failingModel struct{}

func (failingModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response)
	errCh := make(chan error, 1)
	errCh <- errors.New("provider down")
	close(respCh)
	close(errCh)
	return respCh, errCh
}

func (failingModel) Info() model.Info {
	return model.Info{Name: "failing", Provider: "test", SupportsTools: true}
}

func TestRunCompletionErrorIsFatal(t *testing.T) {
	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(failingModel{}))

	orch := New(registry)
	require.NoError(t, orch.RegisterAgent(simpleAgent("Solo")))

	run, err := orch.Run(context.Background(), "Solo", "hi", 5)
	require.Error(t, err)

	var compErr *core.CompletionError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, "failing", compErr.Provider)

	// The run is returned with its history intact.
	assert.Equal(t, core.RunFailed, run.Status())
	require.Len(t, run.History(), 1)
	assert.Equal(t, core.RoleUser, run.History()[0].Role)
}

func TestRunDeltaLastWriteWins(t *testing.T) {
	set := func(name, value string) tool.Tool {
		return tool.NewFunctionTool(name, "Write the shared key", map[string]any{"type": "object"},
			func(tc *tool.Context, args map[string]any) (any, error) {
				tc.Set("shared", value)
				return "ok", nil
			},
		)
	}

	f := newFixture(t, simpleAgent("Writer", set("first", "one"), set("second", "two")))
	f.mock.AddToolCallResponse("go",
		core.ToolCall{ID: "c1", Name: "first", Arguments: `{}`},
		core.ToolCall{ID: "c2", Name: "second", Arguments: `{}`},
	)

	run, err := f.orch.Run(context.Background(), "Writer", "go", 5)
	require.NoError(t, err)

	v, ok := run.Context.Get("shared")
	require.True(t, ok)
	assert.Equal(t, "two", v)
	// One version bump for the whole batch.
	assert.Equal(t, uint64(1), run.Context.Version())
}

func TestRunGatesAtArmedBreakpoint(t *testing.T) {
	bp := breakpoint.NewController()
	bp.Arm(breakpoint.PointStart)

	registry := provider.NewRegistry()
	mock := model.NewMockModel("mock")
	mock.AddResponse("hi", "done")
	require.NoError(t, registry.Register(mock))

	orch := New(registry, func(o *Options) { o.Breakpoints = bp })
	require.NoError(t, orch.RegisterAgent(simpleAgent("Solo")))

	type outcome struct {
		run *core.Run
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		run, err := orch.Run(context.Background(), "Solo", "hi", 5)
		ch <- outcome{run, err}
	}()

	// The run suspends at the START gate and shows up as active.
	var runID string
	require.Eventually(t, func() bool {
		ids := orch.ActiveRuns()
		if len(ids) != 1 {
			return false
		}
		runID = ids[0]
		return true
	}, time.Second, 10*time.Millisecond)

	select {
	case <-ch:
		t.Fatal("run finished while START breakpoint was armed")
	case <-time.After(50 * time.Millisecond):
	}

	// Inject a message while suspended; it lands before the first turn.
	require.NoError(t, orch.Inject(runID, "also consider this"))
	bp.Release(breakpoint.PointStart)

	var out outcome
	select {
	case out = <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after release")
	}
	require.NoError(t, out.err)

	history := out.run.History()
	require.GreaterOrEqual(t, len(history), 3)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, "also consider this", history[1].Content)
	assert.Equal(t, core.RoleAssistant, history[2].Role)
}

func TestRunBlocksBeforeToolExecution(t *testing.T) {
	bp := breakpoint.NewController()
	bp.Arm(breakpoint.PointToolExecution)

	executed := make(chan struct{}, 1)
	probe := tool.NewFunctionTool("probe", "Record execution", map[string]any{"type": "object"},
		func(tc *tool.Context, args map[string]any) (any, error) {
			executed <- struct{}{}
			return "done", nil
		},
	)

	registry := provider.NewRegistry()
	mock := model.NewMockModel("mock")
	mock.AddToolCallResponse("go", core.ToolCall{ID: "c1", Name: "probe", Arguments: `{}`})
	require.NoError(t, registry.Register(mock))

	orch := New(registry, func(o *Options) { o.Breakpoints = bp })
	require.NoError(t, orch.RegisterAgent(simpleAgent("Solo", probe)))

	type outcome struct {
		run *core.Run
		err error
	}
	ch := make(chan outcome, 1)
	var run *core.Run
	go func() {
		r, err := orch.Run(context.Background(), "Solo", "go", 5)
		ch <- outcome{r, err}
	}()

	require.Eventually(t, func() bool { return len(orch.ActiveRuns()) == 1 }, time.Second, 10*time.Millisecond)

	// Give the run time to reach the gate: the assistant message must be
	// finalized and appended, but no tool may have executed yet.
	var assistant *core.Message
	require.Eventually(t, func() bool {
		orch.mu.RLock()
		defer orch.mu.RUnlock()
		for _, ar := range orch.active {
			history := ar.run.History()
			for i := range history {
				if history[i].Role == core.RoleAssistant {
					assistant = &history[i]
					return true
				}
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
	require.True(t, assistant.HasToolCalls())

	select {
	case <-executed:
		t.Fatal("tool executed before the TOOL_EXECUTION gate was released")
	case <-time.After(50 * time.Millisecond):
	}

	bp.Release(breakpoint.PointToolExecution)

	select {
	case <-executed:
	case <-time.After(2 * time.Second):
		t.Fatal("tool did not execute after release")
	}

	out := <-ch
	require.NoError(t, out.err)
	run = out.run
	assert.Equal(t, core.RunCompleted, run.Status())
}

func TestRunCancel(t *testing.T) {
	bp := breakpoint.NewController()
	bp.Arm(breakpoint.PointMessageCompletion)

	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(model.NewMockModel("mock")))

	orch := New(registry, func(o *Options) { o.Breakpoints = bp })
	require.NoError(t, orch.RegisterAgent(simpleAgent("Solo")))

	type outcome struct {
		run *core.Run
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		run, err := orch.Run(context.Background(), "Solo", "hi", 5)
		ch <- outcome{run, err}
	}()

	var runID string
	require.Eventually(t, func() bool {
		ids := orch.ActiveRuns()
		if len(ids) != 1 {
			return false
		}
		runID = ids[0]
		return true
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, orch.Cancel(runID))

	var out outcome
	select {
	case out = <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	require.Error(t, out.err)
	assert.Equal(t, core.RunCancelled, out.run.Status())

	assert.Error(t, orch.Cancel(runID))
}

func TestRegisterAgentRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.RegisterAgent(simpleAgent("Dup")))
	assert.Error(t, f.orch.RegisterAgent(simpleAgent("Dup")))
}

func TestInjectUnknownRun(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.orch.Inject("missing", "text"))
}

func TestRenderResult(t *testing.T) {
	assert.Equal(t, "plain", renderResult(core.NewResult("plain")))
	assert.Equal(t, `{"n":1}`, renderResult(core.NewResult(map[string]any{"n": 1})))
	assert.Equal(t, "", renderResult(core.NewResult(nil)))

	errRes := core.NewErrorResult(errors.New("broke"))
	assert.Equal(t, "Error: broke", renderResult(errRes))
}
