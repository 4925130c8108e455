package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/convoke-ai/convoke/agent"
	"github.com/convoke-ai/convoke/breakpoint"
	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/internal/util"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/model"
	"github.com/convoke-ai/convoke/provider"
	"github.com/convoke-ai/convoke/stream"
	"github.com/convoke-ai/convoke/tool"
)

// DefaultMaxTurns bounds runs whose caller passes a non-positive limit.
const DefaultMaxTurns = 10

// FragmentSink receives streaming fragments as they arrive, before the
// accumulator finalizes the message. Used by live relays; delivery must not
// block.
type FragmentSink interface {
	OnFragment(runID string, f model.Fragment)
}

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// Breakpoints gates every lifecycle event. Defaults to an idle
	// controller with nothing armed.
	Breakpoints *breakpoint.Controller
	// Fragments, when set, receives every accepted streaming fragment.
	Fragments FragmentSink
	// Logger receives orchestrator diagnostics.
	Logger logging.Logger
}

// RunOptions configures a single run.
type RunOptions struct {
	// ContextSeed initializes the run's context variables.
	ContextSeed map[string]any
}

// WithContextSeed seeds the run's context variables.
func WithContextSeed(seed map[string]any) func(o *RunOptions) {
	return func(o *RunOptions) { o.ContextSeed = seed }
}

type activeRun struct {
	run    *core.Run
	cancel context.CancelFunc
}

// Orchestrator owns the turn loop. It is the only writer of run state:
// agents, tools and observers influence a run exclusively through the values
// they return. Public methods are safe for concurrent use and multiple runs
// may be in flight at once, each on its caller's goroutine.
type Orchestrator struct {
	registry    *provider.Registry
	breakpoints *breakpoint.Controller
	handler     *tool.Handler
	fragments   FragmentSink
	logger      logging.Logger

	mu       sync.RWMutex
	agents   map[string]*agent.Agent
	active   map[string]*activeRun
	injected map[string][]string
}

// New constructs an Orchestrator around a provider registry.
func New(registry *provider.Registry, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Breakpoints == nil {
		opts.Breakpoints = breakpoint.NewController(breakpoint.WithLogger(opts.Logger))
	}

	return &Orchestrator{
		registry:    registry,
		breakpoints: opts.Breakpoints,
		handler:     tool.NewHandler(opts.Logger),
		fragments:   opts.Fragments,
		logger:      opts.Logger,
		agents:      make(map[string]*agent.Agent),
		active:      make(map[string]*activeRun),
		injected:    make(map[string][]string),
	}
}

// Breakpoints returns the controller gating this orchestrator's runs.
func (o *Orchestrator) Breakpoints() *breakpoint.Controller { return o.breakpoints }

// SetFragmentSink attaches a streaming fragment receiver. Surfaces built
// after the orchestrator (the livectl server takes the orchestrator as a
// dependency) register themselves here during setup, before any run starts.
func (o *Orchestrator) SetFragmentSink(s FragmentSink) { o.fragments = s }

// RegisterAgent adds an agent to the roster. Handoff targets must be
// registered before a run references them.
func (o *Orchestrator) RegisterAgent(a *agent.Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.agents[a.Name()]; exists {
		return &core.ConfigurationError{Reason: fmt.Sprintf("agent %q already registered", a.Name())}
	}
	o.agents[a.Name()] = a
	return nil
}

// Agents returns the names of all registered agents.
func (o *Orchestrator) Agents() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.agents))
	for name := range o.agents {
		out = append(out, name)
	}
	return out
}

// Inject queues a user message for the named run. Queued messages are
// appended to the history at the start of the next turn, before the agent's
// instruction is resolved.
func (o *Orchestrator) Inject(runID, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[runID]; !ok {
		return fmt.Errorf("no active run %q", runID)
	}
	o.injected[runID] = append(o.injected[runID], text)
	return nil
}

// Cancel stops the named run. The run finishes its current blocking step and
// terminates with a cancelled status.
func (o *Orchestrator) Cancel(runID string) error {
	o.mu.RLock()
	ar, ok := o.active[runID]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no active run %q", runID)
	}
	ar.cancel()
	return nil
}

// ActiveRuns returns the ids of runs currently in flight.
func (o *Orchestrator) ActiveRuns() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.active))
	for id := range o.active {
		out = append(out, id)
	}
	return out
}

// Run executes the turn loop for the named starting agent until a terminal
// condition: the assistant answers without tool calls, the turn limit is
// reached, a tool or directive terminates the run, a fatal error occurs, or
// the context is cancelled.
//
// The Run value is always returned, error or not, carrying whatever history
// accumulated before termination.
func (o *Orchestrator) Run(ctx context.Context, startAgent, input string, maxTurns int, optFns ...func(o *RunOptions)) (*core.Run, error) {
	runOpts := RunOptions{}
	for _, fn := range optFns {
		fn(&runOpts)
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	o.mu.RLock()
	active, ok := o.agents[startAgent]
	o.mu.RUnlock()

	run := core.NewRun(startAgent, runOpts.ContextSeed)
	if !ok {
		err := &core.ConfigurationError{Reason: fmt.Sprintf("unknown start agent %q", startAgent)}
		run.Terminate(core.RunFailed, err.Error())
		return run, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.active[run.ID] = &activeRun{run: run, cancel: cancel}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, run.ID)
		delete(o.injected, run.ID)
		o.mu.Unlock()
	}()

	if input != "" {
		run.Append(core.NewUserMessage(input))
	}

	o.logger.Info("run started", "run_id", run.ID, "agent", startAgent, "max_turns", maxTurns)

	if err := o.emit(ctx, run, core.NewEvent(core.EventStart, run.ID, startAgent, &core.StartPayload{
		RunID:    run.ID,
		Agent:    startAgent,
		Input:    input,
		MaxTurns: maxTurns,
	})); err != nil {
		return o.fail(run, core.RunCancelled, err)
	}

	for turn := 1; turn <= maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return o.fail(run, core.RunCancelled, err)
		}

		o.drainInjected(run)

		terminal, err := o.executeTurn(ctx, run, active, turn)
		if err != nil {
			if ctx.Err() != nil {
				return o.fail(run, core.RunCancelled, ctx.Err())
			}
			return o.fail(run, core.RunFailed, err)
		}

		run.CompleteTurn()
		o.breakpoints.TurnTick(turn)

		if terminal {
			break
		}

		// A handoff may have replaced the active agent.
		o.mu.RLock()
		active = o.agents[run.ActiveAgent]
		o.mu.RUnlock()
	}

	if !run.Terminated() {
		run.Terminate(core.RunTurnLimit, fmt.Sprintf("turn limit %d reached", maxTurns))
	}

	o.logger.Info("run finished", "run_id", run.ID, "status", string(run.Status()), "turns", run.Turns(), "reason", run.Reason())

	return run, nil
}

// executeTurn drives exactly one turn and reports whether the run reached a
// terminal condition. Errors returned here are fatal for the run.
func (o *Orchestrator) executeTurn(ctx context.Context, run *core.Run, active *agent.Agent, turn int) (bool, error) {
	instruction, err := active.ResolveInstruction(run.Context.Snapshot())
	if err != nil {
		return false, &core.ConfigurationError{Reason: fmt.Sprintf("agent %q instruction: %v", active.Name(), err)}
	}

	if err := o.emit(ctx, run, core.NewEvent(core.EventInstruct, run.ID, active.Name(), &core.InstructPayload{
		Turn:        turn,
		Instruction: instruction,
	})); err != nil {
		return false, err
	}

	llm := active.Model()
	if llm == nil {
		llm, err = o.registry.CompletionProvider()
		if err != nil {
			return false, err
		}
	}
	info := llm.Info()

	if err := o.emit(ctx, run, core.NewEvent(core.EventMessageCompletion, run.ID, active.Name(), &core.CompletionRequestPayload{
		Turn:      turn,
		Model:     info.Name,
		Streaming: info.SupportsStreaming,
	})); err != nil {
		return false, err
	}

	req := model.Request{
		Instructions:      instruction,
		Messages:          run.History(),
		ToolChoice:        active.ToolChoice(),
		ParallelToolCalls: active.ParallelToolCalls(),
		Stream:            info.SupportsStreaming,
	}
	if info.SupportsTools {
		req.Tools = active.ToolDefinitions()
	}

	msg, diags, usage, err := o.complete(ctx, run, active, llm, req)
	if err != nil {
		return false, err
	}
	run.Append(msg)

	if err := o.emit(ctx, run, core.NewEvent(core.EventPostMessageCompletion, run.ID, active.Name(), &core.CompletionPayload{
		Turn:             turn,
		Message:          msg,
		Diagnostics:      diags,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
	})); err != nil {
		return false, err
	}

	if !msg.HasToolCalls() {
		run.Terminate(core.RunCompleted, "assistant answered without tool calls")
		return true, nil
	}

	return o.executeToolBatch(ctx, run, active, turn, msg.ToolCalls)
}

// complete requests one completion and returns the finalized assistant
// message. Streaming models yield partial responses whose fragments are
// folded by the accumulator; the accumulator's finalize step always produces
// a message from whatever arrived, recording malformed fragments as
// diagnostics rather than failing the turn. The provider's own error channel
// is fatal.
func (o *Orchestrator) complete(ctx context.Context, run *core.Run, active *agent.Agent, llm model.Model, req model.Request) (core.Message, []string, model.TokenUsage, error) {
	respCh, errCh := llm.Generate(ctx, req)

	acc := stream.NewAccumulator(util.NewID(), active.Name())
	var final *core.Message

	for resp := range respCh {
		if resp.Partial {
			if resp.Fragment == nil {
				continue
			}
			if err := acc.Ingest(*resp.Fragment); err != nil {
				o.logger.Warn("fragment rejected", "run_id", run.ID, "error", err)
			} else if o.fragments != nil {
				o.fragments.OnFragment(run.ID, *resp.Fragment)
			}
			continue
		}
		if resp.Message != nil {
			m := *resp.Message
			final = &m
		}
		if resp.FinishReason != "" {
			acc.SetFinishReason(resp.FinishReason)
		}
		if resp.Usage != nil {
			acc.Ingest(model.Fragment{Usage: resp.Usage})
		}
	}

	if err, ok := <-errCh; ok && err != nil {
		return core.Message{}, nil, model.TokenUsage{}, &core.CompletionError{Provider: llm.Info().Name, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return core.Message{}, nil, model.TokenUsage{}, err
	}

	var msg core.Message
	if final != nil {
		msg = *final
	} else {
		msg = acc.Finalize()
	}
	if msg.ID == "" {
		msg.ID = util.NewID()
	}
	msg.Sender = active.Name()

	return msg, acc.DiagnosticStrings(), acc.Usage(), nil
}

// executeToolBatch runs a tool call batch sequentially, appends the tool
// messages, applies staged context deltas and processes handoff or terminate
// directives. Reports whether the run reached a terminal condition.
func (o *Orchestrator) executeToolBatch(ctx context.Context, run *core.Run, active *agent.Agent, turn int, calls []core.ToolCall) (bool, error) {
	if err := o.emit(ctx, run, core.NewEvent(core.EventToolExecution, run.ID, active.Name(), &core.ToolExecutionPayload{
		Turn:  turn,
		Calls: calls,
	})); err != nil {
		return false, err
	}

	snapshot := run.Context.Snapshot()
	results := o.handler.ExecuteBatch(ctx, active.Name(), snapshot, calls, active.ToolsByName())

	for _, res := range results {
		run.Append(core.NewToolMessage(res.CallID, res.Tool, renderResult(res)))
	}

	if err := o.emit(ctx, run, core.NewEvent(core.EventPostToolExecution, run.ID, active.Name(), &core.PostToolExecutionPayload{
		Turn:    turn,
		Results: results,
	})); err != nil {
		return false, err
	}

	o.applyDeltas(run, results)

	handoff := ""
	terminate := false
	var terminateErr error
	for _, res := range results {
		switch res.Next {
		case core.NextHandoff:
			if res.Handoff != "" {
				// Last handoff in the batch wins.
				handoff = res.Handoff
			}
		case core.NextTerminate:
			terminate = true
			terminateErr = res.Err
		}
	}

	if terminate {
		if terminateErr != nil {
			run.Terminate(core.RunFailed, terminateErr.Error())
			return true, nil
		}
		run.Terminate(core.RunCompleted, "terminated by tool directive")
		return true, nil
	}

	if handoff != "" && handoff != active.Name() {
		o.mu.RLock()
		_, known := o.agents[handoff]
		o.mu.RUnlock()
		if !known {
			return false, &core.ConfigurationError{Reason: fmt.Sprintf("handoff target %q is not a registered agent", handoff)}
		}

		if err := o.emit(ctx, run, core.NewEvent(core.EventHandoff, run.ID, active.Name(), &core.HandoffPayload{
			Turn: turn,
			From: active.Name(),
			To:   handoff,
		})); err != nil {
			return false, err
		}

		o.logger.Info("agent handoff", "run_id", run.ID, "from", active.Name(), "to", handoff)
		run.ActiveAgent = handoff
	}

	return false, nil
}

// applyDeltas folds the batch's context deltas into the run's context in
// declared call order; a later write to the same key wins and the overwrite
// is logged.
func (o *Orchestrator) applyDeltas(run *core.Run, results []core.Result) {
	merged := map[string]any{}
	for _, res := range results {
		for k, v := range res.ContextDelta {
			if _, clash := merged[k]; clash {
				o.logger.Warn("context delta conflict, last write wins", "run_id", run.ID, "key", k, "tool", res.Tool)
			}
			merged[k] = v
		}
	}
	if len(merged) > 0 {
		run.Context.Apply(merged)
	}
}

// emit publishes a lifecycle event to the registry and then blocks on the
// matching breakpoint gate. Observer failures are isolated by the registry;
// only gate interruption (context cancellation) propagates.
func (o *Orchestrator) emit(ctx context.Context, run *core.Run, ev core.Event) error {
	o.registry.Publish(ev)
	return o.breakpoints.Gate(ctx, breakpoint.PointFor(ev.Type))
}

// drainInjected moves queued user messages into the run history.
func (o *Orchestrator) drainInjected(run *core.Run) {
	o.mu.Lock()
	pending := o.injected[run.ID]
	delete(o.injected, run.ID)
	o.mu.Unlock()

	for _, text := range pending {
		run.Append(core.NewUserMessage(text))
	}
}

// fail terminates the run with the given status and returns both the run and
// the error.
func (o *Orchestrator) fail(run *core.Run, status core.RunStatus, err error) (*core.Run, error) {
	run.Terminate(status, err.Error())
	o.logger.Error("run failed", "run_id", run.ID, "status", string(status), "error", err)
	return run, err
}

// renderResult turns a tool result into the content of the tool message fed
// back to the model. Errors are rendered as text so the model can react.
func renderResult(res core.Result) string {
	if res.IsError() {
		return fmt.Sprintf("Error: %s", res.Err.Error())
	}
	switch v := res.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
