// Package convoke provides a high-level façade over the turn orchestrator,
// the provider registry and the breakpoint controller, enabling rapid
// construction of multi-agent systems. Most applications interact with this
// package by:
//  1. Creating a Convoke via New() (optionally overriding logger or breakpoints)
//  2. Registering completion and observer providers
//  3. Registering one or more agents
//  4. Starting runs with Run()
//
// The façade delegates orchestration to runner.Orchestrator while keeping
// setup ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically attach a telemetry exporter and a
// structured logger.
package convoke

import (
	"context"

	"github.com/convoke-ai/convoke/agent"
	"github.com/convoke-ai/convoke/breakpoint"
	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/provider"
	"github.com/convoke-ai/convoke/runner"
)

// Options configures the Convoke instance.
type Options struct {
	// Breakpoints gates the run lifecycle. Defaults to an idle controller.
	Breakpoints *breakpoint.Controller

	// Fragments, when set, receives streaming fragments as they arrive.
	Fragments runner.FragmentSink

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Convoke is the high-level façade aggregating the registry, the breakpoint
// controller and the orchestrator.
type Convoke struct {
	registry    *provider.Registry
	breakpoints *breakpoint.Controller
	orch        *runner.Orchestrator
}

// New creates a new Convoke instance with optional overrides.
func New(optFns ...func(o *Options)) *Convoke {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Breakpoints == nil {
		opts.Breakpoints = breakpoint.NewController(breakpoint.WithLogger(opts.Logger))
	}

	registry := provider.NewRegistry(func(o *provider.RegistryOptions) {
		o.Logger = opts.Logger
	})

	orch := runner.New(registry, func(o *runner.Options) {
		o.Breakpoints = opts.Breakpoints
		o.Fragments = opts.Fragments
		o.Logger = opts.Logger
	})

	return &Convoke{
		registry:    registry,
		breakpoints: opts.Breakpoints,
		orch:        orch,
	}
}

// Registry returns the provider registry for registration and inspection.
func (c *Convoke) Registry() *provider.Registry { return c.registry }

// Breakpoints returns the breakpoint controller gating runs.
func (c *Convoke) Breakpoints() *breakpoint.Controller { return c.breakpoints }

// Orchestrator returns the underlying turn orchestrator.
func (c *Convoke) Orchestrator() *runner.Orchestrator { return c.orch }

// RegisterProvider adds a completion or observer provider to the registry.
func (c *Convoke) RegisterProvider(p any, optFns ...func(o *provider.Options)) error {
	return c.registry.Register(p, optFns...)
}

// RegisterAgent adds an agent to the orchestrator's roster.
func (c *Convoke) RegisterAgent(a *agent.Agent) error {
	return c.orch.RegisterAgent(a)
}

// Run executes the turn loop for the named agent until a terminal condition
// and returns the run with its accumulated history.
func (c *Convoke) Run(ctx context.Context, agentName, input string, maxTurns int, optFns ...func(o *runner.RunOptions)) (*core.Run, error) {
	return c.orch.Run(ctx, agentName, input, maxTurns, optFns...)
}
