package provider

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/logging"
	"github.com/convoke-ai/convoke/model"
)

// registration is the resolved record for one provider: capabilities are
// type-asserted exactly once, here.
type registration struct {
	name      string
	priority  int
	seq       int // registration order, tiebreaker for equal priorities
	completer model.Model
	observer  Observer
	types     map[core.EventType]bool // nil means all
}

func (r *registration) wants(t core.EventType) bool {
	return r.observer != nil && (r.types == nil || r.types[t])
}

// Registry owns provider registration, lookup and event dispatch. Lookup and
// Publish are read-mostly and safe for concurrent use across runs;
// registration and deregistration are serialized writes.
type Registry struct {
	mu              sync.RWMutex
	entries         []*registration
	primary         *registration
	primaryExplicit bool
	nextSeq         int
	logger          logging.Logger
}

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{logger: opts.Logger}
}

// Register records a provider and resolves its capabilities. A provider must
// implement at least one of model.Model or Observer; anything else is a
// configuration error. The first completion-capable provider becomes primary
// unless a later registration claims it explicitly with WithPrimary.
func (r *Registry) Register(p any, optFns ...func(o *Options)) error {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	completer, _ := p.(model.Model)
	observer, _ := p.(Observer)
	if completer == nil && observer == nil {
		return &core.ConfigurationError{
			Reason: fmt.Sprintf("provider %T implements neither completion nor observer capability", p),
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := opts.Name
	if name == "" {
		if completer != nil {
			name = completer.Info().Name
		} else {
			name = fmt.Sprintf("provider-%d", r.nextSeq)
		}
	}
	for _, e := range r.entries {
		if e.name == name {
			return &core.ConfigurationError{Reason: fmt.Sprintf("provider %q already registered", name)}
		}
	}

	reg := &registration{
		name:      name,
		priority:  opts.Priority,
		seq:       r.nextSeq,
		completer: completer,
		observer:  observer,
	}
	if len(opts.EventTypes) > 0 {
		reg.types = make(map[core.EventType]bool, len(opts.EventTypes))
		for _, t := range opts.EventTypes {
			reg.types[t] = true
		}
	}
	r.nextSeq++

	if opts.Primary {
		if completer == nil {
			return &core.ConfigurationError{Reason: fmt.Sprintf("provider %q marked primary without completion capability", name)}
		}
		if r.primary != nil && r.primary.completer != nil && r.primaryExplicit {
			return &core.ConfigurationError{Reason: fmt.Sprintf("primary completion provider already registered (%s)", r.primary.name)}
		}
		r.primary = reg
		r.primaryExplicit = true
	} else if completer != nil && r.primary == nil {
		r.primary = reg
	}

	r.entries = append(r.entries, reg)
	r.logger.Debug("registry.provider.registered", "name", name, "priority", opts.Priority,
		"completion", completer != nil, "observer", observer != nil)
	return nil
}

// Deregister removes a provider by name. Removing the primary completion
// provider leaves the registry without one; a later completion request then
// fails with a configuration error.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.name == name {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			if r.primary == e {
				r.primary = nil
				r.primaryExplicit = false
			}
			return nil
		}
	}
	return fmt.Errorf("provider %q not registered", name)
}

// CompletionProvider returns the primary completion provider. Requesting a
// completion with no primary registered is a fatal configuration error.
func (r *Registry) CompletionProvider() (model.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.primary == nil || r.primary.completer == nil {
		return nil, &core.ConfigurationError{Reason: "no primary completion provider registered"}
	}
	return r.primary.completer, nil
}

// Publish dispatches an event synchronously to every subscribed observer in
// descending priority order (registration order breaks ties). A failing or
// panicking observer is captured as a non-fatal outcome and dispatch moves
// on; the returned outcomes preserve delivery order.
func (r *Registry) Publish(ev core.Event) []ObserverOutcome {
	r.mu.RLock()
	targets := make([]*registration, 0, len(r.entries))
	for _, e := range r.entries {
		if e.wants(ev.Type) {
			targets = append(targets, e)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(targets, func(i, j int) bool {
		if targets[i].priority != targets[j].priority {
			return targets[i].priority > targets[j].priority
		}
		return targets[i].seq < targets[j].seq
	})

	outcomes := make([]ObserverOutcome, 0, len(targets))
	for _, t := range targets {
		start := time.Now()
		err := r.dispatch(t, ev)
		outcome := ObserverOutcome{Provider: t.name, Duration: time.Since(start)}
		if err != nil {
			outcome.Err = &core.ObserverError{Provider: t.name, Err: err}
			r.logger.Warn("registry.observer.failed", "provider", t.name, "event", string(ev.Type), "error", err.Error())
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// dispatch delivers one event to one observer, converting panics to errors so
// a misbehaving observer cannot corrupt the turn loop.
func (r *Registry) dispatch(t *registration, ev core.Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("observer panicked: %v", rec)
		}
	}()
	return t.observer.OnEvent(ev)
}

// Observers returns the names of registered providers in registration order.
func (r *Registry) Observers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}
