// Package provider holds the registry of pluggable providers and the typed
// event bus. A provider contributes one or both capability sets: completing
// (it implements model.Model) and event observation (it implements Observer).
// Capabilities are resolved once at registration, never per call.
//
// Publish dispatches synchronously in descending priority order and isolates
// observer failures: a panicking or erroring observer is logged and skipped,
// and the remaining observers still receive the event.
package provider

import (
	"time"

	"github.com/convoke-ai/convoke/core"
)

// Observer is the event-observation capability. Implementations receive every
// published event whose type they subscribed to. OnEvent must not block the
// turn loop; long work belongs on the observer's own goroutines.
type Observer interface {
	OnEvent(ev core.Event) error
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(ev core.Event) error

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(ev core.Event) error { return f(ev) }

// ObserverOutcome reports the result of delivering one event to one observer.
// An Err here is diagnostic only; it never aborted the dispatch.
type ObserverOutcome struct {
	Provider string
	Err      error
	Duration time.Duration
}

// Options configure one registration.
type Options struct {
	// Name identifies the provider in logs and outcomes. Defaults to the
	// model info name or an assigned "provider-N".
	Name string
	// Priority orders event delivery, highest first. When unset,
	// registration order decides (earlier registered, earlier delivered).
	Priority int
	// Primary marks this provider as the run's completion provider. At most
	// one provider may be primary; the first completion-capable registration
	// becomes primary automatically when none is marked.
	Primary bool
	// EventTypes restricts which event types this observer receives.
	// Empty means all types.
	EventTypes []core.EventType
}

// WithName sets the registration name.
func WithName(name string) func(o *Options) {
	return func(o *Options) { o.Name = name }
}

// WithPriority sets the dispatch priority (highest delivered first).
func WithPriority(p int) func(o *Options) {
	return func(o *Options) { o.Priority = p }
}

// WithPrimary marks the provider as the primary completion provider.
func WithPrimary() func(o *Options) {
	return func(o *Options) { o.Primary = true }
}

// WithEventTypes subscribes the observer to a subset of event types.
func WithEventTypes(types ...core.EventType) func(o *Options) {
	return func(o *Options) { o.EventTypes = types }
}
