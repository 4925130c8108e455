package core

import "fmt"

// Error taxonomy. Only ConfigurationError and CompletionError terminate a
// run; every other category is isolated where it occurs and converted into
// data (an error Result, a diagnostic record, or a skipped fragment).

// ConfigurationError is a fatal setup problem detected before any turn runs:
// no primary completion provider, a malformed agent descriptor, an unknown
// handoff target roster entry.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// CompletionError is a provider-level failure while requesting a completion.
// Fatal to the current run; the run is returned with the history accumulated
// so far.
type CompletionError struct {
	Provider string
	Err      error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion provider %s failed: %v", e.Provider, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// FragmentError records one malformed streaming fragment. Recovered locally:
// the fragment is skipped and the stream continues.
type FragmentError struct {
	Seq    int
	Reason string
}

func (e *FragmentError) Error() string {
	return fmt.Sprintf("fragment %d malformed: %s", e.Seq, e.Reason)
}

// ObserverError records a failing event subscriber. Never propagates beyond
// the publish call that caught it.
type ObserverError struct {
	Provider string
	Err      error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("observer %s failed: %v", e.Provider, e.Err)
}

func (e *ObserverError) Unwrap() error { return e.Err }
