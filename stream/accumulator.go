// Package stream assembles an ordered sequence of completion fragments into
// exactly one finalized message. Per-fragment failures are isolated: a
// malformed fragment becomes a diagnostic and is skipped, never aborting the
// stream. Finalize always yields a message, even for an empty or
// prematurely terminated stream.
package stream

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/convoke-ai/convoke/core"
	"github.com/convoke-ai/convoke/model"
)

// Diagnostic records one non-fatal problem observed while accumulating.
type Diagnostic struct {
	Seq    int       // arrival position of the offending fragment
	Reason string    // human-readable shape problem
	At     time.Time // UTC
}

// callBuffer collects the streamed pieces of a single tool call. Argument
// deltas are only ever concatenated in arrival order; ID and Name stick once
// a non-empty value arrives.
type callBuffer struct {
	id   string
	name string
	args strings.Builder
}

// Accumulator merges fragments of one streamed completion into a single
// message. Not safe for concurrent use; one accumulator serves exactly one
// completion request.
//
// Usage: Begin, then Ingest for every arriving fragment, then Finalize.
// Finalize never fails and is idempotent.
type Accumulator struct {
	messageID string
	agentID   string

	content      strings.Builder
	calls        map[int]*callBuffer
	order        []int // call indices in first-seen order
	usage        model.TokenUsage
	finishReason string

	seq       int
	diags     []Diagnostic
	finalized bool
	final     core.Message
}

// NewAccumulator constructs an accumulator bound to a message id and the
// agent the completion is attributed to.
func NewAccumulator(messageID, agentID string) *Accumulator {
	a := &Accumulator{}
	a.Begin(messageID, agentID)
	return a
}

// Begin resets the accumulator for a new completion request.
func (a *Accumulator) Begin(messageID, agentID string) {
	*a = Accumulator{
		messageID: messageID,
		agentID:   agentID,
		calls:     make(map[int]*callBuffer),
	}
}

// Ingest merges one fragment. A malformed fragment is recorded as a
// diagnostic and skipped; the returned error describes the problem for
// callers that want to log it, but ingestion may always continue.
func (a *Accumulator) Ingest(f model.Fragment) error {
	a.seq++

	if a.finalized {
		return a.reject("fragment received after finalize")
	}

	if f.Usage != nil {
		a.usage.Add(*f.Usage)
	}

	hasContent := f.ContentDelta != ""
	hasCalls := len(f.ToolCallDeltas) > 0

	if hasContent && hasCalls {
		return a.reject("fragment carries both content and tool-call deltas")
	}

	if hasContent {
		a.content.WriteString(f.ContentDelta)
		return nil
	}

	for _, d := range f.ToolCallDeltas {
		if d.Index < 0 {
			return a.reject(fmt.Sprintf("tool-call delta with negative index %d", d.Index))
		}
	}

	for _, d := range f.ToolCallDeltas {
		buf, ok := a.calls[d.Index]
		if !ok {
			buf = &callBuffer{}
			a.calls[d.Index] = buf
			a.order = append(a.order, d.Index)
		}
		if d.ID != "" {
			buf.id = d.ID
		}
		if d.Name != "" {
			buf.name = d.Name
		}
		buf.args.WriteString(d.ArgumentsDelta)
	}

	return nil
}

// reject records a diagnostic for the current fragment and returns the
// matching FragmentError.
func (a *Accumulator) reject(reason string) error {
	a.diags = append(a.diags, Diagnostic{Seq: a.seq, Reason: reason, At: time.Now().UTC()})
	return &core.FragmentError{Seq: a.seq, Reason: reason}
}

// SetFinishReason records the provider's finish reason for the completion.
func (a *Accumulator) SetFinishReason(reason string) {
	if !a.finalized {
		a.finishReason = reason
	}
}

// Finalize assembles whatever was accumulated so far into exactly one
// message. It never fails: an empty or partially failed stream yields a
// message with empty content. Repeated calls return the same message.
func (a *Accumulator) Finalize() core.Message {
	if a.finalized {
		return a.final
	}

	msg := core.NewMessage(core.RoleAssistant, a.content.String(), a.agentID)
	if a.messageID != "" {
		msg.ID = a.messageID
	}

	// Tool calls emit in index order so reassembly is deterministic
	// regardless of interleaving across indices.
	indices := make([]int, len(a.order))
	copy(indices, a.order)
	sort.Ints(indices)
	for _, idx := range indices {
		buf := a.calls[idx]
		msg.ToolCalls = append(msg.ToolCalls, core.ToolCall{
			ID:        buf.id,
			Name:      buf.name,
			Arguments: buf.args.String(),
		})
	}

	a.final = msg
	a.finalized = true
	return msg
}

// Usage returns the summed token bookkeeping seen across fragments.
func (a *Accumulator) Usage() model.TokenUsage { return a.usage }

// FinishReason returns the recorded provider finish reason, if any.
func (a *Accumulator) FinishReason() string { return a.finishReason }

// Diagnostics returns the recorded per-fragment problems in arrival order.
func (a *Accumulator) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(a.diags))
	copy(out, a.diags)
	return out
}

// DiagnosticStrings renders diagnostics for event payloads and telemetry.
func (a *Accumulator) DiagnosticStrings() []string {
	if len(a.diags) == 0 {
		return nil
	}
	out := make([]string, len(a.diags))
	for i, d := range a.diags {
		out[i] = fmt.Sprintf("fragment %d: %s", d.Seq, d.Reason)
	}
	return out
}
