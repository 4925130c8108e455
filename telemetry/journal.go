// Package telemetry records lifecycle events for inspection after a run. The
// in-memory Journal keeps an ordered record per process; the sqlite
// subpackage persists the same records to disk. Both attach to the provider
// registry as event observers.
package telemetry

import (
	"sync"
	"time"

	"github.com/convoke-ai/convoke/core"
)

// Record is one journaled lifecycle event. Seq is assigned by the journal and
// increases by one per recorded event, giving a total order independent of
// event timestamps.
type Record struct {
	Seq       uint64         `json:"seq"`
	Type      core.EventType `json:"type"`
	RunID     string         `json:"run_id"`
	Agent     string         `json:"agent"`
	TraceID   string         `json:"trace_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   any            `json:"payload,omitempty"`
}

// Journal is an append-only in-memory event record. It implements the
// registry's observer contract and never fails, so it can run at any
// priority without disturbing other observers.
type Journal struct {
	mu      sync.RWMutex
	nextSeq uint64
	records []Record
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{}
}

// OnEvent appends the event to the journal.
func (j *Journal) OnEvent(ev core.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextSeq++
	j.records = append(j.records, Record{
		Seq:       j.nextSeq,
		Type:      ev.Type,
		RunID:     ev.RunID,
		Agent:     ev.Agent,
		TraceID:   ev.TraceID,
		Timestamp: ev.Timestamp,
		Payload:   ev.Payload,
	})
	return nil
}

// Records returns a copy of every journaled record in order.
func (j *Journal) Records() []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Record, len(j.records))
	copy(out, j.records)
	return out
}

// RecordsForRun returns the journaled records for one run, in order.
func (j *Journal) RecordsForRun(runID string) []Record {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []Record
	for _, r := range j.records {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out
}

// Types returns the event type sequence for one run. Handy for asserting
// lifecycle ordering.
func (j *Journal) Types(runID string) []core.EventType {
	var out []core.EventType
	for _, r := range j.RecordsForRun(runID) {
		out = append(out, r.Type)
	}
	return out
}

// Len returns the number of journaled records.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.records)
}

// Reset discards all records and restarts the sequence.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextSeq = 0
	j.records = nil
}
