// Package sqlite persists lifecycle events to a SQLite database so runs can
// be inspected after the process exits. It uses the pure-Go driver, so no
// cgo toolchain is required.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/convoke-ai/convoke/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	type       TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	agent      TEXT NOT NULL,
	trace_id   TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	payload    TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, seq);
`

// Exporter writes every observed event as one row in the events table.
// Payloads are stored as JSON text. Exporter implements the registry's
// observer contract; a write failure is returned to the registry, which
// isolates it from other observers and the run itself.
type Exporter struct {
	db *sql.DB
}

// Open creates (or reuses) the database at path and prepares the schema.
// Use ":memory:" for an ephemeral store.
func Open(path string) (*Exporter, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare telemetry schema: %w", err)
	}
	return &Exporter{db: db}, nil
}

// OnEvent inserts the event.
func (e *Exporter) OnEvent(ev core.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		payload = []byte(fmt.Sprintf("%q", fmt.Sprintf("%v", ev.Payload)))
	}
	_, err = e.db.Exec(
		`INSERT INTO events (type, run_id, agent, trace_id, timestamp, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		string(ev.Type), ev.RunID, ev.Agent, ev.TraceID, ev.Timestamp.Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// CountForRun returns how many events were stored for a run.
func (e *Exporter) CountForRun(runID string) (int, error) {
	var n int
	err := e.db.QueryRow(`SELECT COUNT(*) FROM events WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// TypesForRun returns the stored event type sequence for a run in insertion
// order.
func (e *Exporter) TypesForRun(runID string) ([]core.EventType, error) {
	rows, err := e.db.Query(`SELECT type FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.EventType
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, core.EventType(t))
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (e *Exporter) Close() error {
	return e.db.Close()
}
