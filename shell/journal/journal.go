// Package journal keeps a sqlite record of every shell run: state transitions,
// migration warnings, backend exits and shutdown.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultFile is the journal database name inside the config directory.
const DefaultFile = "journal.db"

// EventType represents the kind of run event
type EventType string

const (
	EventStateChange      EventType = "state_change"
	EventMigrationWarning EventType = "migration_warning"
	EventBackendExit      EventType = "backend_exit"
	EventStartupFailure   EventType = "startup_failure"
	EventShutdown         EventType = "shutdown"
)

// RunEvent is a journal row
type RunEvent struct {
	ID        string `db:"id"`
	RunID     string `db:"run_id"`
	EventType string `db:"event_type"`
	State     string `db:"state"`
	Timestamp int64  `db:"timestamp"` // Unix nanoseconds
	Detail    string `db:"detail"`
}

// Time returns the event timestamp.
func (e RunEvent) Time() time.Time {
	return time.Unix(0, e.Timestamp)
}

// Recorder accepts events for a single run.
type Recorder interface {
	Record(eventType EventType, state, detail string) error
}

// Nop discards every event. It stands in when no journal is available.
type Nop struct{}

func (Nop) Record(EventType, string, string) error { return nil }

// Journal stores run events in sqlite
type Journal struct {
	db *sqlx.DB
}

// Open connects to the journal file at path, creating its directory and table.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	j, err := NewJournal(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// NewJournal wraps an open database and initializes the schema
func NewJournal(db *sqlx.DB) (*Journal, error) {
	if err := DBInit(db); err != nil {
		return nil, fmt.Errorf("journal: init schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// DBInit creates the run_events table and its indexes
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS run_events (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		state TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_run_events_timestamp ON run_events(timestamp)`)
	return err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// BeginRun starts a new run with a fresh id.
func (j *Journal) BeginRun() *Run {
	return &Run{journal: j, id: uuid.New().String()}
}

func (j *Journal) insertEvent(event *RunEvent) error {
	_, err := j.db.Exec(`
		INSERT INTO run_events (id, run_id, event_type, state, timestamp, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID,
		event.RunID,
		event.EventType,
		event.State,
		event.Timestamp,
		event.Detail,
	)
	return err
}

// Events returns every event of a run in the order it was recorded.
func (j *Journal) Events(runID string) ([]RunEvent, error) {
	var events []RunEvent
	err := j.db.Select(&events,
		"SELECT id, run_id, event_type, state, timestamp, detail FROM run_events WHERE run_id = $1 ORDER BY timestamp, rowid",
		runID)
	return events, err
}

// LatestRunID returns the run with the most recent event, or "" for an empty journal.
func (j *Journal) LatestRunID() (string, error) {
	var ids []string
	err := j.db.Select(&ids, "SELECT run_id FROM run_events ORDER BY timestamp DESC, rowid DESC LIMIT 1")
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[0], nil
}

// Run records events under one run id.
type Run struct {
	journal *Journal
	id      string
}

// ID returns the run identifier.
func (r *Run) ID() string {
	return r.id
}

// Record appends an event to the run.
func (r *Run) Record(eventType EventType, state, detail string) error {
	return r.journal.insertEvent(&RunEvent{
		ID:        uuid.New().String(),
		RunID:     r.id,
		EventType: string(eventType),
		State:     state,
		Timestamp: time.Now().UTC().UnixNano(),
		Detail:    detail,
	})
}
