// Package stores persists run history: every convergence run and its
// per-resource results are recorded in a local SQLite database so past
// runs can be inspected after the fact.
package stores

import (
	"context"
	"time"

	"github.com/hostforge/hostforge/pkg/engine"
)

// Run is one recorded convergence run.
type Run struct {
	// ID is the run's unique identifier.
	ID string `json:"id"`

	// Status is the overall run status.
	Status string `json:"status"`

	// DryRun reports whether apply was suppressed.
	DryRun bool `json:"dry_run"`

	// StartedAt and CompletedAt bound the run.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Outcome counts.
	Total     int `json:"total"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Refreshed int `json:"refreshed"`

	// CreatedAt is when the record was written.
	CreatedAt time.Time `json:"created_at"`
}

// Result is one recorded per-resource outcome.
type Result struct {
	// RunID links the result to its run.
	RunID string `json:"run_id"`

	// Position is the declaration order index within the run.
	Position int `json:"position"`

	// Kind and Title identify the resource.
	Kind  string `json:"kind"`
	Title string `json:"title"`

	// Outcome is the final outcome.
	Outcome string `json:"outcome"`

	// Refreshed reports whether the refresh action ran.
	Refreshed bool `json:"refreshed"`

	// Reason explains a skip, empty otherwise.
	Reason string `json:"reason,omitempty"`

	// Error holds the probe or apply failure message, empty otherwise.
	Error string `json:"error,omitempty"`

	// Changes is the JSON-encoded list of applied attribute transitions.
	Changes string `json:"changes,omitempty"`

	// DurationMS is the resource's probe-and-apply time in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}

// EventLevel classifies an event log entry.
type EventLevel string

const (
	EventInfo  EventLevel = "info"
	EventWarn  EventLevel = "warn"
	EventError EventLevel = "error"
)

// Event is one entry in the append-only run event log.
type Event struct {
	// ID is assigned by the store on append.
	ID int64 `json:"id"`

	// RunID links the event to its run.
	RunID string `json:"run_id"`

	// Resource names the resource the event concerns, empty for
	// run-level events.
	Resource string `json:"resource,omitempty"`

	// Level is the event severity.
	Level EventLevel `json:"level"`

	// Message is the human-readable event text.
	Message string `json:"message"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Store records and retrieves run history.
type Store interface {
	// Init opens the underlying database.
	Init(ctx context.Context) error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	// SaveReport persists a completed run and all its results.
	SaveReport(ctx context.Context, report *engine.RunReport) error

	// GetRun retrieves a run and its results by ID.
	GetRun(ctx context.Context, id string) (*Run, []Result, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// AppendEvent appends an entry to the run event log.
	AppendEvent(ctx context.Context, event *Event) error

	// GetEvents returns a run's events in append order.
	GetEvents(ctx context.Context, runID string, limit int) ([]Event, error)

	// Close closes the database.
	Close() error
}
