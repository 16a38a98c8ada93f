package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/hostforge/hostforge/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a store backed by the database file at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: path}, nil
}

// Init opens the database and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// SaveReport persists a completed run and its results in one transaction.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *engine.RunReport) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, status, dry_run, started_at, completed_at,
			total, changed, unchanged, failed, skipped, refreshed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.RunID,
		string(report.Status()),
		report.DryRun,
		report.StartedAt,
		report.CompletedAt,
		report.Summary.Total,
		report.Summary.Changed,
		report.Summary.Unchanged,
		report.Summary.Failed,
		report.Summary.Skipped,
		report.Summary.Refreshed,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, res := range report.Results {
		var changes string
		if len(res.Changes) > 0 {
			data, err := json.Marshal(res.Changes)
			if err != nil {
				return fmt.Errorf("encode changes for %s: %w", res.Ref, err)
			}
			changes = string(data)
		}

		var errMsg string
		if res.Err != nil {
			errMsg = res.Err.Error()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_results (run_id, position, kind, title, outcome,
				refreshed, reason, error, changes, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			report.RunID,
			i,
			res.Ref.Kind,
			res.Ref.Title,
			string(res.Outcome),
			res.Refreshed,
			res.Reason,
			errMsg,
			changes,
			res.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert result for %s: %w", res.Ref, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AppendEvent appends an entry to the run event log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Level == "" {
		event.Level = EventInfo
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, resource, level, message, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`,
		event.RunID,
		event.Resource,
		string(event.Level),
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get event id: %w", err)
	}
	event.ID = id
	return nil
}

// GetEvents returns a run's events in append order.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, resource, level, message, timestamp
		FROM events WHERE run_id = ? ORDER BY id LIMIT ?
	`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var level string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Resource, &level, &e.Message, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Level = EventLevel(level)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// GetRun retrieves a run and its results by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, []Result, error) {
	run := &Run{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, dry_run, started_at, completed_at,
			total, changed, unchanged, failed, skipped, refreshed, created_at
		FROM runs WHERE id = ?
	`, id).Scan(
		&run.ID, &run.Status, &run.DryRun, &run.StartedAt, &run.CompletedAt,
		&run.Total, &run.Changed, &run.Unchanged, &run.Failed, &run.Skipped,
		&run.Refreshed, &run.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, position, kind, title, outcome, refreshed, reason,
			error, changes, duration_ms
		FROM run_results WHERE run_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get run results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(
			&r.RunID, &r.Position, &r.Kind, &r.Title, &r.Outcome,
			&r.Refreshed, &r.Reason, &r.Error, &r.Changes, &r.DurationMS,
		); err != nil {
			return nil, nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate results: %w", err)
	}

	return run, results, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, dry_run, started_at, completed_at,
			total, changed, unchanged, failed, skipped, refreshed, created_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.ID, &run.Status, &run.DryRun, &run.StartedAt, &run.CompletedAt,
			&run.Total, &run.Changed, &run.Unchanged, &run.Failed, &run.Skipped,
			&run.Refreshed, &run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}
