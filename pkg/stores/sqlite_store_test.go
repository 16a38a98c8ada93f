package stores

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hostforge/hostforge/pkg/engine"
	"github.com/hostforge/hostforge/pkg/resource"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleReport(id string, startedAt time.Time) *engine.RunReport {
	report := &engine.RunReport{
		RunID:       id,
		StartedAt:   startedAt,
		CompletedAt: startedAt.Add(2 * time.Second),
		Duration:    2 * time.Second,
		Results: []engine.ResourceResult{
			{
				Ref:     resource.Ref{Kind: "package", Title: "nginx"},
				Outcome: resource.OutcomeChanged,
				Changes: []resource.Change{
					{Attr: "ensure", After: "installed"},
				},
				Duration: 1500 * time.Millisecond,
			},
			{
				Ref:       resource.Ref{Kind: "service", Title: "nginx"},
				Outcome:   resource.OutcomeUnchanged,
				Refreshed: true,
				Duration:  120 * time.Millisecond,
			},
			{
				Ref:     resource.Ref{Kind: "file", Title: "/etc/nginx/nginx.conf"},
				Outcome: resource.OutcomeFailed,
				Err: resource.NewError(resource.ErrCodeApplyFailed, "write failed", nil).
					WithRef(resource.Ref{Kind: "file", Title: "/etc/nginx/nginx.conf"}),
			},
		},
	}
	report.Summary = engine.Summary{
		Total: 3, Changed: 1, Unchanged: 1, Failed: 1, Refreshed: 1,
	}
	return report
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(""); err == nil {
		t.Fatal("Expected an empty path to be rejected")
	}
}

func TestSQLiteStore_MigrateIdempotent(t *testing.T) {
	store := openTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Expected a second migrate to be a no-op, got: %v", err)
	}
}

func TestSQLiteStore_SaveAndGetRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	report := sampleReport("run-1", time.Now().Add(-time.Minute))
	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	run, results, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.ID != "run-1" {
		t.Errorf("Unexpected run ID: %s", run.ID)
	}
	if run.Status != "failed" {
		t.Errorf("Expected failed status, got %s", run.Status)
	}
	if run.Total != 3 || run.Changed != 1 || run.Failed != 1 || run.Refreshed != 1 {
		t.Errorf("Unexpected counts: %+v", run)
	}

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	first := results[0]
	if first.Position != 0 || first.Kind != "package" || first.Title != "nginx" {
		t.Errorf("Unexpected first result: %+v", first)
	}
	if first.Outcome != "changed" {
		t.Errorf("Expected changed, got %s", first.Outcome)
	}
	if !strings.Contains(first.Changes, "ensure") {
		t.Errorf("Expected encoded changes, got %q", first.Changes)
	}
	if first.DurationMS != 1500 {
		t.Errorf("Expected 1500ms, got %d", first.DurationMS)
	}
	if !results[1].Refreshed {
		t.Error("Expected the service result marked refreshed")
	}
	if !strings.Contains(results[2].Error, "APPLY_FAILED") {
		t.Errorf("Expected the failure message recorded, got %q", results[2].Error)
	}
}

func TestSQLiteStore_GetRunNotFound(t *testing.T) {
	store := openTestStore(t)
	if _, _, err := store.GetRun(context.Background(), "nope"); err == nil {
		t.Fatal("Expected an unknown run to error")
	}
}

func TestSQLiteStore_SaveDuplicateRunID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	report := sampleReport("run-1", time.Now())
	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	if err := store.SaveReport(ctx, report); err == nil {
		t.Fatal("Expected a duplicate run ID to be rejected")
	}
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		report := sampleReport(id, base.Add(time.Duration(i)*time.Minute))
		if err := store.SaveReport(ctx, report); err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-c" || runs[2].ID != "run-a" {
		t.Errorf("Expected newest first, got %s..%s", runs[0].ID, runs[2].ID)
	}

	runs, err = store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("Expected the limit respected, got %d runs", len(runs))
	}
}

func TestSQLiteStore_AppendAndGetEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	report := sampleReport("run-ev", time.Now().Add(-time.Minute))
	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	first := &Event{
		RunID:   "run-ev",
		Message: "run completed with status failed",
	}
	if err := store.AppendEvent(ctx, first); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}
	if first.ID == 0 {
		t.Error("Expected the store to assign an event ID")
	}
	if first.Level != EventInfo {
		t.Errorf("Expected the level to default to info, got %q", first.Level)
	}
	if first.Timestamp.IsZero() {
		t.Error("Expected the store to stamp the event")
	}

	second := &Event{
		RunID:    "run-ev",
		Resource: "file[/etc/nginx/nginx.conf]",
		Level:    EventError,
		Message:  "write failed",
	}
	if err := store.AppendEvent(ctx, second); err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	events, err := store.GetEvents(ctx, "run-ev", 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].ID >= events[1].ID {
		t.Error("Expected events in append order")
	}
	if events[0].Message != "run completed with status failed" {
		t.Errorf("Unexpected first event message %q", events[0].Message)
	}
	if events[1].Resource != "file[/etc/nginx/nginx.conf]" {
		t.Errorf("Unexpected event resource %q", events[1].Resource)
	}
	if events[1].Level != EventError {
		t.Errorf("Expected error level, got %q", events[1].Level)
	}
}

func TestSQLiteStore_GetEventsEmpty(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	report := sampleReport("run-quiet", time.Now().Add(-time.Minute))
	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}

	events, err := store.GetEvents(ctx, "run-quiet", 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("Expected no events, got %d", len(events))
	}
}
