package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/pclforge/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testPlan(t *testing.T, args ...string) *engine.BuildPlan {
	t.Helper()
	plan := &engine.BuildPlan{
		Recipe:        "pcl",
		Version:       "1.8.1",
		Options:       []engine.OptionValue{{Name: "with-qt5", Value: "true", Explicit: true}},
		Dependencies:  []engine.Dependency{{Name: "cmake", Phase: engine.PhaseBuild}, {Name: "qt5", Phase: engine.PhaseRuntime}},
		InstallLevels: [][]string{{"cmake", "qt5"}},
		Args:          args,
		Env:           []engine.EnvMutation{{Variable: "PATH", Op: engine.EnvPrepend, Value: "/usr/local/bin", Separator: ":"}},
	}
	if err := engine.Seal(plan); err != nil {
		t.Fatalf("failed to seal plan: %v", err)
	}
	return plan
}

func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}

	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "history.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("expected migrate to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"plans", "runs", "run_steps", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestSavePlan(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	plan := testPlan(t, "-DWITH_QT=ON")
	if err := store.SavePlan(ctx, plan); err != nil {
		t.Fatalf("failed to save plan: %v", err)
	}
	if err := store.SavePlan(ctx, plan); err != nil {
		t.Fatalf("failed to save plan again: %v", err)
	}

	rec, got, err := store.GetPlan(ctx, plan.ID)
	if err != nil {
		t.Fatalf("failed to get plan: %v", err)
	}
	if rec.TimesSeen != 2 {
		t.Errorf("expected times_seen 2, got %d", rec.TimesSeen)
	}
	if rec.Fingerprint != plan.Fingerprint || rec.Recipe != "pcl" || rec.Version != "1.8.1" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if diff := cmp.Diff(plan, got); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}

	other := testPlan(t, "-DWITH_QT=OFF")
	if err := store.SavePlan(ctx, other); err != nil {
		t.Fatalf("failed to save plan: %v", err)
	}
	plans, err := store.ListPlans(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list plans: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(plans))
	}

	if err := store.SavePlan(ctx, &engine.BuildPlan{}); err == nil {
		t.Error("expected unsealed plan to be rejected")
	}
	if _, _, err := store.GetPlan(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	plan := testPlan(t)
	if err := store.SavePlan(ctx, plan); err != nil {
		t.Fatalf("failed to save plan: %v", err)
	}

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &Run{ID: "run-1", PlanID: plan.ID, Status: engine.RunStatusRunning, StartedAt: started}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Target != "local" || got.Status != engine.RunStatusRunning || got.CompletedAt != nil {
		t.Errorf("unexpected run: %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected started_at %v, got %v", started, got.StartedAt)
	}

	msg := "make exited with status 2"
	if err := store.UpdateRunStatus(ctx, "run-1", engine.RunStatusFailed, 2, &msg); err != nil {
		t.Fatalf("failed to update run: %v", err)
	}
	got, err = store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != engine.RunStatusFailed || got.ExitCode != 2 || got.CompletedAt == nil || got.Error == nil || *got.Error != msg {
		t.Errorf("unexpected run after update: %+v", got)
	}

	if err := store.UpdateRunStatus(ctx, "missing", engine.RunStatusFailed, 1, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateRunStatus(ctx, "run-1", "exploded", 1, nil); err == nil {
		t.Error("expected invalid status to be rejected")
	}
	if err := store.CreateRun(ctx, &Run{ID: "run-x", PlanID: "no-such-plan", Status: engine.RunStatusPending, StartedAt: started}); err == nil {
		t.Error("expected foreign key violation for unknown plan")
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteRun(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	plan := testPlan(t)
	if err := store.SavePlan(ctx, plan); err != nil {
		t.Fatalf("failed to save plan: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		run := &Run{ID: id, PlanID: plan.ID, Status: engine.RunStatusSucceeded, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run %s: %v", id, err)
		}
	}

	tests := []struct {
		limit, offset int
		want          []string
	}{
		{10, 0, []string{"c", "b", "a"}},
		{2, 0, []string{"c", "b"}},
		{2, 2, []string{"a"}},
	}
	for _, tt := range tests {
		runs, err := store.ListRuns(ctx, tt.limit, tt.offset)
		if err != nil {
			t.Fatalf("failed to list runs: %v", err)
		}
		var ids []string
		for _, r := range runs {
			ids = append(ids, r.ID)
		}
		if diff := cmp.Diff(tt.want, ids); diff != "" {
			t.Errorf("ListRuns(%d, %d) mismatch (-want +got):\n%s", tt.limit, tt.offset, diff)
		}
	}
}

func TestRecordSteps(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	plan := testPlan(t)
	if err := store.SavePlan(ctx, plan); err != nil {
		t.Fatalf("failed to save plan: %v", err)
	}
	if err := store.CreateRun(ctx, &Run{ID: "run-1", PlanID: plan.ID, Status: engine.RunStatusRunning, StartedAt: time.Now()}); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	steps := []engine.StepResult{
		{Step: "configure", Command: []string{"cmake", "..", "-Wno-dev"}, Duration: 1500 * time.Millisecond},
		{Step: "build", Command: []string{"make"}, ExitCode: 2, Output: "error: boom\n", Duration: 3 * time.Second},
	}
	if err := store.RecordSteps(ctx, "run-1", steps); err != nil {
		t.Fatalf("failed to record steps: %v", err)
	}
	// Recording again replaces.
	if err := store.RecordSteps(ctx, "run-1", steps); err != nil {
		t.Fatalf("failed to record steps again: %v", err)
	}

	got, err := store.ListSteps(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list steps: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(got))
	}
	if got[0].Step != "configure" || got[0].Command != `["cmake","..","-Wno-dev"]` || got[0].DurationMS != 1500 {
		t.Errorf("unexpected first step: %+v", got[0])
	}
	if got[1].ExitCode != 2 || got[1].Output != "error: boom\n" || got[1].Position != 1 {
		t.Errorf("unexpected second step: %+v", got[1])
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	got, err = store.ListSteps(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list steps: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected steps to be deleted with the run, got %d", len(got))
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	plan := testPlan(t)
	if err := store.SavePlan(ctx, plan); err != nil {
		t.Fatalf("failed to save plan: %v", err)
	}
	if err := store.CreateRun(ctx, &Run{ID: "run-1", PlanID: plan.ID, Status: engine.RunStatusRunning, StartedAt: time.Now()}); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	runID := "run-1"
	details := `{"step":"build"}`
	events := []*Event{
		{RunID: &runID, Type: engine.EventTypeRunStarted, Message: "run started"},
		{RunID: &runID, Type: engine.EventTypeStepFailed, Message: "build failed", Details: &details},
		{Type: engine.EventTypeWarning, Message: "vtk not found"},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected event ID to be set")
		}
	}

	all, err := store.GetEvents(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	var levels []EventLevel
	for _, e := range all {
		levels = append(levels, e.Level)
	}
	if diff := cmp.Diff([]EventLevel{EventLevelInfo, EventLevelError, EventLevelWarning}, levels); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
	}

	forRun, err := store.GetEvents(ctx, &runID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(forRun) != 2 {
		t.Errorf("expected 2 events for run, got %d", len(forRun))
	}

	level := EventLevelError
	errs, err := store.GetEvents(ctx, &runID, &level, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(errs) != 1 || errs[0].Details == nil || *errs[0].Details != details {
		t.Errorf("unexpected error events: %+v", errs)
	}
}
