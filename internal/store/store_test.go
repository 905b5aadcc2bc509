package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mzli/pillarflow/pkg/models"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "home"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleWorkflow(userID, date string) *models.DailyWorkflow {
	started := time.Now().UTC().Truncate(time.Second)
	return &models.DailyWorkflow{
		ID:     models.WorkflowID(userID, date),
		UserID: userID,
		Date:   date,
		Tasks: []models.Task{
			{ID: "a", PillarID: "plan", Title: "first", Status: models.TaskCompleted, Priority: models.PriorityHigh, EstimatedTime: 10, StartedAt: &started},
			{ID: "b", PillarID: "generate", Title: "second", Status: models.TaskPending, Priority: models.PriorityMedium, EstimatedTime: 30, Dependencies: []string{"a"}},
		},
		CompletedTasks:     1,
		TotalTasks:         2,
		WorkflowStatus:     models.WorkflowInProgress,
		TotalEstimatedTime: 40,
		StartedAt:          &started,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	w := sampleWorkflow("u1", "2026-08-31")
	if err := st.SaveWorkflow(ctx, w); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}

	loaded, errs := st.LoadWorkflows(ctx)
	if len(errs) != 0 {
		t.Fatalf("LoadWorkflows errors: %v", errs)
	}
	if len(loaded) != 1 {
		t.Fatalf("got %d workflows, want 1", len(loaded))
	}
	got := loaded[0]
	if got.ID != w.ID || got.UserID != "u1" || got.Date != "2026-08-31" {
		t.Fatalf("identity fields lost: %+v", got)
	}
	if len(got.Tasks) != 2 || got.Tasks[1].Dependencies[0] != "a" {
		t.Fatalf("tasks lost in round trip: %+v", got.Tasks)
	}
	if got.Tasks[0].StartedAt == nil || !got.Tasks[0].StartedAt.Equal(*w.Tasks[0].StartedAt) {
		t.Fatalf("timestamps lost in round trip: %+v", got.Tasks[0])
	}
}

func TestSaveIsUpsert(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	w := sampleWorkflow("u1", "2026-08-31")
	if err := st.SaveWorkflow(ctx, w); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}
	w.CompletedTasks = 2
	w.WorkflowStatus = models.WorkflowCompleted
	if err := st.SaveWorkflow(ctx, w); err != nil {
		t.Fatalf("SaveWorkflow update: %v", err)
	}

	loaded, _ := st.LoadWorkflows(ctx)
	if len(loaded) != 1 {
		t.Fatalf("got %d workflows, want 1 after upsert", len(loaded))
	}
	if loaded[0].WorkflowStatus != models.WorkflowCompleted {
		t.Fatalf("status: got %s, want completed", loaded[0].WorkflowStatus)
	}
}

func TestLoadSkipsCorruptRecords(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SaveWorkflow(ctx, sampleWorkflow("u1", "2026-08-30")); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}

	// Insert records the engine could never have written: tasks is not a
	// sequence, and a document with no user id.
	db := st.(*sqliteStore).DB
	for _, row := range []struct{ id, doc string }{
		{"bad:tasks", `{"id":"bad:tasks","user_id":"u2","date":"2026-08-30","tasks":"nope"}`},
		{"bad:ident", `{"id":"bad:ident","date":"2026-08-30","tasks":[]}`},
	} {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO workflows(workflow_id, user_id, date, status, doc, updated_at) VALUES(?, 'x', 'x', 'x', ?, 0)`,
			row.id, row.doc); err != nil {
			t.Fatalf("insert corrupt row: %v", err)
		}
	}

	loaded, errs := st.LoadWorkflows(ctx)
	if len(loaded) != 1 || loaded[0].ID != "u1:2026-08-30" {
		t.Fatalf("expected only the valid workflow, got %+v", loaded)
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 corrupt-record errors, got %v", errs)
	}

	// Corrupt rows are removed so the next load is clean.
	loaded, errs = st.LoadWorkflows(ctx)
	if len(loaded) != 1 || len(errs) != 0 {
		t.Fatalf("expected clean reload, got %d workflows, errors %v", len(loaded), errs)
	}
}

func TestDeleteWorkflow(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	w := sampleWorkflow("u1", "2026-08-31")
	if err := st.SaveWorkflow(ctx, w); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}
	if err := st.DeleteWorkflow(ctx, w.ID); err != nil {
		t.Fatalf("DeleteWorkflow: %v", err)
	}
	loaded, _ := st.LoadWorkflows(ctx)
	if len(loaded) != 0 {
		t.Fatalf("expected empty store, got %+v", loaded)
	}
	// Deleting a missing id is not an error.
	if err := st.DeleteWorkflow(ctx, "absent"); err != nil {
		t.Fatalf("DeleteWorkflow absent: %v", err)
	}
}
