package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/mzli/pillarflow/pkg/models"
)

// Requires a running PostgreSQL; set TEST_DATABASE_URL to enable.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	st, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st.(*Store)
}

func TestSaveLoadDelete(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	w := &models.DailyWorkflow{
		ID:             models.WorkflowID("pg-test-user", "2026-08-31"),
		UserID:         "pg-test-user",
		Date:           "2026-08-31",
		Tasks:          []models.Task{{ID: "a", PillarID: "plan", Title: "t", Status: models.TaskPending, Priority: models.PriorityLow}},
		TotalTasks:     1,
		WorkflowStatus: models.WorkflowNotStarted,
	}
	t.Cleanup(func() { _ = st.DeleteWorkflow(ctx, w.ID) })

	if err := st.SaveWorkflow(ctx, w); err != nil {
		t.Fatalf("SaveWorkflow: %v", err)
	}
	loaded, errs := st.LoadWorkflows(ctx)
	if len(errs) != 0 {
		t.Fatalf("LoadWorkflows errors: %v", errs)
	}
	found := false
	for _, got := range loaded {
		if got.ID == w.ID && len(got.Tasks) == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("saved workflow not loaded: %+v", loaded)
	}
	if err := st.DeleteWorkflow(ctx, w.ID); err != nil {
		t.Fatalf("DeleteWorkflow: %v", err)
	}
}
