package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mzli/pillarflow/pkg/models"
)

// SaveWorkflow upserts the full serialized workflow under its id.
func (s *sqliteStore) SaveWorkflow(ctx context.Context, w *models.DailyWorkflow) error {
	doc, err := json.Marshal(w)
	if err != nil {
		return err
	}
	_, err = s.stmtSave.ExecContext(ctx, w.ID, w.UserID, w.Date, w.WorkflowStatus, string(doc), time.Now().Unix())
	return err
}

// LoadWorkflows reads every stored workflow. Records with invalid JSON or a
// document missing id, date, or user id are skipped, deleted, and reported
// in the error slice; one bad record never blocks restoration of the rest.
func (s *sqliteStore) LoadWorkflows(ctx context.Context) ([]models.DailyWorkflow, []error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT workflow_id, doc FROM workflows ORDER BY workflow_id`)
	if err != nil {
		return nil, []error{err}
	}
	defer func() { _ = rows.Close() }()

	var (
		workflows []models.DailyWorkflow
		errs      []error
		corrupt   []string
	)
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			errs = append(errs, err)
			continue
		}
		w, err := DecodeWorkflow([]byte(doc))
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", id, err))
			corrupt = append(corrupt, id)
			continue
		}
		workflows = append(workflows, *w)
	}
	if err := rows.Err(); err != nil {
		errs = append(errs, err)
	}
	for _, id := range corrupt {
		if err := s.DeleteWorkflow(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete corrupt workflow %s: %w", id, err))
		}
	}
	return workflows, errs
}

// DeleteWorkflow removes the workflow with the given id, if present.
func (s *sqliteStore) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := s.stmtDelete.ExecContext(ctx, id)
	return err
}

// DecodeWorkflow parses a stored workflow document and rejects records
// missing the fields restoration depends on. A `tasks` field that is not a
// sequence fails JSON decoding and is reported as corrupt.
func DecodeWorkflow(doc []byte) (*models.DailyWorkflow, error) {
	var w models.DailyWorkflow
	if err := json.Unmarshal(doc, &w); err != nil {
		return nil, fmt.Errorf("corrupt record: %w", err)
	}
	if w.ID == "" || w.Date == "" || w.UserID == "" {
		return nil, fmt.Errorf("corrupt record: missing id, date, or user_id")
	}
	return &w, nil
}
