// Package models provides shared types for the Pillarflow HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// Task is a unit of work inside a daily workflow. Dependencies reference
// other task ids in the same workflow; a task becomes ready once every
// dependency is completed or skipped.
type Task struct {
	ID            string     `json:"id"`
	PillarID      string     `json:"pillar_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Status        string     `json:"status"`
	Priority      string     `json:"priority"`
	EstimatedTime int        `json:"estimated_time"` // minutes
	Dependencies  []string   `json:"dependencies,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ActionType    string     `json:"action_type,omitempty"`
	ActionTarget  string     `json:"action_target,omitempty"`
}

// Terminal reports whether the task has reached a terminal status.
func (t *Task) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskSkipped
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	out := t
	out.Dependencies = append([]string(nil), t.Dependencies...)
	out.StartedAt = copyTime(t.StartedAt)
	out.CompletedAt = copyTime(t.CompletedAt)
	return out
}

// DailyWorkflow is one day's ordered task set for one user. The task slice
// order is execution order; CurrentTaskIndex is the navigation cursor.
type DailyWorkflow struct {
	ID                 string     `json:"id"`
	Date               string     `json:"date"` // ISO date, e.g. 2026-08-31
	UserID             string     `json:"user_id"`
	Tasks              []Task     `json:"tasks"`
	CurrentTaskIndex   int        `json:"current_task_index"`
	CompletedTasks     int        `json:"completed_tasks"`
	TotalTasks         int        `json:"total_tasks"`
	WorkflowStatus     string     `json:"workflow_status"`
	TotalEstimatedTime int        `json:"total_estimated_time"`
	ActualTimeSpent    int        `json:"actual_time_spent"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the workflow, safe to read or encode while
// the original is being mutated under its owner's lock.
func (w *DailyWorkflow) Clone() *DailyWorkflow {
	out := *w
	out.Tasks = make([]Task, len(w.Tasks))
	for i := range w.Tasks {
		out.Tasks[i] = w.Tasks[i].Clone()
	}
	out.StartedAt = copyTime(w.StartedAt)
	out.CompletedAt = copyTime(w.CompletedAt)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// WorkflowID derives the deterministic workflow id for a (user, date) pair.
func WorkflowID(userID, date string) string {
	return userID + ":" + date
}

// Task returns the task with the given id, or nil.
func (w *DailyWorkflow) Task(id string) *Task {
	for i := range w.Tasks {
		if w.Tasks[i].ID == id {
			return &w.Tasks[i]
		}
	}
	return nil
}

// WorkflowProgress summarizes completion state for display.
type WorkflowProgress struct {
	WorkflowID             string  `json:"workflow_id"`
	CompletedTasks         int     `json:"completed_tasks"`
	TotalTasks             int     `json:"total_tasks"`
	CompletionPercentage   float64 `json:"completion_percentage"`
	CurrentTask            *Task   `json:"current_task,omitempty"`
	NextTask               *Task   `json:"next_task,omitempty"`
	EstimatedTimeRemaining int     `json:"estimated_time_remaining"` // minutes
	ActualTimeSpent        int     `json:"actual_time_spent"`        // minutes
}

// NavigationState describes cursor position for previous/next style UIs.
type NavigationState struct {
	CurrentTask  *Task `json:"current_task,omitempty"`
	PreviousTask *Task `json:"previous_task,omitempty"`
	NextTask     *Task `json:"next_task,omitempty"`
	CanGoBack    bool  `json:"can_go_back"`
	CanGoForward bool  `json:"can_go_forward"`
}

// VerificationResult is the verifier's judgment of a completion claim.
// Confidence is in [0,1]; IsCompleted reflects the rule's own threshold.
type VerificationResult struct {
	IsCompleted bool     `json:"is_completed"`
	Confidence  float64  `json:"confidence"`
	Evidence    []string `json:"evidence,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// VerificationStats aggregates verification history across tasks.
type VerificationStats struct {
	TotalVerifications int            `json:"total_verifications"`
	AverageConfidence  float64        `json:"average_confidence"`
	CompletionRate     float64        `json:"completion_rate"`
	FrequentWarnings   []WarningCount `json:"frequent_warnings,omitempty"`
}

// WarningCount is a warning message with its occurrence count.
type WarningCount struct {
	Warning string `json:"warning"`
	Count   int    `json:"count"`
}
