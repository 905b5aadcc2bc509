package models

import (
	"errors"
	"fmt"
	"time"
)

// Error codes for the workflow engine.
const (
	CodeWorkflowGenerationFailed = "WORKFLOW_GENERATION_FAILED"
	CodeWorkflowNotFound         = "WORKFLOW_NOT_FOUND"
	CodeTaskNotFound             = "TASK_NOT_FOUND"
	CodeCircularDependency       = "CIRCULAR_DEPENDENCY"
)

// EngineError is the typed error surfaced by the orchestrator and resolver.
// Recoverable tells the caller whether retrying the same call can succeed.
type EngineError struct {
	Code            string    `json:"code"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
	Recoverable     bool      `json:"recoverable"`
	SuggestedAction string    `json:"suggested_action,omitempty"`
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewGenerationFailed wraps a workflow generation failure.
func NewGenerationFailed(msg string) *EngineError {
	return &EngineError{
		Code:            CodeWorkflowGenerationFailed,
		Message:         msg,
		Timestamp:       time.Now().UTC(),
		Recoverable:     true,
		SuggestedAction: "retry workflow generation",
	}
}

// NewWorkflowNotFound reports an unknown workflow id.
func NewWorkflowNotFound(id string) *EngineError {
	return &EngineError{
		Code:            CodeWorkflowNotFound,
		Message:         "workflow not found: " + id,
		Timestamp:       time.Now().UTC(),
		Recoverable:     false,
		SuggestedAction: "reload workflow state and retry with a valid id",
	}
}

// NewTaskNotFound reports an unknown task id within a workflow.
func NewTaskNotFound(workflowID, taskID string) *EngineError {
	return &EngineError{
		Code:            CodeTaskNotFound,
		Message:         fmt.Sprintf("task %s not found in workflow %s", taskID, workflowID),
		Timestamp:       time.Now().UTC(),
		Recoverable:     false,
		SuggestedAction: "reload workflow state and retry with a valid id",
	}
}

// NewCircularDependency reports a cycle found during topological ordering.
func NewCircularDependency(taskIDs []string) *EngineError {
	return &EngineError{
		Code:        CodeCircularDependency,
		Message:     fmt.Sprintf("circular dependency involving tasks %v", taskIDs),
		Timestamp:   time.Now().UTC(),
		Recoverable: false,
	}
}

// IsCode reports whether err is an EngineError with the given code.
func IsCode(err error, code string) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Code == code
}
