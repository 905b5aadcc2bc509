package models

// Task statuses used throughout the codebase.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskSkipped    = "skipped"
)

// Workflow statuses.
const (
	WorkflowNotStarted = "not_started"
	WorkflowInProgress = "in_progress"
	WorkflowCompleted  = "completed"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Action types understood by the verifier's rule registry.
const (
	ActionNavigate = "navigate"
)

// Default limits.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultWorkflowListLimit   = 500
	DefaultSSEChannelBuffer    = 256
	DefaultVerifyHistoryLimit  = 10
)
