package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Task Status
// ============================================================================

// TaskStatus represents the execution status of a task within a workflow.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusReady      TaskStatus = "READY"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
)

// ValidTaskStatuses contains all valid task status values.
var ValidTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusReady,
	TaskStatusInProgress,
	TaskStatusCompleted,
	TaskStatusFailed,
}

// IsTerminal returns true if the task status is terminal.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// ============================================================================
// File Access
// ============================================================================

// FileAccessMode is the declared access mode for a file dependency.
type FileAccessMode string

const (
	FileAccessRead      FileAccessMode = "read"
	FileAccessWrite     FileAccessMode = "write"
	FileAccessExclusive FileAccessMode = "exclusive"
)

// IsValidFileAccessMode checks if the given mode is valid.
func IsValidFileAccessMode(m FileAccessMode) bool {
	return m == FileAccessRead || m == FileAccessWrite || m == FileAccessExclusive
}

// CompatibleWith reports whether a new lease in mode m may coexist with an
// already-held lease in mode held on the same path. Only read/read is
// compatible.
func (m FileAccessMode) CompatibleWith(held FileAccessMode) bool {
	return m == FileAccessRead && held == FileAccessRead
}

// ============================================================================
// Task
// ============================================================================

// Task is one node in a workflow's dependency graph, executed by exactly one
// worker at a time. Stored in mcs_tasks.
type Task struct {
	ID               uuid.UUID                 `json:"-"`
	StepID           string                    `json:"step_id"`
	WorkflowID       uuid.UUID                 `json:"workflow_id"`
	Description      string                    `json:"description"`
	Role             string                    `json:"role"`
	Dependencies     []string                  `json:"dependencies"`
	FileDependencies map[string]FileAccessMode `json:"file_dependencies,omitempty"`
	Status           TaskStatus                `json:"status"`
	ClaimedBy        *string                   `json:"claimed_by,omitempty"`
	ClaimedAt        *time.Time                `json:"claimed_at,omitempty"`
	RetryCount       int                       `json:"retry_count"`
	ReworkNote       *string                   `json:"rework_note,omitempty"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}
