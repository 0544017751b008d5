package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus represents the aggregated status of a workflow or project.
// Workflow status is derived from task statuses; project status is derived
// identically from workflow statuses.
type WorkflowStatus string

const (
	WorkflowStatusPending    WorkflowStatus = "PENDING"
	WorkflowStatusInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowStatusCompleted  WorkflowStatus = "COMPLETED"
	WorkflowStatusFailed     WorkflowStatus = "FAILED"
)

// IsTerminal returns true if the workflow status is terminal.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusFailed
}

// Project groups workflows under an external key. Stored in mcs_projects.
type Project struct {
	ID        uuid.UUID      `json:"-"`
	ProjectID string         `json:"project_id"`
	Name      string         `json:"name"`
	Status    WorkflowStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// Workflow is the task graph produced from a single user request.
// Stored in mcs_workflows; owns its tasks one-way (tasks reference the
// workflow by id, no materialized back-pointers).
type Workflow struct {
	ID           uuid.UUID      `json:"workflow_id"`
	Name         string         `json:"name"`
	UserRequest  string         `json:"user_request"`
	ProjectID    *uuid.UUID     `json:"-"`
	Status       WorkflowStatus `json:"status"`
	ReworkCycles int            `json:"rework_cycles"`
	Finalized    bool           `json:"finalized"`
	Artifact     *string        `json:"-"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// DeriveStatus computes the aggregated status from a set of task statuses
// per the workflow status rule: COMPLETED iff every task is COMPLETED,
// FAILED if any task is FAILED, IN_PROGRESS if any task is IN_PROGRESS or
// READY, else PENDING. An empty set is COMPLETED.
func DeriveStatus(statuses []TaskStatus) WorkflowStatus {
	if len(statuses) == 0 {
		return WorkflowStatusCompleted
	}

	allCompleted := true
	active := false
	for _, s := range statuses {
		switch s {
		case TaskStatusFailed:
			return WorkflowStatusFailed
		case TaskStatusInProgress, TaskStatusReady:
			active = true
			allCompleted = false
		case TaskStatusPending:
			allCompleted = false
		}
	}

	if allCompleted {
		return WorkflowStatusCompleted
	}
	if active {
		return WorkflowStatusInProgress
	}
	return WorkflowStatusPending
}

// DeriveProjectStatus computes a project's status from its workflow statuses
// using the same aggregation rule as DeriveStatus.
func DeriveProjectStatus(statuses []WorkflowStatus) WorkflowStatus {
	if len(statuses) == 0 {
		return WorkflowStatusPending
	}

	allCompleted := true
	active := false
	for _, s := range statuses {
		switch s {
		case WorkflowStatusFailed:
			return WorkflowStatusFailed
		case WorkflowStatusInProgress:
			active = true
			allCompleted = false
		case WorkflowStatusPending:
			allCompleted = false
		}
	}

	if allCompleted {
		return WorkflowStatusCompleted
	}
	if active {
		return WorkflowStatusInProgress
	}
	return WorkflowStatusPending
}
