package models

import (
	"time"

	"github.com/google/uuid"
)

// RAIteration is one thought/action/observation record produced by a worker
// during task execution. The full sequence is persisted once the task
// completes; iterations are never streamed per-step.
type RAIteration struct {
	Thought     string `json:"thought"`
	Action      string `json:"action"`
	Observation string `json:"observation"`
}

// Result is a worker's execution record for a task. At most one successful
// result per task; the row history across retries is append-only.
// Stored in mcs_results.
type Result struct {
	ID            uuid.UUID     `json:"-"`
	WorkflowID    uuid.UUID     `json:"workflow_id"`
	TaskStepID    string        `json:"task_step_id"`
	Iterations    []RAIteration `json:"iterations"`
	FinalResult   string        `json:"final_result"`
	SourceWorker  string        `json:"source_worker"`
	ExecutionTime float64       `json:"execution_time"`
	CreatedAt     time.Time     `json:"created_at"`
}

// ReworkDirective names a task to reset after a failed audit. Cascade
// defaults to true: transitive dependents are reset as well.
type ReworkDirective struct {
	StepID  string `json:"step_id"`
	Reason  string `json:"reason"`
	Cascade *bool  `json:"cascade,omitempty"`
}

// ShouldCascade resolves the cascade flag with its default of true.
func (d ReworkDirective) ShouldCascade() bool {
	return d.Cascade == nil || *d.Cascade
}

// AuditReport is one quality-gate evaluation of a completed workflow.
// Append-only; stored in mcs_audit_reports.
type AuditReport struct {
	ID               uuid.UUID         `json:"-"`
	WorkflowID       uuid.UUID         `json:"workflow_id"`
	IsSuccessful     bool              `json:"is_successful"`
	Feedback         string            `json:"feedback"`
	ReworkDirectives []ReworkDirective `json:"rework_directives,omitempty"`
	Confidence       float64           `json:"confidence"`
	CreatedAt        time.Time         `json:"created_at"`
}

// FileLock is an active file-access lease held by a worker for a task.
// Stored in mcs_file_locks; expired rows are swept, never trusted.
type FileLock struct {
	ID         uuid.UUID      `json:"-"`
	Path       string         `json:"path"`
	HolderID   string         `json:"holder_worker_id"`
	TaskStepID string         `json:"task_step_id"`
	Mode       FileAccessMode `json:"mode"`
	AcquiredAt time.Time      `json:"acquired_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
}
