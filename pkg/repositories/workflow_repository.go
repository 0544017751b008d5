package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agentcoord/agentcoord/pkg/apperrors"
	"github.com/agentcoord/agentcoord/pkg/database"
	"github.com/agentcoord/agentcoord/pkg/models"
)

// ResultRecord is a worker's report as ingested by RecordResult.
type ResultRecord struct {
	WorkflowID    uuid.UUID
	StepID        string
	WorkerID      string
	Iterations    []models.RAIteration
	FinalResult   string
	ExecutionTime float64
	// Succeeded is the worker-reported outcome. A failed report re-readies
	// the task until MaxRetries is exhausted, then fails it.
	Succeeded  bool
	MaxRetries int
}

// StatusSnapshot is the aggregated status view computed inside a store
// transaction.
type StatusSnapshot struct {
	TaskStatus     models.TaskStatus
	WorkflowStatus models.WorkflowStatus
	ProjectStatus  *models.WorkflowStatus
}

// ExpiredClaim identifies a task whose claim lease ran out.
type ExpiredClaim struct {
	WorkflowID uuid.UUID
	StepID     string
	WorkerID   string
}

// WorkflowRepository provides transactional data access for workflows and
// their tasks. Compound operations (create, claim, record, reset) each run
// as a single transaction; under concurrent callers every READY task is
// handed to at most one claimer.
type WorkflowRepository interface {
	CreateWorkflow(ctx context.Context, wf *models.Workflow, tasks []*models.Task) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	ListTasks(ctx context.Context, workflowID uuid.UUID) ([]*models.Task, error)
	GetTask(ctx context.Context, workflowID uuid.UUID, stepID string) (*models.Task, error)
	ClaimNextReady(ctx context.Context, role, workerID string) (*models.Task, error)
	RecordResult(ctx context.Context, rec *ResultRecord) (*StatusSnapshot, error)
	PromoteReady(ctx context.Context, workflowID uuid.UUID) (int, error)
	ResetTasksForRework(ctx context.Context, workflowID uuid.UUID, directives []models.ReworkDirective) ([]string, error)
	RecomputeStatuses(ctx context.Context, workflowID uuid.UUID) (*StatusSnapshot, error)
	FinalizeWorkflow(ctx context.Context, workflowID uuid.UUID, artifact string) error
	IncrementReworkCycles(ctx context.Context, workflowID uuid.UUID) (int, error)
	ExpireClaims(ctx context.Context, ttl time.Duration) ([]ExpiredClaim, error)
}

type workflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) WorkflowRepository {
	return &workflowRepository{db: db}
}

var _ WorkflowRepository = (*workflowRepository)(nil)

const taskColumns = `id, workflow_id, step_id, description, role, dependencies,
	file_dependencies, status, claimed_by, claimed_at, retry_count, rework_note,
	created_at, updated_at`

// ============================================================================
// Creation
// ============================================================================

// validateTaskGraph rejects graphs the scheduler could never drain: duplicate
// step_ids, dependencies on unknown steps, and cycles. Tasks with dangling
// dependencies would otherwise be promoted as if the dependency were already
// satisfied.
func validateTaskGraph(tasks []*models.Task) error {
	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		if _, ok := deps[t.StepID]; ok {
			return fmt.Errorf("%w: duplicate step_id %q", apperrors.ErrInvalidPlan, t.StepID)
		}
		deps[t.StepID] = t.Dependencies
	}

	indegree := make(map[string]int, len(tasks))
	for step := range deps {
		indegree[step] = 0
	}
	for step, ds := range deps {
		for _, d := range ds {
			if d == step {
				return fmt.Errorf("%w: step %q depends on itself", apperrors.ErrInvalidPlan, step)
			}
			if _, ok := deps[d]; !ok {
				return fmt.Errorf("%w: step %q depends on unknown step %q", apperrors.ErrInvalidPlan, step, d)
			}
			indegree[step]++
		}
	}

	queue := make([]string, 0, len(tasks))
	for step, n := range indegree {
		if n == 0 {
			queue = append(queue, step)
		}
	}
	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++
		for step, ds := range deps {
			for _, d := range ds {
				if d == current {
					indegree[step]--
					if indegree[step] == 0 {
						queue = append(queue, step)
					}
				}
			}
		}
	}
	if visited != len(tasks) {
		return fmt.Errorf("%w: dependency cycle detected", apperrors.ErrInvalidPlan)
	}
	return nil
}

func (r *workflowRepository) CreateWorkflow(ctx context.Context, wf *models.Workflow, tasks []*models.Task) error {
	if err := validateTaskGraph(tasks); err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	now := time.Now().UTC()
	wf.CreatedAt = now
	wf.UpdatedAt = now

	statuses := make([]models.TaskStatus, len(tasks))
	for i, t := range tasks {
		statuses[i] = t.Status
	}
	wf.Status = models.DeriveStatus(statuses)
	// An empty workflow has nothing to execute or audit.
	wf.Finalized = len(tasks) == 0

	metadata, err := json.Marshal(wf.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if wf.Metadata == nil {
		metadata = []byte("{}")
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO mcs_workflows (name, user_request, project_id, status, finalized, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		wf.Name, wf.UserRequest, wf.ProjectID, wf.Status, wf.Finalized, metadata, wf.CreatedAt, wf.UpdatedAt,
	).Scan(&wf.ID)
	if err != nil {
		return storeErr("create workflow", err)
	}

	for _, t := range tasks {
		t.WorkflowID = wf.ID
		t.CreatedAt = now
		t.UpdatedAt = now

		deps, err := json.Marshal(t.Dependencies)
		if err != nil {
			return fmt.Errorf("failed to marshal dependencies: %w", err)
		}
		if t.Dependencies == nil {
			deps = []byte("[]")
		}
		fileDeps, err := json.Marshal(t.FileDependencies)
		if err != nil {
			return fmt.Errorf("failed to marshal file dependencies: %w", err)
		}
		if t.FileDependencies == nil {
			fileDeps = []byte("{}")
		}

		err = tx.QueryRow(ctx, `
			INSERT INTO mcs_tasks (workflow_id, step_id, description, role, dependencies, file_dependencies, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`,
			t.WorkflowID, t.StepID, t.Description, t.Role, deps, fileDeps, t.Status, t.CreatedAt, t.UpdatedAt,
		).Scan(&t.ID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("%w: duplicate step_id %q", apperrors.ErrInvalidPlan, t.StepID)
			}
			return storeErr("create task", err)
		}
	}

	if wf.ProjectID != nil {
		if err := recomputeProjectStatus(ctx, tx, *wf.ProjectID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit transaction", err)
	}
	return nil
}

// ============================================================================
// Reads
// ============================================================================

func (r *workflowRepository) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, user_request, project_id, status, rework_cycles, finalized, artifact, metadata, created_at, updated_at
		FROM mcs_workflows WHERE id = $1`, id)
	return scanWorkflow(row)
}

func (r *workflowRepository) ListTasks(ctx context.Context, workflowID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+taskColumns+`
		FROM mcs_tasks WHERE workflow_id = $1
		ORDER BY created_at, step_id`, workflowID)
	if err != nil {
		return nil, storeErr("list tasks", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list tasks", err)
	}
	return tasks, nil
}

func (r *workflowRepository) GetTask(ctx context.Context, workflowID uuid.UUID, stepID string) (*models.Task, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM mcs_tasks WHERE workflow_id = $1 AND step_id = $2`, workflowID, stepID)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ============================================================================
// Dispatch
// ============================================================================

// ClaimNextReady atomically claims the oldest READY task for the role.
// The inner select uses FOR UPDATE SKIP LOCKED so concurrent pollers never
// observe the same row; each READY task is returned to at most one caller.
// Returns (nil, nil) when no task is available.
func (r *workflowRepository) ClaimNextReady(ctx context.Context, role, workerID string) (*models.Task, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE mcs_tasks SET
			status = $1,
			claimed_by = $2,
			claimed_at = now(),
			updated_at = now()
		WHERE id = (
			SELECT id FROM mcs_tasks
			WHERE status = $3 AND role = $4
			ORDER BY updated_at, step_id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		models.TaskStatusInProgress, workerID, models.TaskStatusReady, role)

	t, err := scanTask(row)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ============================================================================
// Result ingestion
// ============================================================================

// RecordResult ingests a worker report in a single transaction: stale-claim
// verification, result insert, task transition (retry-or-fail on reported
// failure), dependent promotion, lock release, and the workflow/project
// status recompute. The returned snapshot reflects the committed state.
func (r *workflowRepository) RecordResult(ctx context.Context, rec *ResultRecord) (*StatusSnapshot, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var (
		taskID     uuid.UUID
		status     models.TaskStatus
		claimedBy  *string
		retryCount int
	)
	err = tx.QueryRow(ctx, `
		SELECT id, status, claimed_by, retry_count
		FROM mcs_tasks
		WHERE workflow_id = $1 AND step_id = $2
		FOR UPDATE`, rec.WorkflowID, rec.StepID,
	).Scan(&taskID, &status, &claimedBy, &retryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, storeErr("load task", err)
	}

	if status != models.TaskStatusInProgress {
		return nil, fmt.Errorf("%w: task %s is %s, not IN_PROGRESS", apperrors.ErrConflict, rec.StepID, status)
	}
	if claimedBy == nil || *claimedBy != rec.WorkerID {
		return nil, fmt.Errorf("%w: task %s is not claimed by %s", apperrors.ErrStaleClaim, rec.StepID, rec.WorkerID)
	}

	iterations, err := json.Marshal(rec.Iterations)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal iterations: %w", err)
	}
	if rec.Iterations == nil {
		iterations = []byte("[]")
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO mcs_results (workflow_id, task_step_id, iterations, final_result, source_worker, execution_time)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.WorkflowID, rec.StepID, iterations, rec.FinalResult, rec.WorkerID, rec.ExecutionTime)
	if err != nil {
		return nil, storeErr("insert result", err)
	}

	newStatus := models.TaskStatusCompleted
	if !rec.Succeeded {
		if retryCount < rec.MaxRetries {
			newStatus = models.TaskStatusReady
		} else {
			newStatus = models.TaskStatusFailed
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE mcs_tasks SET
			status = $2,
			claimed_by = NULL,
			claimed_at = NULL,
			retry_count = CASE WHEN $3 THEN retry_count ELSE retry_count + 1 END,
			updated_at = now()
		WHERE id = $1`,
		taskID, newStatus, rec.Succeeded)
	if err != nil {
		return nil, storeErr("update task", err)
	}

	// Workers hold leases only for the duration of a task.
	_, err = tx.Exec(ctx, `
		DELETE FROM mcs_file_locks WHERE holder_worker_id = $1 AND task_step_id = $2`,
		rec.WorkerID, rec.StepID)
	if err != nil {
		return nil, storeErr("release locks", err)
	}

	if newStatus == models.TaskStatusCompleted {
		if _, err := promoteReady(ctx, tx, rec.WorkflowID); err != nil {
			return nil, err
		}
	}

	snapshot, err := recomputeStatuses(ctx, tx, rec.WorkflowID)
	if err != nil {
		return nil, err
	}
	snapshot.TaskStatus = newStatus

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit transaction", err)
	}
	return snapshot, nil
}

// ============================================================================
// Promotion
// ============================================================================

func (r *workflowRepository) PromoteReady(ctx context.Context, workflowID uuid.UUID) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := promoteReady(ctx, tx, workflowID)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, storeErr("commit transaction", err)
	}
	return n, nil
}

// promoteReady atomically moves every PENDING task whose dependencies are
// all COMPLETED to READY.
func promoteReady(ctx context.Context, tx pgx.Tx, workflowID uuid.UUID) (int, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE mcs_tasks t SET status = $2, updated_at = now()
		WHERE t.workflow_id = $1 AND t.status = $3
		AND NOT EXISTS (
			SELECT 1
			FROM jsonb_array_elements_text(t.dependencies) AS dep(step_id)
			JOIN mcs_tasks d ON d.workflow_id = t.workflow_id AND d.step_id = dep.step_id
			WHERE d.status <> $4
		)`,
		workflowID, models.TaskStatusReady, models.TaskStatusPending, models.TaskStatusCompleted)
	if err != nil {
		return 0, storeErr("promote tasks", err)
	}
	return int(tag.RowsAffected()), nil
}

// ============================================================================
// Rework
// ============================================================================

// ResetTasksForRework resets the directed tasks (and, for cascading
// directives, their transitive dependents) to PENDING with the directive
// reason attached as rework_note, clears claims, bumps retry_count, then
// re-promotes and recomputes statuses. Unknown step ids are ignored.
// Returns the step ids actually reset.
func (r *workflowRepository) ResetTasksForRework(ctx context.Context, workflowID uuid.UUID, directives []models.ReworkDirective) ([]string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, `
		SELECT step_id, dependencies FROM mcs_tasks WHERE workflow_id = $1 FOR UPDATE`, workflowID)
	if err != nil {
		return nil, storeErr("load tasks", err)
	}

	deps := make(map[string][]string)
	for rows.Next() {
		var stepID string
		var raw []byte
		if err := rows.Scan(&stepID, &raw); err != nil {
			rows.Close()
			return nil, storeErr("scan task", err)
		}
		var d []string
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &d); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to unmarshal dependencies: %w", err)
			}
		}
		deps[stepID] = d
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("load tasks", err)
	}
	if len(deps) == 0 {
		return nil, apperrors.ErrNotFound
	}

	// Reverse edges: dependency -> dependents.
	dependents := make(map[string][]string)
	for step, ds := range deps {
		for _, d := range ds {
			dependents[d] = append(dependents[d], step)
		}
	}

	notes := make(map[string]string)
	var order []string
	mark := func(step, note string) {
		if _, seen := notes[step]; !seen {
			notes[step] = note
			order = append(order, step)
		}
	}

	for _, dir := range directives {
		if _, known := deps[dir.StepID]; !known {
			continue
		}
		mark(dir.StepID, dir.Reason)
		if !dir.ShouldCascade() {
			continue
		}
		// Transitive closure over dependents: their prior results are
		// invalidated by the reset.
		queue := []string{dir.StepID}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, dep := range dependents[cur] {
				if _, seen := notes[dep]; seen {
					continue
				}
				mark(dep, fmt.Sprintf("reset: depends on reworked task %s (%s)", dir.StepID, dir.Reason))
				queue = append(queue, dep)
			}
		}
	}

	for _, step := range order {
		_, err := tx.Exec(ctx, `
			UPDATE mcs_tasks SET
				status = $3,
				rework_note = $4,
				claimed_by = NULL,
				claimed_at = NULL,
				retry_count = retry_count + 1,
				updated_at = now()
			WHERE workflow_id = $1 AND step_id = $2`,
			workflowID, step, models.TaskStatusPending, notes[step])
		if err != nil {
			return nil, storeErr("reset task", err)
		}
	}

	if len(order) > 0 {
		if _, err := promoteReady(ctx, tx, workflowID); err != nil {
			return nil, err
		}
		if _, err := recomputeStatuses(ctx, tx, workflowID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit transaction", err)
	}
	return order, nil
}

// ============================================================================
// Status aggregation
// ============================================================================

func (r *workflowRepository) RecomputeStatuses(ctx context.Context, workflowID uuid.UUID) (*StatusSnapshot, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	snapshot, err := recomputeStatuses(ctx, tx, workflowID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit transaction", err)
	}
	return snapshot, nil
}

// recomputeStatuses derives workflow status from current task rows and, if
// the workflow belongs to a project, project status from workflow rows.
func recomputeStatuses(ctx context.Context, tx pgx.Tx, workflowID uuid.UUID) (*StatusSnapshot, error) {
	rows, err := tx.Query(ctx, `
		SELECT status FROM mcs_tasks WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return nil, storeErr("load task statuses", err)
	}
	var statuses []models.TaskStatus
	for rows.Next() {
		var s models.TaskStatus
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return nil, storeErr("scan status", err)
		}
		statuses = append(statuses, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("load task statuses", err)
	}

	wfStatus := models.DeriveStatus(statuses)

	var projectID *uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE mcs_workflows SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING project_id`, workflowID, wfStatus,
	).Scan(&projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, storeErr("update workflow status", err)
	}

	snapshot := &StatusSnapshot{WorkflowStatus: wfStatus}
	if projectID != nil {
		projStatus, err := recomputeProjectStatusValue(ctx, tx, *projectID)
		if err != nil {
			return nil, err
		}
		snapshot.ProjectStatus = &projStatus
	}
	return snapshot, nil
}

func recomputeProjectStatus(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) error {
	_, err := recomputeProjectStatusValue(ctx, tx, projectID)
	return err
}

func recomputeProjectStatusValue(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) (models.WorkflowStatus, error) {
	rows, err := tx.Query(ctx, `
		SELECT status FROM mcs_workflows WHERE project_id = $1`, projectID)
	if err != nil {
		return "", storeErr("load workflow statuses", err)
	}
	var statuses []models.WorkflowStatus
	for rows.Next() {
		var s models.WorkflowStatus
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return "", storeErr("scan status", err)
		}
		statuses = append(statuses, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", storeErr("load workflow statuses", err)
	}

	status := models.DeriveProjectStatus(statuses)
	if _, err := tx.Exec(ctx, `
		UPDATE mcs_projects SET status = $2 WHERE id = $1`, projectID, status); err != nil {
		return "", storeErr("update project status", err)
	}
	return status, nil
}

// ============================================================================
// Finalization and rework accounting
// ============================================================================

func (r *workflowRepository) FinalizeWorkflow(ctx context.Context, workflowID uuid.UUID, artifact string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE mcs_workflows SET finalized = TRUE, artifact = $2, updated_at = now()
		WHERE id = $1`, workflowID, artifact)
	if err != nil {
		return storeErr("finalize workflow", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *workflowRepository) IncrementReworkCycles(ctx context.Context, workflowID uuid.UUID) (int, error) {
	var cycles int
	err := r.db.QueryRow(ctx, `
		UPDATE mcs_workflows SET rework_cycles = rework_cycles + 1, updated_at = now()
		WHERE id = $1
		RETURNING rework_cycles`, workflowID,
	).Scan(&cycles)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.ErrNotFound
		}
		return 0, storeErr("increment rework cycles", err)
	}
	return cycles, nil
}

// ============================================================================
// Lease expiry
// ============================================================================

// ExpireClaims reverts IN_PROGRESS tasks whose claim lease ran out back to
// READY and releases the holders' file leases for those tasks, all in one
// transaction.
func (r *workflowRepository) ExpireClaims(ctx context.Context, ttl time.Duration) ([]ExpiredClaim, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cutoff := time.Now().UTC().Add(-ttl)
	rows, err := tx.Query(ctx, `
		WITH expired AS (
			SELECT id, workflow_id, step_id, claimed_by
			FROM mcs_tasks
			WHERE status = $1 AND claimed_at < $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE mcs_tasks t SET
			status = $3,
			claimed_by = NULL,
			claimed_at = NULL,
			updated_at = now()
		FROM expired e
		WHERE t.id = e.id
		RETURNING e.workflow_id, e.step_id, e.claimed_by`,
		models.TaskStatusInProgress, cutoff, models.TaskStatusReady)
	if err != nil {
		return nil, storeErr("expire claims", err)
	}

	var expired []ExpiredClaim
	for rows.Next() {
		var e ExpiredClaim
		if err := rows.Scan(&e.WorkflowID, &e.StepID, &e.WorkerID); err != nil {
			rows.Close()
			return nil, storeErr("scan expired claim", err)
		}
		expired = append(expired, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("expire claims", err)
	}

	for _, e := range expired {
		if _, err := tx.Exec(ctx, `
			DELETE FROM mcs_file_locks WHERE holder_worker_id = $1 AND task_step_id = $2`,
			e.WorkerID, e.StepID); err != nil {
			return nil, storeErr("release locks", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit transaction", err)
	}
	return expired, nil
}

// ============================================================================
// Scan helpers
// ============================================================================

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var wf models.Workflow
	var metadata []byte
	err := row.Scan(
		&wf.ID,
		&wf.Name,
		&wf.UserRequest,
		&wf.ProjectID,
		&wf.Status,
		&wf.ReworkCycles,
		&wf.Finalized,
		&wf.Artifact,
		&metadata,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, storeErr("scan workflow", err)
	}

	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &wf.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &wf, nil
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	var deps, fileDeps []byte
	err := row.Scan(
		&t.ID,
		&t.WorkflowID,
		&t.StepID,
		&t.Description,
		&t.Role,
		&deps,
		&fileDeps,
		&t.Status,
		&t.ClaimedBy,
		&t.ClaimedAt,
		&t.RetryCount,
		&t.ReworkNote,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, storeErr("scan task", err)
	}

	if len(deps) > 0 && string(deps) != "null" {
		if err := json.Unmarshal(deps, &t.Dependencies); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dependencies: %w", err)
		}
	}
	if len(fileDeps) > 0 && string(fileDeps) != "null" {
		if err := json.Unmarshal(fileDeps, &t.FileDependencies); err != nil {
			return nil, fmt.Errorf("failed to unmarshal file dependencies: %w", err)
		}
	}
	return &t, nil
}

// storeErr wraps database failures so handlers can map them to 500/503.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", apperrors.ErrStoreUnavailable, op, err)
}
