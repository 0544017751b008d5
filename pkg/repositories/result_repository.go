package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentcoord/agentcoord/pkg/database"
	"github.com/agentcoord/agentcoord/pkg/models"
)

// ResultRepository provides read access to worker results. Writes happen
// inside WorkflowRepository.RecordResult so they share the ingest
// transaction.
type ResultRepository interface {
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.Result, error)
	// LatestByStep returns the most recent result per step id.
	LatestByStep(ctx context.Context, workflowID uuid.UUID) (map[string]*models.Result, error)
}

type resultRepository struct {
	db *database.DB
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(db *database.DB) ResultRepository {
	return &resultRepository{db: db}
}

var _ ResultRepository = (*resultRepository)(nil)

func (r *resultRepository) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.Result, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, workflow_id, task_step_id, iterations, final_result, source_worker, execution_time, created_at
		FROM mcs_results
		WHERE workflow_id = $1
		ORDER BY created_at, id`, workflowID)
	if err != nil {
		return nil, storeErr("list results", err)
	}
	defer rows.Close()

	var results []*models.Result
	for rows.Next() {
		var res models.Result
		var iterations []byte
		err := rows.Scan(
			&res.ID,
			&res.WorkflowID,
			&res.TaskStepID,
			&iterations,
			&res.FinalResult,
			&res.SourceWorker,
			&res.ExecutionTime,
			&res.CreatedAt,
		)
		if err != nil {
			return nil, storeErr("scan result", err)
		}
		if len(iterations) > 0 && string(iterations) != "null" {
			if err := json.Unmarshal(iterations, &res.Iterations); err != nil {
				return nil, fmt.Errorf("failed to unmarshal iterations: %w", err)
			}
		}
		results = append(results, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list results", err)
	}
	return results, nil
}

func (r *resultRepository) LatestByStep(ctx context.Context, workflowID uuid.UUID) (map[string]*models.Result, error) {
	results, err := r.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	// List is ordered oldest first, so later rows win.
	latest := make(map[string]*models.Result, len(results))
	for _, res := range results {
		latest[res.TaskStepID] = res
	}
	return latest, nil
}
