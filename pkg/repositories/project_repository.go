package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/agentcoord/agentcoord/pkg/apperrors"
	"github.com/agentcoord/agentcoord/pkg/database"
	"github.com/agentcoord/agentcoord/pkg/models"
)

// ProjectRepository provides data access for projects.
type ProjectRepository interface {
	// GetOrCreate returns the project with the given external key, creating
	// it when absent. Concurrent creators converge on a single row.
	GetOrCreate(ctx context.Context, externalID, name string) (*models.Project, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Project, error)
}

type projectRepository struct {
	db *database.DB
}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository(db *database.DB) ProjectRepository {
	return &projectRepository{db: db}
}

var _ ProjectRepository = (*projectRepository)(nil)

func (r *projectRepository) GetOrCreate(ctx context.Context, externalID, name string) (*models.Project, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO mcs_projects (project_id, name, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id) DO UPDATE SET project_id = EXCLUDED.project_id
		RETURNING id, project_id, name, status, created_at`,
		externalID, name, models.WorkflowStatusPending)
	return scanProject(row)
}

func (r *projectRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Project, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, project_id, name, status, created_at
		FROM mcs_projects WHERE project_id = $1`, externalID)
	return scanProject(row)
}

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, storeErr("scan project", err)
	}
	return &p, nil
}
