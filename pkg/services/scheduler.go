package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/apperrors"
	"github.com/agentcoord/agentcoord/pkg/config"
	"github.com/agentcoord/agentcoord/pkg/models"
	"github.com/agentcoord/agentcoord/pkg/repositories"
)

// SchedulerService hands READY tasks to polling workers. Dispatch is
// non-blocking: no task means no task, the worker polls again.
type SchedulerService interface {
	// Dispatch claims the next READY task for the role on behalf of
	// workerID. Returns (nil, nil) when nothing is available.
	Dispatch(ctx context.Context, role, workerID string) (*models.Task, error)
}

type schedulerService struct {
	workflows repositories.WorkflowRepository
	cfg       *config.Config
	logger    *zap.Logger
}

// NewSchedulerService creates a new SchedulerService.
func NewSchedulerService(workflows repositories.WorkflowRepository, cfg *config.Config, logger *zap.Logger) SchedulerService {
	return &schedulerService{
		workflows: workflows,
		cfg:       cfg,
		logger:    logger.Named("scheduler"),
	}
}

var _ SchedulerService = (*schedulerService)(nil)

func (s *schedulerService) Dispatch(ctx context.Context, role, workerID string) (*models.Task, error) {
	if !s.cfg.IsValidRole(role) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidRole, role)
	}
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker_id is required", apperrors.ErrValidation)
	}

	task, err := s.workflows.ClaimNextReady(ctx, role, workerID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}

	s.logger.Info("Task dispatched",
		zap.String("workflow_id", task.WorkflowID.String()),
		zap.String("step_id", task.StepID),
		zap.String("role", role),
		zap.String("worker_id", workerID))
	return task, nil
}
