package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentcoord/agentcoord/pkg/config"
	"github.com/agentcoord/agentcoord/pkg/models"
	"github.com/agentcoord/agentcoord/pkg/repositories"
	"github.com/agentcoord/agentcoord/pkg/services"
)

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Coordination.Roles = append([]string{}, config.DefaultRoles...)
	return cfg
}

type fakePlanner struct {
	PlanFunc func(ctx context.Context, req *services.PlanRequest) (*models.Workflow, []*models.Task, error)
}

var _ services.PlannerService = (*fakePlanner)(nil)

func (f *fakePlanner) Plan(ctx context.Context, req *services.PlanRequest) (*models.Workflow, []*models.Task, error) {
	if f.PlanFunc != nil {
		return f.PlanFunc(ctx, req)
	}
	return &models.Workflow{ID: uuid.New()}, nil, nil
}

type fakeScheduler struct {
	DispatchFunc func(ctx context.Context, role, workerID string) (*models.Task, error)
}

var _ services.SchedulerService = (*fakeScheduler)(nil)

func (f *fakeScheduler) Dispatch(ctx context.Context, role, workerID string) (*models.Task, error) {
	if f.DispatchFunc != nil {
		return f.DispatchFunc(ctx, role, workerID)
	}
	return nil, nil
}

type fakeResultService struct {
	SubmitFunc func(ctx context.Context, sub *services.ResultSubmission) (*services.ResultOutcome, error)
}

var _ services.ResultService = (*fakeResultService)(nil)

func (f *fakeResultService) Submit(ctx context.Context, sub *services.ResultSubmission) (*services.ResultOutcome, error) {
	if f.SubmitFunc != nil {
		return f.SubmitFunc(ctx, sub)
	}
	return &services.ResultOutcome{}, nil
}

type fakeLockService struct {
	AcquireFunc    func(ctx context.Context, req *services.LockRequest) (*models.FileLock, error)
	ReleaseFunc    func(ctx context.Context, path, holderID string) error
	ReleaseAllFunc func(ctx context.Context, holderID string) (int, error)
}

var _ services.LockService = (*fakeLockService)(nil)

func (f *fakeLockService) Acquire(ctx context.Context, req *services.LockRequest) (*models.FileLock, error) {
	if f.AcquireFunc != nil {
		return f.AcquireFunc(ctx, req)
	}
	return &models.FileLock{ID: uuid.New(), Path: req.Path, HolderID: req.HolderID, Mode: req.Mode}, nil
}

func (f *fakeLockService) Release(ctx context.Context, path, holderID string) error {
	if f.ReleaseFunc != nil {
		return f.ReleaseFunc(ctx, path, holderID)
	}
	return nil
}

func (f *fakeLockService) ReleaseAll(ctx context.Context, holderID string) (int, error) {
	if f.ReleaseAllFunc != nil {
		return f.ReleaseAllFunc(ctx, holderID)
	}
	return 0, nil
}

func (f *fakeLockService) ListActive(ctx context.Context, path string) ([]*models.FileLock, error) {
	return nil, nil
}

// fakeWorkflowRepo backs the workflows handler with canned workflow and
// task rows.
type fakeWorkflowRepo struct {
	GetWorkflowFunc func(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	ListTasksFunc   func(ctx context.Context, workflowID uuid.UUID) ([]*models.Task, error)
}

var _ repositories.WorkflowRepository = (*fakeWorkflowRepo)(nil)

func (f *fakeWorkflowRepo) CreateWorkflow(ctx context.Context, wf *models.Workflow, tasks []*models.Task) error {
	return nil
}

func (f *fakeWorkflowRepo) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	if f.GetWorkflowFunc != nil {
		return f.GetWorkflowFunc(ctx, id)
	}
	return &models.Workflow{ID: id}, nil
}

func (f *fakeWorkflowRepo) ListTasks(ctx context.Context, workflowID uuid.UUID) ([]*models.Task, error) {
	if f.ListTasksFunc != nil {
		return f.ListTasksFunc(ctx, workflowID)
	}
	return nil, nil
}

func (f *fakeWorkflowRepo) GetTask(ctx context.Context, workflowID uuid.UUID, stepID string) (*models.Task, error) {
	return nil, nil
}

func (f *fakeWorkflowRepo) ClaimNextReady(ctx context.Context, role, workerID string) (*models.Task, error) {
	return nil, nil
}

func (f *fakeWorkflowRepo) RecordResult(ctx context.Context, rec *repositories.ResultRecord) (*repositories.StatusSnapshot, error) {
	return nil, nil
}

func (f *fakeWorkflowRepo) PromoteReady(ctx context.Context, workflowID uuid.UUID) (int, error) {
	return 0, nil
}

func (f *fakeWorkflowRepo) ResetTasksForRework(ctx context.Context, workflowID uuid.UUID, directives []models.ReworkDirective) ([]string, error) {
	return nil, nil
}

func (f *fakeWorkflowRepo) RecomputeStatuses(ctx context.Context, workflowID uuid.UUID) (*repositories.StatusSnapshot, error) {
	return nil, nil
}

func (f *fakeWorkflowRepo) FinalizeWorkflow(ctx context.Context, workflowID uuid.UUID, artifact string) error {
	return nil
}

func (f *fakeWorkflowRepo) IncrementReworkCycles(ctx context.Context, workflowID uuid.UUID) (int, error) {
	return 0, nil
}

func (f *fakeWorkflowRepo) ExpireClaims(ctx context.Context, ttl time.Duration) ([]repositories.ExpiredClaim, error) {
	return nil, nil
}
