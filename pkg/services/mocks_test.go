package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentcoord/agentcoord/pkg/config"
	"github.com/agentcoord/agentcoord/pkg/models"
	"github.com/agentcoord/agentcoord/pkg/repositories"
)

// newTestConfig returns a config with defaults the services expect, without
// going through Load.
func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Coordination.Roles = append([]string{}, config.DefaultRoles...)
	cfg.Coordination.MaxRetries = 2
	cfg.Coordination.MaxReworkCycles = 2
	cfg.Coordination.AuditConfidenceThreshold = 0.6
	cfg.Coordination.ClaimTTL = 10 * time.Minute
	cfg.Coordination.LockTTL = 10 * time.Minute
	cfg.Coordination.SweepInterval = time.Minute
	return cfg
}

// fakeWorkflowRepo is a function-field fake for WorkflowRepository.
type fakeWorkflowRepo struct {
	CreateWorkflowFunc        func(ctx context.Context, wf *models.Workflow, tasks []*models.Task) error
	GetWorkflowFunc           func(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	ListTasksFunc             func(ctx context.Context, workflowID uuid.UUID) ([]*models.Task, error)
	GetTaskFunc               func(ctx context.Context, workflowID uuid.UUID, stepID string) (*models.Task, error)
	ClaimNextReadyFunc        func(ctx context.Context, role, workerID string) (*models.Task, error)
	RecordResultFunc          func(ctx context.Context, rec *repositories.ResultRecord) (*repositories.StatusSnapshot, error)
	PromoteReadyFunc          func(ctx context.Context, workflowID uuid.UUID) (int, error)
	ResetTasksForReworkFunc   func(ctx context.Context, workflowID uuid.UUID, directives []models.ReworkDirective) ([]string, error)
	RecomputeStatusesFunc     func(ctx context.Context, workflowID uuid.UUID) (*repositories.StatusSnapshot, error)
	FinalizeWorkflowFunc      func(ctx context.Context, workflowID uuid.UUID, artifact string) error
	IncrementReworkCyclesFunc func(ctx context.Context, workflowID uuid.UUID) (int, error)
	ExpireClaimsFunc          func(ctx context.Context, ttl time.Duration) ([]repositories.ExpiredClaim, error)
}

var _ repositories.WorkflowRepository = (*fakeWorkflowRepo)(nil)

func (f *fakeWorkflowRepo) CreateWorkflow(ctx context.Context, wf *models.Workflow, tasks []*models.Task) error {
	if f.CreateWorkflowFunc != nil {
		return f.CreateWorkflowFunc(ctx, wf, tasks)
	}
	wf.ID = uuid.New()
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
	if f.GetTaskFunc != nil {
		return f.GetTaskFunc(ctx, workflowID, stepID)
	}
	return nil, nil
}

func (f *fakeWorkflowRepo) ClaimNextReady(ctx context.Context, role, workerID string) (*models.Task, error) {
	if f.ClaimNextReadyFunc != nil {
		return f.ClaimNextReadyFunc(ctx, role, workerID)
	}
	return nil, nil
}

func (f *fakeWorkflowRepo) RecordResult(ctx context.Context, rec *repositories.ResultRecord) (*repositories.StatusSnapshot, error) {
	if f.RecordResultFunc != nil {
		return f.RecordResultFunc(ctx, rec)
	}
	return &repositories.StatusSnapshot{}, nil
}

func (f *fakeWorkflowRepo) PromoteReady(ctx context.Context, workflowID uuid.UUID) (int, error) {
	if f.PromoteReadyFunc != nil {
		return f.PromoteReadyFunc(ctx, workflowID)
	}
	return 0, nil
}

func (f *fakeWorkflowRepo) ResetTasksForRework(ctx context.Context, workflowID uuid.UUID, directives []models.ReworkDirective) ([]string, error) {
	if f.ResetTasksForReworkFunc != nil {
		return f.ResetTasksForReworkFunc(ctx, workflowID, directives)
	}
	return nil, nil
}

func (f *fakeWorkflowRepo) RecomputeStatuses(ctx context.Context, workflowID uuid.UUID) (*repositories.StatusSnapshot, error) {
	if f.RecomputeStatusesFunc != nil {
		return f.RecomputeStatusesFunc(ctx, workflowID)
	}
	return &repositories.StatusSnapshot{}, nil
}

func (f *fakeWorkflowRepo) FinalizeWorkflow(ctx context.Context, workflowID uuid.UUID, artifact string) error {
	if f.FinalizeWorkflowFunc != nil {
		return f.FinalizeWorkflowFunc(ctx, workflowID, artifact)
	}
	return nil
}

func (f *fakeWorkflowRepo) IncrementReworkCycles(ctx context.Context, workflowID uuid.UUID) (int, error) {
	if f.IncrementReworkCyclesFunc != nil {
		return f.IncrementReworkCyclesFunc(ctx, workflowID)
	}
	return 1, nil
}

func (f *fakeWorkflowRepo) ExpireClaims(ctx context.Context, ttl time.Duration) ([]repositories.ExpiredClaim, error) {
	if f.ExpireClaimsFunc != nil {
		return f.ExpireClaimsFunc(ctx, ttl)
	}
	return nil, nil
}

// fakeProjectRepo is a function-field fake for ProjectRepository.
type fakeProjectRepo struct {
	GetOrCreateFunc func(ctx context.Context, externalID, name string) (*models.Project, error)
}

var _ repositories.ProjectRepository = (*fakeProjectRepo)(nil)

func (f *fakeProjectRepo) GetOrCreate(ctx context.Context, externalID, name string) (*models.Project, error) {
	if f.GetOrCreateFunc != nil {
		return f.GetOrCreateFunc(ctx, externalID, name)
	}
	return &models.Project{ID: uuid.New(), ProjectID: externalID, Name: name}, nil
}

func (f *fakeProjectRepo) GetByExternalID(ctx context.Context, externalID string) (*models.Project, error) {
	return &models.Project{ID: uuid.New(), ProjectID: externalID}, nil
}

// fakeResultRepo is a function-field fake for ResultRepository.
type fakeResultRepo struct {
	LatestByStepFunc func(ctx context.Context, workflowID uuid.UUID) (map[string]*models.Result, error)
}

var _ repositories.ResultRepository = (*fakeResultRepo)(nil)

func (f *fakeResultRepo) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.Result, error) {
	return nil, nil
}

func (f *fakeResultRepo) LatestByStep(ctx context.Context, workflowID uuid.UUID) (map[string]*models.Result, error) {
	if f.LatestByStepFunc != nil {
		return f.LatestByStepFunc(ctx, workflowID)
	}
	return map[string]*models.Result{}, nil
}

// fakeAuditRepo is a function-field fake for AuditRepository.
type fakeAuditRepo struct {
	Created []*models.AuditReport
}

var _ repositories.AuditRepository = (*fakeAuditRepo)(nil)

func (f *fakeAuditRepo) Create(ctx context.Context, report *models.AuditReport) error {
	report.ID = uuid.New()
	report.CreatedAt = time.Now()
	f.Created = append(f.Created, report)
	return nil
}

func (f *fakeAuditRepo) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*models.AuditReport, error) {
	return f.Created, nil
}

// fakeLockRepo is a function-field fake for LockRepository.
type fakeLockRepo struct {
	AcquireFunc func(ctx context.Context, lock *models.FileLock) error
	ReleaseFunc func(ctx context.Context, path, holderID string) error
	Swept       int
}

var _ repositories.LockRepository = (*fakeLockRepo)(nil)

func (f *fakeLockRepo) Acquire(ctx context.Context, lock *models.FileLock) error {
	if f.AcquireFunc != nil {
		return f.AcquireFunc(ctx, lock)
	}
	lock.ID = uuid.New()
	return nil
}

func (f *fakeLockRepo) Release(ctx context.Context, path, holderID string) error {
	if f.ReleaseFunc != nil {
		return f.ReleaseFunc(ctx, path, holderID)
	}
	return nil
}

func (f *fakeLockRepo) ReleaseAll(ctx context.Context, holderID string) (int, error) {
	return 0, nil
}

func (f *fakeLockRepo) ReleaseTask(ctx context.Context, holderID, taskStepID string) (int, error) {
	return 0, nil
}

func (f *fakeLockRepo) ListActive(ctx context.Context, path string) ([]*models.FileLock, error) {
	return nil, nil
}

func (f *fakeLockRepo) SweepExpired(ctx context.Context) (int, error) {
	f.Swept++
	return 0, nil
}

// fakeAuditor is a function-field fake for AuditorService.
type fakeAuditor struct {
	EvaluateFunc func(ctx context.Context, workflowID uuid.UUID) (*AuditOutcome, error)
	Calls        int
}

var _ AuditorService = (*fakeAuditor)(nil)

func (f *fakeAuditor) Evaluate(ctx context.Context, workflowID uuid.UUID) (*AuditOutcome, error) {
	f.Calls++
	if f.EvaluateFunc != nil {
		return f.EvaluateFunc(ctx, workflowID)
	}
	return &AuditOutcome{Finalize: true}, nil
}
