package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/apperrors"
	"github.com/agentcoord/agentcoord/pkg/models"
	"github.com/agentcoord/agentcoord/pkg/repositories"
)

func TestSubmitRecordsAndReturnsStatuses(t *testing.T) {
	var recorded *repositories.ResultRecord
	workflows := &fakeWorkflowRepo{
		RecordResultFunc: func(ctx context.Context, rec *repositories.ResultRecord) (*repositories.StatusSnapshot, error) {
			recorded = rec
			return &repositories.StatusSnapshot{
				TaskStatus:     models.TaskStatusCompleted,
				WorkflowStatus: models.WorkflowStatusInProgress,
			}, nil
		},
	}
	auditor := &fakeAuditor{}
	svc := NewResultService(workflows, auditor, newTestConfig(), zap.NewNop())

	outcome, err := svc.Submit(context.Background(), &ResultSubmission{
		WorkflowID:  uuid.New(),
		StepID:      "a",
		WorkerID:    "w1",
		FinalResult: "done",
		Succeeded:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, models.TaskStatusCompleted, outcome.TaskStatus)
	assert.Equal(t, models.WorkflowStatusInProgress, outcome.WorkflowStatus)
	assert.False(t, outcome.Finalized)
	assert.Equal(t, 0, auditor.Calls, "audit only runs when the workflow completes")

	require.NotNil(t, recorded)
	assert.Equal(t, 2, recorded.MaxRetries, "retry budget comes from config")
}

func TestSubmitRunsAuditAndFinalizes(t *testing.T) {
	wfID := uuid.New()
	finalized := ""
	workflows := &fakeWorkflowRepo{
		RecordResultFunc: func(ctx context.Context, rec *repositories.ResultRecord) (*repositories.StatusSnapshot, error) {
			return &repositories.StatusSnapshot{
				TaskStatus:     models.TaskStatusCompleted,
				WorkflowStatus: models.WorkflowStatusCompleted,
			}, nil
		},
		GetWorkflowFunc: func(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
			return &models.Workflow{ID: id}, nil
		},
		FinalizeWorkflowFunc: func(ctx context.Context, workflowID uuid.UUID, artifact string) error {
			finalized = artifact
			return nil
		},
	}
	auditor := &fakeAuditor{
		EvaluateFunc: func(ctx context.Context, workflowID uuid.UUID) (*AuditOutcome, error) {
			return &AuditOutcome{Finalize: true, Artifact: "deliverable"}, nil
		},
	}
	svc := NewResultService(workflows, auditor, newTestConfig(), zap.NewNop())

	outcome, err := svc.Submit(context.Background(), &ResultSubmission{
		WorkflowID: wfID, StepID: "a", WorkerID: "w1", Succeeded: true,
	})
	require.NoError(t, err)

	assert.True(t, outcome.Finalized)
	assert.Equal(t, 1, auditor.Calls)
	assert.Equal(t, "deliverable", finalized)
}

func TestSubmitFailedAuditTriggersRework(t *testing.T) {
	wfID := uuid.New()
	incremented := 0
	var resetDirectives []models.ReworkDirective
	workflows := &fakeWorkflowRepo{
		RecordResultFunc: func(ctx context.Context, rec *repositories.ResultRecord) (*repositories.StatusSnapshot, error) {
			return &repositories.StatusSnapshot{
				TaskStatus:     models.TaskStatusCompleted,
				WorkflowStatus: models.WorkflowStatusCompleted,
			}, nil
		},
		GetWorkflowFunc: func(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
			return &models.Workflow{ID: id}, nil
		},
		IncrementReworkCyclesFunc: func(ctx context.Context, workflowID uuid.UUID) (int, error) {
			incremented++
			return 1, nil
		},
		ResetTasksForReworkFunc: func(ctx context.Context, workflowID uuid.UUID, directives []models.ReworkDirective) ([]string, error) {
			resetDirectives = directives
			return []string{"a", "b"}, nil
		},
		RecomputeStatusesFunc: func(ctx context.Context, workflowID uuid.UUID) (*repositories.StatusSnapshot, error) {
			return &repositories.StatusSnapshot{WorkflowStatus: models.WorkflowStatusInProgress}, nil
		},
	}
	auditor := &fakeAuditor{
		EvaluateFunc: func(ctx context.Context, workflowID uuid.UUID) (*AuditOutcome, error) {
			return &AuditOutcome{
				Directives: []models.ReworkDirective{{StepID: "a", Reason: "wrong"}},
			}, nil
		},
	}
	svc := NewResultService(workflows, auditor, newTestConfig(), zap.NewNop())

	outcome, err := svc.Submit(context.Background(), &ResultSubmission{
		WorkflowID: wfID, StepID: "b", WorkerID: "w1", Succeeded: true,
	})
	require.NoError(t, err)

	assert.False(t, outcome.Finalized)
	assert.Equal(t, []string{"a", "b"}, outcome.ResetSteps)
	assert.Equal(t, 1, incremented)
	require.Len(t, resetDirectives, 1)
	assert.Equal(t, models.WorkflowStatusInProgress, outcome.WorkflowStatus,
		"status reflects the post-reset state, not the pre-audit COMPLETED")
}

func TestSubmitSkipsAuditWhenAlreadyFinalized(t *testing.T) {
	workflows := &fakeWorkflowRepo{
		RecordResultFunc: func(ctx context.Context, rec *repositories.ResultRecord) (*repositories.StatusSnapshot, error) {
			return &repositories.StatusSnapshot{
				TaskStatus:     models.TaskStatusCompleted,
				WorkflowStatus: models.WorkflowStatusCompleted,
			}, nil
		},
		GetWorkflowFunc: func(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
			return &models.Workflow{ID: id, Finalized: true}, nil
		},
	}
	auditor := &fakeAuditor{}
	svc := NewResultService(workflows, auditor, newTestConfig(), zap.NewNop())

	outcome, err := svc.Submit(context.Background(), &ResultSubmission{
		WorkflowID: uuid.New(), StepID: "a", WorkerID: "w1", Succeeded: true,
	})
	require.NoError(t, err)

	assert.True(t, outcome.Finalized)
	assert.Equal(t, 0, auditor.Calls)
}

func TestSubmitPropagatesStaleClaim(t *testing.T) {
	workflows := &fakeWorkflowRepo{
		RecordResultFunc: func(ctx context.Context, rec *repositories.ResultRecord) (*repositories.StatusSnapshot, error) {
			return nil, apperrors.ErrStaleClaim
		},
	}
	svc := NewResultService(workflows, &fakeAuditor{}, newTestConfig(), zap.NewNop())

	_, err := svc.Submit(context.Background(), &ResultSubmission{
		WorkflowID: uuid.New(), StepID: "a", WorkerID: "w2", Succeeded: true,
	})
	assert.ErrorIs(t, err, apperrors.ErrStaleClaim)
}

func TestSubmitAuditErrorLeavesWorkflowUnfinalized(t *testing.T) {
	workflows := &fakeWorkflowRepo{
		RecordResultFunc: func(ctx context.Context, rec *repositories.ResultRecord) (*repositories.StatusSnapshot, error) {
			return &repositories.StatusSnapshot{
				TaskStatus:     models.TaskStatusCompleted,
				WorkflowStatus: models.WorkflowStatusCompleted,
			}, nil
		},
		GetWorkflowFunc: func(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
			return &models.Workflow{ID: id}, nil
		},
	}
	auditor := &fakeAuditor{
		EvaluateFunc: func(ctx context.Context, workflowID uuid.UUID) (*AuditOutcome, error) {
			return nil, apperrors.ErrStoreUnavailable
		},
	}
	svc := NewResultService(workflows, auditor, newTestConfig(), zap.NewNop())

	outcome, err := svc.Submit(context.Background(), &ResultSubmission{
		WorkflowID: uuid.New(), StepID: "a", WorkerID: "w1", Succeeded: true,
	})
	require.NoError(t, err, "worker report is still accepted")
	assert.False(t, outcome.Finalized)
}
