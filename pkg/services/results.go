package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/config"
	"github.com/agentcoord/agentcoord/pkg/models"
	"github.com/agentcoord/agentcoord/pkg/repositories"
)

// ResultSubmission is a worker's report for a claimed task.
type ResultSubmission struct {
	WorkflowID    uuid.UUID
	StepID        string
	WorkerID      string
	Iterations    []models.RAIteration
	FinalResult   string
	ExecutionTime float64
	Succeeded     bool
}

// ResultOutcome is what the worker learns from its report: the committed
// task status and the workflow status after propagation, including any
// audit-driven finalization or rework that the completion triggered.
type ResultOutcome struct {
	TaskStatus     models.TaskStatus
	WorkflowStatus models.WorkflowStatus
	ProjectStatus  *models.WorkflowStatus
	// ResetSteps lists tasks reset by a failed audit, if one ran.
	ResetSteps []string
	Finalized  bool
}

// ResultService ingests worker reports and drives the completion pipeline:
// when a report completes the last task of a workflow, the audit gate runs
// and either finalizes the workflow or resets tasks for rework.
type ResultService interface {
	Submit(ctx context.Context, sub *ResultSubmission) (*ResultOutcome, error)
}

type resultService struct {
	workflows repositories.WorkflowRepository
	auditor   AuditorService
	cfg       *config.Config
	logger    *zap.Logger
}

// NewResultService creates a new ResultService.
func NewResultService(
	workflows repositories.WorkflowRepository,
	auditor AuditorService,
	cfg *config.Config,
	logger *zap.Logger,
) ResultService {
	return &resultService{
		workflows: workflows,
		auditor:   auditor,
		cfg:       cfg,
		logger:    logger.Named("results"),
	}
}

var _ ResultService = (*resultService)(nil)

// Submit records the report transactionally, then runs the audit gate if
// the workflow just completed. Stale or duplicate reports are rejected by
// the store with ErrStaleClaim/ErrConflict before anything is written.
func (s *resultService) Submit(ctx context.Context, sub *ResultSubmission) (*ResultOutcome, error) {
	rec := &repositories.ResultRecord{
		WorkflowID:    sub.WorkflowID,
		StepID:        sub.StepID,
		WorkerID:      sub.WorkerID,
		Iterations:    sub.Iterations,
		FinalResult:   sub.FinalResult,
		ExecutionTime: sub.ExecutionTime,
		Succeeded:     sub.Succeeded,
		MaxRetries:    s.cfg.Coordination.MaxRetries,
	}

	snapshot, err := s.workflows.RecordResult(ctx, rec)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Result recorded",
		zap.String("workflow_id", sub.WorkflowID.String()),
		zap.String("step_id", sub.StepID),
		zap.String("worker_id", sub.WorkerID),
		zap.Bool("succeeded", sub.Succeeded),
		zap.String("task_status", string(snapshot.TaskStatus)),
		zap.String("workflow_status", string(snapshot.WorkflowStatus)))

	outcome := &ResultOutcome{
		TaskStatus:     snapshot.TaskStatus,
		WorkflowStatus: snapshot.WorkflowStatus,
		ProjectStatus:  snapshot.ProjectStatus,
	}

	if snapshot.WorkflowStatus != models.WorkflowStatusCompleted {
		return outcome, nil
	}

	wf, err := s.workflows.GetWorkflow(ctx, sub.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf.Finalized {
		outcome.Finalized = true
		return outcome, nil
	}

	auditOutcome, err := s.auditor.Evaluate(ctx, sub.WorkflowID)
	if err != nil {
		// The workflow stays COMPLETED but unfinalized; the next completion
		// or an operator retry re-runs the gate.
		s.logger.Error("Audit failed, workflow left unfinalized",
			zap.String("workflow_id", sub.WorkflowID.String()),
			zap.Error(err))
		return outcome, nil
	}

	if auditOutcome.Finalize {
		if err := s.workflows.FinalizeWorkflow(ctx, sub.WorkflowID, auditOutcome.Artifact); err != nil {
			return nil, err
		}
		outcome.Finalized = true
		s.logger.Info("Workflow finalized",
			zap.String("workflow_id", sub.WorkflowID.String()))
		return outcome, nil
	}

	if _, err := s.workflows.IncrementReworkCycles(ctx, sub.WorkflowID); err != nil {
		return nil, err
	}
	resetSteps, err := s.workflows.ResetTasksForRework(ctx, sub.WorkflowID, auditOutcome.Directives)
	if err != nil {
		return nil, err
	}
	outcome.ResetSteps = resetSteps

	// The reset moved tasks back through PENDING/READY; report the
	// post-reset workflow status instead of the pre-audit COMPLETED.
	post, err := s.workflows.RecomputeStatuses(ctx, sub.WorkflowID)
	if err != nil {
		return nil, err
	}
	outcome.WorkflowStatus = post.WorkflowStatus
	outcome.ProjectStatus = post.ProjectStatus

	s.logger.Info("Workflow reset for rework",
		zap.String("workflow_id", sub.WorkflowID.String()),
		zap.Strings("reset_steps", resetSteps))

	return outcome, nil
}
