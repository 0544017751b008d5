package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/apperrors"
	"github.com/agentcoord/agentcoord/pkg/config"
	"github.com/agentcoord/agentcoord/pkg/llm"
	"github.com/agentcoord/agentcoord/pkg/models"
	"github.com/agentcoord/agentcoord/pkg/prompts"
	"github.com/agentcoord/agentcoord/pkg/repositories"
)

// auditResponse is the auditor LLM output schema.
type auditResponse struct {
	IsSuccessful     bool                     `json:"is_successful"`
	Feedback         string                   `json:"feedback"`
	ReworkDirectives []models.ReworkDirective `json:"rework_directives"`
	Confidence       float64                  `json:"confidence"`
}

// AuditOutcome is the auditor's decision for a completed workflow: either
// finalize with the synthesized artifact, or reset the named steps for
// another execution round.
type AuditOutcome struct {
	Report   *models.AuditReport
	Finalize bool
	// Artifact is the synthesized deliverable; set when Finalize is true.
	Artifact string
	// Directives are the effective rework directives; set when Finalize is
	// false.
	Directives []models.ReworkDirective
}

// AuditorService is the quality gate for workflows whose tasks have all
// completed. It evaluates the work, persists a report, and decides between
// finalization and a rework cycle, bounded by MaxReworkCycles.
type AuditorService interface {
	Evaluate(ctx context.Context, workflowID uuid.UUID) (*AuditOutcome, error)
}

type auditorService struct {
	workflows repositories.WorkflowRepository
	results   repositories.ResultRepository
	audits    repositories.AuditRepository
	gateway   *llm.Gateway
	cfg       *config.Config
	logger    *zap.Logger
}

// NewAuditorService creates a new AuditorService.
func NewAuditorService(
	workflows repositories.WorkflowRepository,
	results repositories.ResultRepository,
	audits repositories.AuditRepository,
	gateway *llm.Gateway,
	cfg *config.Config,
	logger *zap.Logger,
) AuditorService {
	return &auditorService{
		workflows: workflows,
		results:   results,
		audits:    audits,
		gateway:   gateway,
		cfg:       cfg,
		logger:    logger.Named("auditor"),
	}
}

var _ AuditorService = (*auditorService)(nil)

// Evaluate audits a completed workflow and returns the decision. The audit
// LLM call runs outside any store transaction; the caller applies the
// outcome (finalize or reset).
//
// Decision policy:
//   - A passing verdict below the confidence threshold is treated as
//     unsuccessful.
//   - Directives naming unknown steps are dropped; if nothing actionable
//     remains on an unsuccessful verdict, the workflow finalizes anyway
//     rather than looping on an empty reset.
//   - At the rework-cycle bound the workflow finalizes regardless of
//     verdict, with the report preserved.
//   - An audit that fails schema validation is recorded as a forced pass;
//     availability of the deliverable wins over a gate that cannot answer.
func (s *auditorService) Evaluate(ctx context.Context, workflowID uuid.UUID) (*AuditOutcome, error) {
	wf, err := s.workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.workflows.ListTasks(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	latest, err := s.results.LatestByStep(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	resp, err := s.runAudit(ctx, wf, tasks, latest)
	if err != nil {
		if !errors.Is(err, apperrors.ErrSchemaFailure) {
			return nil, err
		}
		s.logger.Warn("Audit failed schema validation, forcing pass",
			zap.String("workflow_id", workflowID.String()),
			zap.Error(err))
		resp = &auditResponse{
			IsSuccessful: true,
			Feedback:     "audit unavailable: auditor produced no valid verdict; accepting work as-is",
			Confidence:   0,
		}
	}

	report := &models.AuditReport{
		WorkflowID:       workflowID,
		IsSuccessful:     resp.IsSuccessful,
		Feedback:         resp.Feedback,
		ReworkDirectives: resp.ReworkDirectives,
		Confidence:       resp.Confidence,
	}
	if err := s.audits.Create(ctx, report); err != nil {
		return nil, err
	}

	outcome := &AuditOutcome{Report: report}

	passed := resp.IsSuccessful
	if passed && resp.Confidence < s.cfg.Coordination.AuditConfidenceThreshold {
		s.logger.Info("Audit passed below confidence threshold, treating as unsuccessful",
			zap.String("workflow_id", workflowID.String()),
			zap.Float64("confidence", resp.Confidence),
			zap.Float64("threshold", s.cfg.Coordination.AuditConfidenceThreshold))
		passed = false
	}

	directives := filterDirectives(resp.ReworkDirectives, tasks)

	atBound := wf.ReworkCycles >= s.cfg.Coordination.MaxReworkCycles
	switch {
	case passed:
		outcome.Finalize = true
	case atBound:
		s.logger.Warn("Rework cycle bound reached, finalizing despite failed audit",
			zap.String("workflow_id", workflowID.String()),
			zap.Int("rework_cycles", wf.ReworkCycles))
		outcome.Finalize = true
	case len(directives) == 0:
		s.logger.Warn("Failed audit carries no actionable directives, finalizing",
			zap.String("workflow_id", workflowID.String()))
		outcome.Finalize = true
	default:
		outcome.Directives = directives
	}

	if outcome.Finalize {
		outcome.Artifact = SynthesizeArtifact(tasks, latest)
	}

	s.logger.Info("Audit evaluated",
		zap.String("workflow_id", workflowID.String()),
		zap.Bool("is_successful", resp.IsSuccessful),
		zap.Float64("confidence", resp.Confidence),
		zap.Bool("finalize", outcome.Finalize),
		zap.Int("directives", len(outcome.Directives)))

	return outcome, nil
}

func (s *auditorService) runAudit(ctx context.Context, wf *models.Workflow, tasks []*models.Task, results map[string]*models.Result) (*auditResponse, error) {
	systemPrompt := prompts.BuildAuditSystemPrompt()
	userPrompt := prompts.BuildAuditUserPrompt(wf, tasks, results)

	resp, err := llm.GenerateJSON(ctx, s.gateway, systemPrompt, userPrompt, func(r *auditResponse) error {
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("confidence %v out of range [0,1]", r.Confidence)
		}
		if !r.IsSuccessful && r.Feedback == "" {
			return fmt.Errorf("unsuccessful verdict requires feedback")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// filterDirectives drops directives naming steps the workflow does not have.
func filterDirectives(directives []models.ReworkDirective, tasks []*models.Task) []models.ReworkDirective {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.StepID] = true
	}

	var kept []models.ReworkDirective
	for _, d := range directives {
		if known[d.StepID] {
			kept = append(kept, d)
		}
	}
	return kept
}
