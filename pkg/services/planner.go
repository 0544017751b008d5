package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/apperrors"
	"github.com/agentcoord/agentcoord/pkg/config"
	"github.com/agentcoord/agentcoord/pkg/llm"
	"github.com/agentcoord/agentcoord/pkg/models"
	"github.com/agentcoord/agentcoord/pkg/prompts"
	"github.com/agentcoord/agentcoord/pkg/repositories"
)

// maxWorkflowNameLen caps derived workflow names.
const maxWorkflowNameLen = 64

// roleAliases maps role names models commonly invent to configured roles.
// Auto-correcting beats rejecting the whole plan over a synonym.
var roleAliases = map[string]string{
	"reviewer":    "analyst",
	"planner":     "architect",
	"coordinator": "architect",
	"manager":     "architect",
}

// PlanRequest is a user submission to be turned into a task graph.
type PlanRequest struct {
	UserRequest string
	Metadata    map[string]any
	ProjectID   string
}

// PlannedStep is the planner LLM output schema: one element of the task
// graph array.
type PlannedStep struct {
	StepID           string                           `json:"step_id"`
	Description      string                           `json:"description"`
	Role             string                           `json:"role"`
	Dependencies     []string                         `json:"dependencies"`
	FileDependencies map[string]models.FileAccessMode `json:"file_dependencies"`
}

// PlannerService turns a user request into a validated, persisted task
// graph. Planning failures degrade to a single-task fallback so submission
// always makes forward progress.
type PlannerService interface {
	Plan(ctx context.Context, req *PlanRequest) (*models.Workflow, []*models.Task, error)
}

type plannerService struct {
	workflows repositories.WorkflowRepository
	projects  repositories.ProjectRepository
	gateway   *llm.Gateway
	cfg       *config.Config
	logger    *zap.Logger
}

// NewPlannerService creates a new PlannerService.
func NewPlannerService(
	workflows repositories.WorkflowRepository,
	projects repositories.ProjectRepository,
	gateway *llm.Gateway,
	cfg *config.Config,
	logger *zap.Logger,
) PlannerService {
	return &plannerService{
		workflows: workflows,
		projects:  projects,
		gateway:   gateway,
		cfg:       cfg,
		logger:    logger.Named("planner"),
	}
}

var _ PlannerService = (*plannerService)(nil)

// Plan asks the gateway for a task graph, validates it, falls back to a
// single analyst task when the gateway exhausts its attempts, and persists
// the result. Dependency-free tasks are READY in the same transaction.
func (s *plannerService) Plan(ctx context.Context, req *PlanRequest) (*models.Workflow, []*models.Task, error) {
	name := deriveWorkflowName(req.UserRequest, req.Metadata)

	steps, err := s.planSteps(ctx, req)
	if err != nil {
		if !errors.Is(err, apperrors.ErrSchemaFailure) {
			return nil, nil, err
		}
		s.logger.Warn("Planning failed, using fallback plan",
			zap.String("workflow_name", name),
			zap.Error(err))
		steps = fallbackPlan(req.UserRequest)
	}

	wf := &models.Workflow{
		Name:        name,
		UserRequest: req.UserRequest,
		Metadata:    req.Metadata,
	}

	if projectUUID, err := s.resolveProject(ctx, req); err != nil {
		return nil, nil, err
	} else if projectUUID != nil {
		wf.ProjectID = projectUUID
	}

	tasks := make([]*models.Task, len(steps))
	for i, step := range steps {
		status := models.TaskStatusPending
		if len(step.Dependencies) == 0 {
			status = models.TaskStatusReady
		}
		tasks[i] = &models.Task{
			StepID:           step.StepID,
			Description:      step.Description,
			Role:             step.Role,
			Dependencies:     step.Dependencies,
			FileDependencies: step.FileDependencies,
			Status:           status,
		}
	}

	if err := s.workflows.CreateWorkflow(ctx, wf, tasks); err != nil {
		return nil, nil, fmt.Errorf("persist workflow: %w", err)
	}

	s.logger.Info("Workflow planned",
		zap.String("workflow_id", wf.ID.String()),
		zap.String("name", wf.Name),
		zap.Int("tasks", len(tasks)))

	return wf, tasks, nil
}

func (s *plannerService) planSteps(ctx context.Context, req *PlanRequest) ([]PlannedStep, error) {
	systemPrompt := prompts.BuildPlanningSystemPrompt(s.cfg.Coordination.Roles)
	userPrompt := prompts.BuildPlanningUserPrompt(req.UserRequest, req.Metadata)

	return llm.GenerateJSON(ctx, s.gateway, systemPrompt, userPrompt, func(steps *[]PlannedStep) error {
		return s.validatePlan(*steps)
	})
}

// validatePlan enforces the plan schema: non-empty, unique step ids,
// dependency closure inside the graph, acyclic, roles from the configured
// set (after alias correction), file modes from the enum. Role aliases are
// corrected in place rather than failing the attempt.
func (s *plannerService) validatePlan(steps []PlannedStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("plan contains no tasks")
	}

	ids := make(map[string]bool, len(steps))
	for _, step := range steps {
		if step.StepID == "" {
			return fmt.Errorf("task with empty step_id")
		}
		if ids[step.StepID] {
			return fmt.Errorf("duplicate step_id %q", step.StepID)
		}
		ids[step.StepID] = true
	}

	for i := range steps {
		step := &steps[i]
		if alias, ok := roleAliases[step.Role]; ok && !s.cfg.IsValidRole(step.Role) {
			s.logger.Warn("Auto-corrected invalid role",
				zap.String("step_id", step.StepID),
				zap.String("from", step.Role),
				zap.String("to", alias))
			step.Role = alias
		}
		if !s.cfg.IsValidRole(step.Role) {
			return fmt.Errorf("task %q has unknown role %q", step.StepID, step.Role)
		}

		for _, dep := range step.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("task %q has unknown dependency %q", step.StepID, dep)
			}
			if dep == step.StepID {
				return fmt.Errorf("task %q depends on itself", step.StepID)
			}
		}

		for path, mode := range step.FileDependencies {
			if !models.IsValidFileAccessMode(mode) {
				return fmt.Errorf("task %q declares invalid access mode %q for %q", step.StepID, mode, path)
			}
		}
	}

	if err := checkAcyclic(steps); err != nil {
		return err
	}
	return nil
}

// checkAcyclic runs Kahn's algorithm over the dependency edges.
func checkAcyclic(steps []PlannedStep) error {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string)
	for _, step := range steps {
		indegree[step.StepID] += 0
		for _, dep := range step.Dependencies {
			indegree[step.StepID]++
			dependents[dep] = append(dependents[dep], step.StepID)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(steps) {
		return fmt.Errorf("dependency graph contains a cycle")
	}
	return nil
}

// fallbackPlan guarantees forward progress when planning fails: one analyst
// task carrying the raw request, ready immediately.
func fallbackPlan(userRequest string) []PlannedStep {
	return []PlannedStep{{
		StepID:      "task_1",
		Description: "Complete the user request: " + userRequest,
		Role:        "analyst",
	}}
}

func (s *plannerService) resolveProject(ctx context.Context, req *PlanRequest) (*uuid.UUID, error) {
	externalID := req.ProjectID
	name := externalID
	if pn, ok := req.Metadata["project_name"].(string); ok && pn != "" {
		name = pn
		if externalID == "" {
			externalID = sanitizeName(pn, maxWorkflowNameLen)
		}
	}
	if externalID == "" {
		return nil, nil
	}

	project, err := s.projects.GetOrCreate(ctx, externalID, name)
	if err != nil {
		return nil, fmt.Errorf("resolve project: %w", err)
	}
	return &project.ID, nil
}

// deriveWorkflowName prefers the metadata override, then falls back to the
// first tokens of the request sanitized to a stable identifier.
func deriveWorkflowName(userRequest string, metadata map[string]any) string {
	if metadata != nil {
		if name, ok := metadata["workflow_name"].(string); ok && name != "" {
			return sanitizeName(name, maxWorkflowNameLen)
		}
	}
	return sanitizeName(userRequest, maxWorkflowNameLen)
}

// sanitizeName lowercases, maps runs of non-alphanumerics to single
// underscores, and caps the length.
func sanitizeName(s string, maxLen int) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
		if b.Len() >= maxLen {
			break
		}
	}
	return strings.Trim(b.String(), "_")
}
