package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/llm"
	"github.com/agentcoord/agentcoord/pkg/models"
)

func newTestPlanner(t *testing.T, mock *llm.MockClient, workflows *fakeWorkflowRepo, projects *fakeProjectRepo) PlannerService {
	t.Helper()
	if workflows == nil {
		workflows = &fakeWorkflowRepo{}
	}
	if projects == nil {
		projects = &fakeProjectRepo{}
	}
	gw := llm.NewGateway(mock, 2, zap.NewNop())
	return NewPlannerService(workflows, projects, gw, newTestConfig(), zap.NewNop())
}

func TestPlanValidGraph(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		return `[
			{"step_id": "research", "description": "Research the topic", "role": "researcher", "dependencies": []},
			{"step_id": "write", "description": "Write the report", "role": "writer", "dependencies": ["research"],
			 "file_dependencies": {"report.md": "write"}}
		]`, nil
	}

	planner := newTestPlanner(t, mock, nil, nil)
	wf, tasks, err := planner.Plan(context.Background(), &PlanRequest{UserRequest: "Write a market report"})
	require.NoError(t, err)

	require.Len(t, tasks, 2)
	assert.Equal(t, models.TaskStatusReady, tasks[0].Status, "dependency-free task starts READY")
	assert.Equal(t, models.TaskStatusPending, tasks[1].Status)
	assert.Equal(t, models.FileAccessWrite, tasks[1].FileDependencies["report.md"])
	assert.Equal(t, "write_a_market_report", wf.Name)
}

func TestPlanFallsBackOnSchemaFailure(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		return "I cannot produce JSON today.", nil
	}

	planner := newTestPlanner(t, mock, nil, nil)
	_, tasks, err := planner.Plan(context.Background(), &PlanRequest{UserRequest: "Summarize the findings"})
	require.NoError(t, err)

	require.Len(t, tasks, 1)
	assert.Equal(t, "task_1", tasks[0].StepID)
	assert.Equal(t, "analyst", tasks[0].Role)
	assert.Equal(t, models.TaskStatusReady, tasks[0].Status)
	assert.Contains(t, tasks[0].Description, "Summarize the findings")
	assert.Equal(t, 2, mock.CompleteCalls, "fallback only after the attempt budget")
}

func TestPlanAutoCorrectsAliasedRoles(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		return `[
			{"step_id": "a", "description": "d", "role": "reviewer", "dependencies": []},
			{"step_id": "b", "description": "d", "role": "coordinator", "dependencies": []}
		]`, nil
	}

	planner := newTestPlanner(t, mock, nil, nil)
	_, tasks, err := planner.Plan(context.Background(), &PlanRequest{UserRequest: "x"})
	require.NoError(t, err)

	assert.Equal(t, "analyst", tasks[0].Role)
	assert.Equal(t, "architect", tasks[1].Role)
	assert.Equal(t, 1, mock.CompleteCalls, "aliases are corrected, not re-prompted")
}

func TestPlanRepromptsOnCycle(t *testing.T) {
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		if mock.CompleteCalls == 1 {
			return `[
				{"step_id": "a", "description": "d", "role": "analyst", "dependencies": ["b"]},
				{"step_id": "b", "description": "d", "role": "analyst", "dependencies": ["a"]}
			]`, nil
		}
		return `[{"step_id": "a", "description": "d", "role": "analyst", "dependencies": []}]`, nil
	}

	planner := newTestPlanner(t, mock, nil, nil)
	_, tasks, err := planner.Plan(context.Background(), &PlanRequest{UserRequest: "x"})
	require.NoError(t, err)

	assert.Len(t, tasks, 1)
	assert.Equal(t, 2, mock.CompleteCalls)
	assert.Contains(t, mock.Prompts[1], "cycle")
}

func TestPlanRejectsUnknownDependency(t *testing.T) {
	planner := newTestPlanner(t, llm.NewMockClient(), nil, nil).(*plannerService)

	err := planner.validatePlan([]PlannedStep{
		{StepID: "a", Role: "analyst", Dependencies: []string{"missing"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dependency")
}

func TestPlanRejectsDuplicateStepIDs(t *testing.T) {
	planner := newTestPlanner(t, llm.NewMockClient(), nil, nil).(*plannerService)

	err := planner.validatePlan([]PlannedStep{
		{StepID: "a", Role: "analyst"},
		{StepID: "a", Role: "writer"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step_id")
}

func TestPlanRejectsInvalidFileMode(t *testing.T) {
	planner := newTestPlanner(t, llm.NewMockClient(), nil, nil).(*plannerService)

	err := planner.validatePlan([]PlannedStep{
		{StepID: "a", Role: "analyst", FileDependencies: map[string]models.FileAccessMode{"f": "readonly"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid access mode")
}

func TestPlanRejectsUnknownRoleWithoutAlias(t *testing.T) {
	planner := newTestPlanner(t, llm.NewMockClient(), nil, nil).(*plannerService)

	err := planner.validatePlan([]PlannedStep{
		{StepID: "a", Role: "wizard"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}

func TestPlanResolvesProject(t *testing.T) {
	projects := &fakeProjectRepo{}
	var createdWF *models.Workflow
	workflows := &fakeWorkflowRepo{
		CreateWorkflowFunc: func(ctx context.Context, wf *models.Workflow, tasks []*models.Task) error {
			createdWF = wf
			return nil
		},
	}

	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		return `[{"step_id": "a", "description": "d", "role": "analyst", "dependencies": []}]`, nil
	}

	planner := newTestPlanner(t, mock, workflows, projects)
	_, _, err := planner.Plan(context.Background(), &PlanRequest{
		UserRequest: "x",
		ProjectID:   "proj-42",
	})
	require.NoError(t, err)
	require.NotNil(t, createdWF)
	assert.NotNil(t, createdWF.ProjectID)
}

func TestPlanPropagatesStoreError(t *testing.T) {
	workflows := &fakeWorkflowRepo{
		CreateWorkflowFunc: func(ctx context.Context, wf *models.Workflow, tasks []*models.Task) error {
			return errors.New("boom")
		},
	}
	mock := llm.NewMockClient()
	mock.CompleteFunc = func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		return `[{"step_id": "a", "description": "d", "role": "analyst", "dependencies": []}]`, nil
	}

	planner := newTestPlanner(t, mock, workflows, nil)
	_, _, err := planner.Plan(context.Background(), &PlanRequest{UserRequest: "x"})
	assert.Error(t, err)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "write_a_report", sanitizeName("Write a report!", 64))
	assert.Equal(t, "abc", sanitizeName("--abc--", 64))
	assert.Equal(t, "a_b", sanitizeName("a b", 4))
	assert.Equal(t, "abcd", sanitizeName("abcdef", 4))
	long := sanitizeName("this is a very long request that keeps going and going and going forever", 64)
	assert.LessOrEqual(t, len(long), 64)
}
