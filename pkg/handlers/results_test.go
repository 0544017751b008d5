package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/apperrors"
	"github.com/agentcoord/agentcoord/pkg/models"
	"github.com/agentcoord/agentcoord/pkg/services"
)

func resultsMux(svc services.ResultService) *http.ServeMux {
	mux := http.NewServeMux()
	NewResultsHandler(svc, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestSubmitResult(t *testing.T) {
	wfID := uuid.New()
	var submitted *services.ResultSubmission
	svc := &fakeResultService{
		SubmitFunc: func(ctx context.Context, sub *services.ResultSubmission) (*services.ResultOutcome, error) {
			submitted = sub
			return &services.ResultOutcome{
				TaskStatus:     models.TaskStatusCompleted,
				WorkflowStatus: models.WorkflowStatusCompleted,
				Finalized:      true,
			}, nil
		},
	}
	mux := resultsMux(svc)

	body := fmt.Sprintf(`{
		"workflow_id": "%s",
		"step_id": "a",
		"worker_id": "w1",
		"final_result": "done",
		"execution_time": 1.5,
		"iterations": [{"thought": "t", "action": "a", "observation": "o"}]
	}`, wfID)
	req := httptest.NewRequest(http.MethodPost, "/v1/results", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp SubmitResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	assert.True(t, resp.Finalized)
	assert.Equal(t, models.WorkflowStatusCompleted, resp.WorkflowStatus)

	require.NotNil(t, submitted)
	assert.Equal(t, wfID, submitted.WorkflowID)
	assert.True(t, submitted.Succeeded, "succeeded defaults to true")
	require.Len(t, submitted.Iterations, 1)
}

func TestSubmitResultExplicitFailure(t *testing.T) {
	var submitted *services.ResultSubmission
	svc := &fakeResultService{
		SubmitFunc: func(ctx context.Context, sub *services.ResultSubmission) (*services.ResultOutcome, error) {
			submitted = sub
			return &services.ResultOutcome{TaskStatus: models.TaskStatusReady}, nil
		},
	}
	mux := resultsMux(svc)

	body := fmt.Sprintf(`{"workflow_id": "%s", "step_id": "a", "worker_id": "w1", "succeeded": false}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/v1/results", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, submitted)
	assert.False(t, submitted.Succeeded)
}

func TestSubmitResultStatusField(t *testing.T) {
	var submitted *services.ResultSubmission
	svc := &fakeResultService{
		SubmitFunc: func(ctx context.Context, sub *services.ResultSubmission) (*services.ResultOutcome, error) {
			submitted = sub
			return &services.ResultOutcome{TaskStatus: models.TaskStatusReady}, nil
		},
	}
	mux := resultsMux(svc)

	body := fmt.Sprintf(`{
		"workflow_id": "%s",
		"step_id": "a",
		"worker_id": "w1",
		"status": "failed",
		"final_result": "could not finish",
		"ra_history": [
			{"thought": "try x", "action": "run x", "observation": "x broke"},
			{"thought": "give up", "action": "report", "observation": ""}
		],
		"execution_time": 2.0
	}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/v1/results", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, submitted)
	assert.False(t, submitted.Succeeded, "status failed must not be recorded as a success")
	require.Len(t, submitted.Iterations, 2)
	assert.Equal(t, "try x", submitted.Iterations[0].Thought)
}

func TestSubmitResultStatusOverridesSucceededAlias(t *testing.T) {
	var submitted *services.ResultSubmission
	svc := &fakeResultService{
		SubmitFunc: func(ctx context.Context, sub *services.ResultSubmission) (*services.ResultOutcome, error) {
			submitted = sub
			return &services.ResultOutcome{TaskStatus: models.TaskStatusCompleted}, nil
		},
	}
	mux := resultsMux(svc)

	body := fmt.Sprintf(`{"workflow_id": "%s", "step_id": "a", "worker_id": "w1", "status": "completed", "succeeded": false}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/v1/results", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, submitted)
	assert.True(t, submitted.Succeeded)
}

func TestSubmitResultStaleClaimReturns409(t *testing.T) {
	svc := &fakeResultService{
		SubmitFunc: func(ctx context.Context, sub *services.ResultSubmission) (*services.ResultOutcome, error) {
			return nil, fmt.Errorf("%w: task a is not claimed by w2", apperrors.ErrStaleClaim)
		},
	}
	mux := resultsMux(svc)

	body := fmt.Sprintf(`{"workflow_id": "%s", "step_id": "a", "worker_id": "w2"}`, uuid.New())
	req := httptest.NewRequest(http.MethodPost, "/v1/results", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "stale_claim")
}

func TestSubmitResultValidation(t *testing.T) {
	mux := resultsMux(&fakeResultService{})

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing step_id", fmt.Sprintf(`{"workflow_id": "%s", "worker_id": "w1"}`, uuid.New())},
		{"missing worker_id", fmt.Sprintf(`{"workflow_id": "%s", "step_id": "a"}`, uuid.New())},
		{"bad workflow_id", `{"workflow_id": "nope", "step_id": "a", "worker_id": "w1"}`},
		{"unknown status", fmt.Sprintf(`{"workflow_id": "%s", "step_id": "a", "worker_id": "w1", "status": "done"}`, uuid.New())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/results", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
