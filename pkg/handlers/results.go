package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/models"
	"github.com/agentcoord/agentcoord/pkg/services"
)

// Worker-reported task outcomes.
const (
	reportStatusCompleted = "completed"
	reportStatusFailed    = "failed"
)

// SubmitResultRequest is the body of POST /v1/results: a worker's report for
// a claimed task. Status is "completed" or "failed" and defaults to completed
// when omitted. Succeeded and Iterations are accepted as aliases for status
// and ra_history; status wins when both are present.
type SubmitResultRequest struct {
	WorkflowID    string               `json:"workflow_id"`
	StepID        string               `json:"step_id"`
	WorkerID      string               `json:"worker_id"`
	Status        string               `json:"status,omitempty"`
	RAHistory     []models.RAIteration `json:"ra_history,omitempty"`
	FinalResult   string               `json:"final_result"`
	ExecutionTime float64              `json:"execution_time"`
	Succeeded     *bool                `json:"succeeded,omitempty"`
	Iterations    []models.RAIteration `json:"iterations,omitempty"`
}

// succeeded resolves the reported outcome, preferring the status field over
// the succeeded alias.
func (req *SubmitResultRequest) succeeded() bool {
	if req.Status != "" {
		return req.Status == reportStatusCompleted
	}
	return req.Succeeded == nil || *req.Succeeded
}

// raHistory resolves the iteration history, preferring ra_history over the
// iterations alias.
func (req *SubmitResultRequest) raHistory() []models.RAIteration {
	if req.RAHistory != nil {
		return req.RAHistory
	}
	return req.Iterations
}

// SubmitResultResponse tells the worker what its report did to the task and
// workflow.
type SubmitResultResponse struct {
	Accepted       bool                  `json:"accepted"`
	TaskStatus     models.TaskStatus     `json:"task_status"`
	WorkflowStatus models.WorkflowStatus `json:"workflow_status"`
	Finalized      bool                  `json:"finalized"`
	ResetSteps     []string              `json:"reset_steps,omitempty"`
}

// ResultsHandler handles worker result reports.
type ResultsHandler struct {
	results services.ResultService
	logger  *zap.Logger
}

// NewResultsHandler creates a new ResultsHandler.
func NewResultsHandler(results services.ResultService, logger *zap.Logger) *ResultsHandler {
	return &ResultsHandler{results: results, logger: logger}
}

// RegisterRoutes registers the results handler's routes on the given mux.
func (h *ResultsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/results", h.Submit)
}

// Submit handles POST /v1/results.
// Records the report and returns the resulting statuses; a report from a
// worker that lost its claim is rejected with 409.
func (h *ResultsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.StepID == "" || req.WorkerID == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "validation_failed", "step_id and worker_id are required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.Status != "" && req.Status != reportStatusCompleted && req.Status != reportStatusFailed {
		if err := ErrorResponse(w, http.StatusBadRequest, "validation_failed", `status must be "completed" or "failed"`); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	workflowID, err := uuid.Parse(req.WorkflowID)
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "validation_failed", "workflow_id must be a valid UUID"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	outcome, err := h.results.Submit(r.Context(), &services.ResultSubmission{
		WorkflowID:    workflowID,
		StepID:        req.StepID,
		WorkerID:      req.WorkerID,
		Iterations:    req.raHistory(),
		FinalResult:   req.FinalResult,
		ExecutionTime: req.ExecutionTime,
		Succeeded:     req.succeeded(),
	})
	if err != nil {
		status, code := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Failed to record result",
				zap.String("workflow_id", req.WorkflowID),
				zap.String("step_id", req.StepID),
				zap.Error(err))
		}
		if err := ErrorResponse(w, status, code, err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := SubmitResultResponse{
		Accepted:       true,
		TaskStatus:     outcome.TaskStatus,
		WorkflowStatus: outcome.WorkflowStatus,
		Finalized:      outcome.Finalized,
		ResetSteps:     outcome.ResetSteps,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
