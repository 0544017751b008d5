package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/models"
	"github.com/agentcoord/agentcoord/pkg/repositories"
)

// WorkflowStatusResponse is the aggregated view of a workflow: the workflow
// row plus per-status task counts and the task list.
type WorkflowStatusResponse struct {
	Workflow   *models.Workflow          `json:"workflow"`
	TaskCounts map[models.TaskStatus]int `json:"task_counts"`
	Tasks      []*models.Task            `json:"tasks"`
}

// ArtifactResponse carries a finalized workflow's deliverable.
type ArtifactResponse struct {
	WorkflowID string `json:"workflow_id"`
	Artifact   string `json:"artifact"`
}

// WorkflowsHandler serves workflow status and artifact reads.
type WorkflowsHandler struct {
	workflows repositories.WorkflowRepository
	logger    *zap.Logger
}

// NewWorkflowsHandler creates a new WorkflowsHandler.
func NewWorkflowsHandler(workflows repositories.WorkflowRepository, logger *zap.Logger) *WorkflowsHandler {
	return &WorkflowsHandler{workflows: workflows, logger: logger}
}

// RegisterRoutes registers the workflows handler's routes on the given mux.
func (h *WorkflowsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/workflows/{id}/status", h.Status)
	mux.HandleFunc("GET /v1/workflows/{id}/artifact", h.Artifact)
}

// Status handles GET /v1/workflows/{id}/status.
func (h *WorkflowsHandler) Status(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	wf, err := h.workflows.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		h.writeError(w, err, "Failed to get workflow")
		return
	}
	tasks, err := h.workflows.ListTasks(r.Context(), workflowID)
	if err != nil {
		h.writeError(w, err, "Failed to list tasks")
		return
	}

	counts := make(map[models.TaskStatus]int, len(models.ValidTaskStatuses))
	for _, s := range models.ValidTaskStatuses {
		counts[s] = 0
	}
	for _, t := range tasks {
		counts[t.Status]++
	}

	response := WorkflowStatusResponse{
		Workflow:   wf,
		TaskCounts: counts,
		Tasks:      tasks,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Artifact handles GET /v1/workflows/{id}/artifact.
// The artifact exists only after audit-gated finalization; before that the
// endpoint returns 404.
func (h *WorkflowsHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	wf, err := h.workflows.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		h.writeError(w, err, "Failed to get workflow")
		return
	}
	if !wf.Finalized || wf.Artifact == nil {
		if err := ErrorResponse(w, http.StatusNotFound, "not_finalized", "Workflow has no artifact yet"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	response := ArtifactResponse{
		WorkflowID: wf.ID.String(),
		Artifact:   *wf.Artifact,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *WorkflowsHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	workflowID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "validation_failed", "Workflow id must be a valid UUID"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return uuid.Nil, false
	}
	return workflowID, true
}

func (h *WorkflowsHandler) writeError(w http.ResponseWriter, err error, message string) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, zap.Error(err))
	}
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
