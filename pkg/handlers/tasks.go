package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/config"
	"github.com/agentcoord/agentcoord/pkg/models"
	"github.com/agentcoord/agentcoord/pkg/services"
)

// SubmitTaskRequest is the body of POST /v1/tasks: a user request to be
// planned into a workflow.
type SubmitTaskRequest struct {
	UserRequest string         `json:"user_request"`
	ProjectID   string         `json:"project_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SubmitTaskResponse returns the planned workflow and its task graph.
type SubmitTaskResponse struct {
	Workflow *models.Workflow `json:"workflow"`
	Tasks    []*models.Task   `json:"tasks"`
}

// TasksHandler handles task submission and worker polling.
type TasksHandler struct {
	planner   services.PlannerService
	scheduler services.SchedulerService
	cfg       *config.Config
	logger    *zap.Logger
}

// NewTasksHandler creates a new TasksHandler.
func NewTasksHandler(planner services.PlannerService, scheduler services.SchedulerService, cfg *config.Config, logger *zap.Logger) *TasksHandler {
	return &TasksHandler{
		planner:   planner,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    logger,
	}
}

// RegisterRoutes registers the tasks handler's routes on the given mux.
func (h *TasksHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/tasks", h.Submit)
	mux.HandleFunc("GET /v1/tasks/ready", h.Poll)
}

// Submit handles POST /v1/tasks.
// Plans the user request into a workflow and returns the task graph.
func (h *TasksHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.UserRequest == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "validation_failed", "user_request is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	wf, tasks, err := h.planner.Plan(r.Context(), &services.PlanRequest{
		UserRequest: req.UserRequest,
		Metadata:    req.Metadata,
		ProjectID:   req.ProjectID,
	})
	if err != nil {
		status, code := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Failed to plan workflow", zap.Error(err))
		}
		if err := ErrorResponse(w, status, code, "Failed to plan workflow"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, SubmitTaskResponse{Workflow: wf, Tasks: tasks}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Poll handles GET /v1/tasks/ready?role=R&worker_id=W.
// Claims and returns the next ready task for the role, or 204 when no work
// is available. Workers back off and poll again.
func (h *TasksHandler) Poll(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	workerID := r.URL.Query().Get("worker_id")

	task, err := h.scheduler.Dispatch(r.Context(), role, workerID)
	if err != nil {
		status, code := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Failed to dispatch task",
				zap.String("role", role),
				zap.String("worker_id", workerID),
				zap.Error(err))
		}
		if err := ErrorResponse(w, status, code, err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := WriteJSON(w, http.StatusOK, task); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
