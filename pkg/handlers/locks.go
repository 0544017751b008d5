package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agentcoord/agentcoord/pkg/models"
	"github.com/agentcoord/agentcoord/pkg/services"
)

// AcquireLockRequest is the body of POST /v1/locks.
type AcquireLockRequest struct {
	Path       string                `json:"path"`
	WorkerID   string                `json:"worker_id"`
	TaskStepID string                `json:"task_step_id,omitempty"`
	Mode       models.FileAccessMode `json:"mode"`
	TTLSeconds int                   `json:"ttl_seconds,omitempty"`
}

// ReleaseLockRequest is the body of DELETE /v1/locks. An empty path
// releases every lease the worker holds.
type ReleaseLockRequest struct {
	Path     string `json:"path,omitempty"`
	WorkerID string `json:"worker_id"`
}

// LocksHandler handles file-lease acquisition and release.
type LocksHandler struct {
	locks  services.LockService
	logger *zap.Logger
}

// NewLocksHandler creates a new LocksHandler.
func NewLocksHandler(locks services.LockService, logger *zap.Logger) *LocksHandler {
	return &LocksHandler{locks: locks, logger: logger}
}

// RegisterRoutes registers the locks handler's routes on the given mux.
func (h *LocksHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/locks", h.Acquire)
	mux.HandleFunc("DELETE /v1/locks", h.Release)
}

// Acquire handles POST /v1/locks.
// Non-blocking: a conflicting request gets 409 and the worker retries with
// backoff.
func (h *LocksHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	var req AcquireLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	lock, err := h.locks.Acquire(r.Context(), &services.LockRequest{
		Path:       req.Path,
		HolderID:   req.WorkerID,
		TaskStepID: req.TaskStepID,
		Mode:       req.Mode,
		TTL:        time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		status, code := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Failed to acquire lock",
				zap.String("path", req.Path),
				zap.String("worker_id", req.WorkerID),
				zap.Error(err))
		}
		if err := ErrorResponse(w, status, code, err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, lock); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Release handles DELETE /v1/locks.
func (h *LocksHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req ReleaseLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var err error
	var released int
	if req.Path == "" {
		released, err = h.locks.ReleaseAll(r.Context(), req.WorkerID)
	} else {
		err = h.locks.Release(r.Context(), req.Path, req.WorkerID)
		released = 1
	}
	if err != nil {
		status, code := errorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Failed to release lock",
				zap.String("path", req.Path),
				zap.String("worker_id", req.WorkerID),
				zap.Error(err))
		}
		if err := ErrorResponse(w, status, code, err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]int{"released": released}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
