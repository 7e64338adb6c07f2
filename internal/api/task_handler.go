// Package api provides HTTP handlers for the API.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pixelrise/enhance-api/internal/api/shared"
	"github.com/pixelrise/enhance-api/internal/domain"
	"github.com/pixelrise/enhance-api/internal/platform/logger"
	"github.com/pixelrise/enhance-api/internal/redact"
	"github.com/pixelrise/enhance-api/internal/service/reconcile"
	"github.com/pixelrise/enhance-api/internal/store"
)

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	tasks      store.TaskStore
	reconciler reconcile.TaskReconciler
	logger     *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(
	tasks store.TaskStore,
	reconciler reconcile.TaskReconciler,
	logger *slog.Logger,
) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		tasks:      tasks,
		reconciler: reconciler,
		logger:     logger.With(slog.String("component", "task_handler")),
	}
}

// GetTask handles GET /v1/tasks/{id} requests.
// For a task still in processing state it runs one reconciliation pass
// inline, so the user sees fresh provider state without waiting for the
// next sweep. Reconciliation errors degrade to the last known state rather
// than failing the poll.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	pathTaskID := chi.URLParam(r, "id")
	if pathTaskID == "" {
		log.Warn("task ID not found in URL path")
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	taskID, err := uuid.Parse(pathTaskID)
	if err != nil {
		log.Warn("invalid task ID format", slog.String("task_id", pathTaskID))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID format")
		return
	}

	// Extract user ID from context (set by auth middleware)
	userID, ok := r.Context().Value(shared.UserIDContextKey).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		log.Warn("user ID not found or invalid in request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "User ID not found or invalid")
		return
	}

	task, err := h.tasks.GetByID(r.Context(), taskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			shared.RespondWithErrorAndLog(w, r,
				MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
			return
		}
		// A transient read failure must not fail the poll; tell the caller
		// the work is still in flight and let them try again.
		log.Error("failed to read task, reporting as still running",
			slog.String("task_id", taskID.String()),
			slog.String("error", redact.Error(err)))
		shared.RespondWithJSON(w, r, http.StatusOK, TaskStatusResponse{
			ID:     taskID.String(),
			Status: "running",
		})
		return
	}

	if task.OwnerID != userID {
		log.Warn("task ownership check failed",
			slog.String("task_id", taskID.String()),
			slog.String("user_id", userID.String()))
		shared.RespondWithErrorAndLog(w, r,
			http.StatusForbidden, GetSafeErrorMessage(ErrTaskNotOwned), ErrTaskNotOwned)
		return
	}

	// Terminal tasks are served as-is; no provider round trip.
	if task.Status == domain.TaskStatusProcessing {
		outcome, rerr := h.reconciler.Reconcile(r.Context(), task)
		if rerr != nil {
			log.Error("inline reconciliation failed, reporting last known state",
				slog.String("task_id", taskID.String()),
				slog.String("error", redact.Error(rerr)))
			shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
			return
		}

		if outcome != reconcile.OutcomeRunning {
			// The pass finalized the task (or observed another caller doing
			// so); re-read for the stored outputs or failure reason.
			fresh, gerr := h.tasks.GetByID(r.Context(), taskID)
			if gerr != nil {
				log.Error("failed to re-read task after reconciliation",
					slog.String("task_id", taskID.String()),
					slog.String("error", redact.Error(gerr)))
				shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
				return
			}
			task = fresh
		}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}
