// Package handlers adapts the Control-Plane Contract (internal/controlplane)
// into chi HTTP handlers shaped exactly per spec §6's route table.
//
// Grounded on the teacher's internal/api/handlers/task.go: the same
// decode-validate-call-respond shape and respondJSON/respondError helper
// pair, re-targeted from a Redis task queue's CreateTaskRequest onto this
// engine's task/task-group/reply/status/trace operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taskorch/engine/internal/controlplane"
	"github.com/taskorch/engine/internal/logger"
	"github.com/taskorch/engine/internal/queue"
	"github.com/taskorch/engine/internal/task"
)

// TaskHandler serves the task and task-group routes of §6.
type TaskHandler struct {
	cp               *controlplane.ControlPlane
	defaultNamespace string
}

// NewTaskHandler creates a TaskHandler bound to cp.
func NewTaskHandler(cp *controlplane.ControlPlane, defaultNamespace string) *TaskHandler {
	return &TaskHandler{cp: cp, defaultNamespace: defaultNamespace}
}

func (h *TaskHandler) namespace(r *http.Request) string {
	if ns := r.URL.Query().Get("namespace"); ns != "" {
		return ns
	}
	return h.defaultNamespace
}

// createTaskRequest is the body of both POST /api/tasks and
// POST /api/task-groups (§6: `{task_group_id, prompt}`).
type createTaskRequest struct {
	TaskGroupID string `json:"task_group_id"`
	Prompt      string `json:"prompt"`
	TaskType    string `json:"task_type,omitempty"`
}

type createTaskResponse struct {
	TaskID      string `json:"task_id"`
	TaskGroupID string `json:"task_group_id"`
	Namespace   string `json:"namespace"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// Create handles POST /api/tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondInvalidInput(w, "invalid request body")
		return
	}

	taskType := task.Type(req.TaskType)
	if req.TaskType == "" {
		taskType = task.TaskTypeImplementation
	}

	rec, err := h.cp.EnqueueTask(r.Context(), "", req.TaskGroupID, req.Prompt, h.namespace(r), taskType)
	if err != nil {
		h.respondCreateErr(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, createTaskResponse{
		TaskID:      rec.ID,
		TaskGroupID: rec.TaskGroupID,
		Namespace:   rec.Namespace,
		Status:      rec.Status.String(),
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339Nano),
	})
}

// CreateGroup handles POST /api/task-groups.
func (h *TaskHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondInvalidInput(w, "invalid request body")
		return
	}

	taskType := task.Type(req.TaskType)
	if req.TaskType == "" {
		taskType = task.TaskTypeImplementation
	}

	rec, err := h.cp.EnqueueTaskGroup(r.Context(), "", req.Prompt, h.namespace(r), taskType)
	if err != nil {
		h.respondCreateErr(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, createTaskResponse{
		TaskID:      rec.ID,
		TaskGroupID: rec.TaskGroupID,
		Namespace:   rec.Namespace,
		Status:      rec.Status.String(),
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (h *TaskHandler) respondCreateErr(w http.ResponseWriter, err error) {
	if errors.Is(err, controlplane.ErrInvalidInput) {
		respondInvalidInput(w, err.Error())
		return
	}
	logger.Error().Err(err).Msg("enqueue failed")
	respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to enqueue task")
}

// Get handles GET /api/tasks/:id.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	proj, err := h.cp.GetTask(r.Context(), taskID, h.namespace(r))
	if err != nil {
		h.respondGetErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, proj)
}

func (h *TaskHandler) respondGetErr(w http.ResponseWriter, err error) {
	if errors.Is(err, queue.ErrNotFound) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "task not found")
		return
	}
	logger.Error().Err(err).Msg("get task failed")
	respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to fetch task")
}

// ListGroups handles GET /api/task-groups.
func (h *TaskHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	ns := h.namespace(r)
	groups, err := h.cp.ListGroups(r.Context(), ns)
	if err != nil {
		logger.Error().Err(err).Msg("list groups failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list task groups")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"namespace": ns, "task_groups": groups})
}

// ListGroupTasks handles GET /api/task-groups/:id/tasks.
func (h *TaskHandler) ListGroupTasks(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	ns := h.namespace(r)
	tasks, err := h.cp.ListTasksInGroup(r.Context(), groupID, ns)
	if err != nil {
		logger.Error().Err(err).Msg("list group tasks failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to list tasks")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"namespace": ns, "task_group_id": groupID, "tasks": tasks})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type updateStatusResponse struct {
	Success   bool   `json:"success"`
	TaskID    string `json:"task_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// UpdateStatus handles PATCH /api/tasks/:id/status.
func (h *TaskHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondInvalidInput(w, "invalid request body")
		return
	}

	old, cur, err := h.cp.UpdateTaskStatus(r.Context(), taskID, h.namespace(r), req.Status)
	if err != nil {
		switch {
		case errors.Is(err, controlplane.ErrInvalidInput):
			respondError(w, http.StatusBadRequest, "INVALID_STATUS", err.Error())
		case errors.Is(err, queue.ErrNotFound):
			respondError(w, http.StatusNotFound, "NOT_FOUND", "task not found")
		case errors.Is(err, queue.ErrInvalidTransition):
			respondError(w, http.StatusBadRequest, "INVALID_STATUS", "transition not permitted")
		default:
			logger.Error().Err(err).Msg("update status failed")
			respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to update status")
		}
		return
	}

	respondJSON(w, http.StatusOK, updateStatusResponse{
		Success:   true,
		TaskID:    taskID,
		OldStatus: old.String(),
		NewStatus: cur.String(),
	})
}

type replyRequest struct {
	Reply string `json:"reply"`
}

type replyResponse struct {
	Success   bool   `json:"success"`
	TaskID    string `json:"task_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// Reply handles POST /api/tasks/:id/reply.
func (h *TaskHandler) Reply(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondInvalidInput(w, "invalid request body")
		return
	}

	rec, err := h.cp.ReplyToTask(r.Context(), taskID, h.namespace(r), req.Reply)
	if err != nil {
		switch {
		case errors.Is(err, controlplane.ErrInvalidInput):
			respondInvalidInput(w, err.Error())
		case errors.Is(err, queue.ErrNotFound):
			respondError(w, http.StatusNotFound, "NOT_FOUND", "task not found")
		case errors.Is(err, queue.ErrNotAwaiting):
			respondError(w, http.StatusConflict, "INVALID_STATUS", "task is not AWAITING_RESPONSE")
		default:
			logger.Error().Err(err).Msg("reply failed")
			respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to apply reply")
		}
		return
	}

	respondJSON(w, http.StatusOK, replyResponse{
		Success:   true,
		TaskID:    rec.ID,
		OldStatus: "AWAITING_RESPONSE",
		NewStatus: rec.Status.String(),
	})
}

// Trace handles GET /api/tasks/:id/trace.
func (h *TaskHandler) Trace(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	latest := r.URL.Query().Get("latest") == "true"

	trace, err := h.cp.GetTraceForTask(r.Context(), taskID, h.namespace(r), latest)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "task not found")
			return
		}
		logger.Error().Err(err).Msg("trace fetch failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL", "failed to fetch trace")
		return
	}
	respondJSON(w, http.StatusOK, trace)
}
