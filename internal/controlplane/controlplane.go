// Package controlplane implements the Control-Plane Contract (spec §4.I):
// the operation set the HTTP layer exposes bit-exact at §6 — enqueue-task,
// enqueue-task-group, get-task, list-tasks-in-group, list-groups,
// list-namespaces, list-runners-with-status, update-task-status,
// reply-to-task, get-trace-for-task, health.
//
// Grounded on the teacher's internal/api/handlers/task.go: the same
// thin-wrapper-over-the-store shape (validate input, call the store,
// shape the response), generalized from a Redis-queue-backed task handler
// onto this engine's Queue Store + runner registry.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskorch/engine/internal/queue"
	"github.com/taskorch/engine/internal/runner"
	"github.com/taskorch/engine/internal/task"
)

// Errors surfaced to the HTTP layer, mapped onto §7's taxonomy.
var (
	ErrInvalidInput = errors.New("controlplane: invalid input")
	ErrNotFound     = queue.ErrNotFound
)

// ControlPlane wraps a Queue Store and a runner Registry behind the
// operation set named in §4.I. It holds no state of its own beyond those
// two references, so it can be constructed fresh per HTTP server without
// coordinating with the scheduler process that wrote the records it reads.
type ControlPlane struct {
	store      queue.Store
	runners    *runner.Registry
	buildSHA   string
	webPID     int
	backendKey string // queue_store.type surfaced by health, e.g. "file" or "redis"
	endpoint   string // queue_store.endpoint, e.g. the state dir or Redis addr
}

// New creates a ControlPlane. backend/endpoint are surfaced verbatim by
// Health's queue_store block (§6).
func New(store queue.Store, runners *runner.Registry, buildSHA, backend, endpoint string, webPID int) *ControlPlane {
	return &ControlPlane{
		store:      store,
		runners:    runners,
		buildSHA:   buildSHA,
		webPID:     webPID,
		backendKey: backend,
		endpoint:   endpoint,
	}
}

// TaskProjection is the response shape for get-task and the tasks/groups
// listing operations (§6): a flattened, JSON-stable view of task.Record.
type TaskProjection struct {
	TaskID       string                      `json:"task_id"`
	TaskGroupID  string                      `json:"task_group_id"`
	SessionID    string                      `json:"session_id"`
	Namespace    string                      `json:"namespace"`
	Prompt       string                      `json:"prompt"`
	TaskType     string                      `json:"task_type"`
	Status       string                      `json:"status"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
	AttemptCount int                         `json:"attempt_count"`
	Output       string                      `json:"output,omitempty"`
	ErrorMessage string                      `json:"error_message,omitempty"`
	ShowReplyUI  bool                        `json:"show_reply_ui"`
	ReviewCount  int                         `json:"review_iteration_count"`
	SubtaskIDs   []string                    `json:"subtask_ids,omitempty"`
}

func projectTask(rec *task.Record) TaskProjection {
	return TaskProjection{
		TaskID:       rec.ID,
		TaskGroupID:  rec.TaskGroupID,
		SessionID:    rec.SessionID,
		Namespace:    rec.Namespace,
		Prompt:       rec.Prompt,
		TaskType:     string(rec.TaskType),
		Status:       rec.Status.String(),
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		AttemptCount: rec.AttemptCount,
		Output:       rec.Output,
		ErrorMessage: rec.ErrorMessage,
		ShowReplyUI:  rec.Status == task.StatusAwaitingResponse,
		ReviewCount:  len(rec.ReviewHistory),
		SubtaskIDs:   rec.SubtaskIDs,
	}
}

// EnqueueTask implements enqueue-task (`POST /api/tasks`, §6). namespace
// must already be resolved by the caller (the HTTP layer derives it from
// the request or the server's default namespace, per §6's derivation
// rule); an empty prompt or task group id is InvalidInput.
func (c *ControlPlane) EnqueueTask(ctx context.Context, sessionID, taskGroupID, prompt, namespace string, taskType task.Type) (*task.Record, error) {
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt must not be empty", ErrInvalidInput)
	}
	if taskGroupID == "" {
		return nil, fmt.Errorf("%w: task_group_id must not be empty", ErrInvalidInput)
	}
	if !taskType.Valid() {
		taskType = task.TaskTypeImplementation
	}
	return c.store.Enqueue(ctx, sessionID, taskGroupID, prompt, taskType, namespace)
}

// EnqueueTaskGroup implements enqueue-task-group (`POST /api/task-groups`,
// §6): the first-task variant of EnqueueTask — taskGroupID is generated
// when the caller has none yet, then the first task is enqueued into it.
func (c *ControlPlane) EnqueueTaskGroup(ctx context.Context, sessionID, prompt, namespace string, taskType task.Type) (*task.Record, error) {
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt must not be empty", ErrInvalidInput)
	}
	groupID := sessionID + "-" + time.Now().UTC().Format("20060102150405.000000000")
	if !taskType.Valid() {
		taskType = task.TaskTypeImplementation
	}
	return c.store.Enqueue(ctx, sessionID, groupID, prompt, taskType, namespace)
}

// GetTask implements get-task (`GET /api/tasks/:id`, §6).
func (c *ControlPlane) GetTask(ctx context.Context, taskID, namespace string) (TaskProjection, error) {
	rec, err := c.store.Get(ctx, taskID, namespace)
	if err != nil {
		return TaskProjection{}, err
	}
	return projectTask(rec), nil
}

// ListTasksInGroup implements list-tasks-in-group
// (`GET /api/task-groups/:id/tasks`, §6).
func (c *ControlPlane) ListTasksInGroup(ctx context.Context, taskGroupID, namespace string) ([]TaskProjection, error) {
	recs, err := c.store.ListByGroup(ctx, taskGroupID, namespace)
	if err != nil {
		return nil, err
	}
	out := make([]TaskProjection, len(recs))
	for i, r := range recs {
		out[i] = projectTask(r)
	}
	return out, nil
}

// ListGroups implements list-groups (`GET /api/task-groups`, §6).
func (c *ControlPlane) ListGroups(ctx context.Context, namespace string) ([]*task.Group, error) {
	return c.store.ListGroups(ctx, namespace)
}

// ListNamespaces implements list-namespaces (`GET /api/namespaces`, §6).
func (c *ControlPlane) ListNamespaces(ctx context.Context) ([]string, error) {
	return c.store.ListNamespaces(ctx)
}

// ListRunnersWithStatus implements list-runners-with-status
// (`GET /api/runners`, §6). namespace == "" lists every runner.
func (c *ControlPlane) ListRunnersWithStatus(namespace string) []runner.Info {
	if c.runners == nil {
		return nil
	}
	return c.runners.Snapshot(namespace)
}

// UpdateTaskStatus implements update-task-status
// (`PATCH /api/tasks/:id/status`, §6). Only CANCELLED is a legal
// user-initiated target per §6's body-shape note; any other requested
// status is InvalidInput, not merely an invalid transition, since the
// control plane never lets a caller directly force COMPLETE/ERROR/etc.
func (c *ControlPlane) UpdateTaskStatus(ctx context.Context, taskID, namespace, newStatus string) (oldStatus, status task.Status, err error) {
	if newStatus != task.StatusCancelled.String() {
		return 0, 0, fmt.Errorf("%w: only CANCELLED may be set via update-task-status", ErrInvalidInput)
	}
	rec, err := c.store.Get(ctx, taskID, namespace)
	if err != nil {
		return 0, 0, err
	}
	oldStatus = rec.Status
	updated, err := c.store.UpdateStatus(ctx, taskID, namespace, task.StatusCancelled, nil)
	if err != nil {
		return oldStatus, 0, err
	}
	return oldStatus, updated.Status, nil
}

// ReplyToTask implements reply-to-task (`POST /api/tasks/:id/reply`, §6).
// reply must be non-empty; the task must currently be AWAITING_RESPONSE,
// enforced by the store's own ResumeWithResponse (queue.ErrNotAwaiting).
func (c *ControlPlane) ReplyToTask(ctx context.Context, taskID, namespace, reply string) (*task.Record, error) {
	if reply == "" {
		return nil, fmt.Errorf("%w: reply must not be empty", ErrInvalidInput)
	}
	return c.store.ResumeWithResponse(ctx, taskID, namespace, reply)
}

// Trace is the response shape for get-trace-for-task (§6).
type Trace struct {
	TaskID  string                       `json:"task_id"`
	Entries []task.ProgressEvent         `json:"entries,omitempty"`
	Review  []task.ReviewIterationRecord `json:"review,omitempty"`
	Summary TraceSummary                 `json:"summary"`
}

// TraceSummary rolls up a trace into a few headline numbers for a terminal
// consumer (the orchctl CLI and an operator console) that does not want to
// render every event.
type TraceSummary struct {
	EventCount       int    `json:"event_count"`
	ReviewIterations int    `json:"review_iterations"`
	Status           string `json:"status"`
}

// GetTraceForTask implements get-trace-for-task (`GET /api/tasks/:id/trace`,
// §6). latest, when true, returns only the single most recent progress
// event instead of the full history.
func (c *ControlPlane) GetTraceForTask(ctx context.Context, taskID, namespace string, latest bool) (Trace, error) {
	rec, err := c.store.Get(ctx, taskID, namespace)
	if err != nil {
		return Trace{}, err
	}

	entries := rec.ProgressEvents
	if latest && len(entries) > 0 {
		entries = entries[len(entries)-1:]
	}

	return Trace{
		TaskID:  rec.ID,
		Entries: entries,
		Review:  rec.ReviewHistory,
		Summary: TraceSummary{
			EventCount:       len(rec.ProgressEvents),
			ReviewIterations: len(rec.ReviewHistory),
			Status:           rec.Status.String(),
		},
	}, nil
}

// Health is the response shape for the health operation (`GET /api/health`,
// §6).
type Health struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Namespace   string         `json:"namespace"`
	WebPID      int            `json:"web_pid"`
	BuildSHA    string         `json:"build_sha,omitempty"`
	QueueStore  QueueStoreInfo `json:"queue_store"`
}

// QueueStoreInfo describes the active Queue Store backend for health.
type QueueStoreInfo struct {
	Type      string `json:"type"`
	Endpoint  string `json:"endpoint"`
	TableName string `json:"table_name,omitempty"`
}

// Health implements the health operation. It never returns an error: a
// reachable ControlPlane is itself evidence the process is alive, and a
// down queue store is reported as status "degraded" rather than failing
// the health check outright, so an operator can still query /api/health
// on a struggling instance.
func (c *ControlPlane) Health(ctx context.Context, namespace string) Health {
	status := "ok"
	if _, err := c.store.ListNamespaces(ctx); err != nil {
		status = "degraded"
	}
	return Health{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Namespace: namespace,
		WebPID:    c.webPID,
		BuildSHA:  c.buildSHA,
		QueueStore: QueueStoreInfo{
			Type:     c.backendKey,
			Endpoint: c.endpoint,
		},
	}
}
