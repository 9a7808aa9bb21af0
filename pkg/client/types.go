package client

import "time"

// TaskProjection mirrors internal/controlplane.TaskProjection: the response
// shape for get-task and the tasks/groups listing operations (§6).
type TaskProjection struct {
	TaskID       string    `json:"task_id"`
	TaskGroupID  string    `json:"task_group_id"`
	SessionID    string    `json:"session_id"`
	Namespace    string    `json:"namespace"`
	Prompt       string    `json:"prompt"`
	TaskType     string    `json:"task_type"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	AttemptCount int       `json:"attempt_count"`
	Output       string    `json:"output,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ShowReplyUI  bool      `json:"show_reply_ui"`
	ReviewCount  int       `json:"review_iteration_count"`
	SubtaskIDs   []string  `json:"subtask_ids,omitempty"`
}

// CreateTaskResponse is the body returned by POST /api/tasks and
// POST /api/task-groups.
type CreateTaskResponse struct {
	TaskID      string `json:"task_id"`
	TaskGroupID string `json:"task_group_id"`
	Namespace   string `json:"namespace"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// UpdateStatusResponse is the body returned by PATCH /api/tasks/:id/status.
type UpdateStatusResponse struct {
	Success   bool   `json:"success"`
	TaskID    string `json:"task_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// ReplyResponse is the body returned by POST /api/tasks/:id/reply.
type ReplyResponse struct {
	Success   bool   `json:"success"`
	TaskID    string `json:"task_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// ProgressEvent mirrors internal/task.ProgressEvent.
type ProgressEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id"`
	SessionID string    `json:"session_id"`
	Data      string    `json:"data,omitempty"`
}

// ReviewIterationRecord mirrors internal/task.ReviewIterationRecord.
type ReviewIterationRecord struct {
	Iteration          int      `json:"iteration"`
	Judgment           string   `json:"judgment"`
	FailedCriteria     []string `json:"failed_criteria,omitempty"`
	ModificationPrompt string   `json:"modification_prompt,omitempty"`
}

// TraceSummary mirrors internal/controlplane.TraceSummary.
type TraceSummary struct {
	EventCount       int    `json:"event_count"`
	ReviewIterations int    `json:"review_iterations"`
	Status           string `json:"status"`
}

// Trace mirrors internal/controlplane.Trace, the body returned by
// GET /api/tasks/:id/trace.
type Trace struct {
	TaskID  string                  `json:"task_id"`
	Entries []ProgressEvent         `json:"entries,omitempty"`
	Review  []ReviewIterationRecord `json:"review,omitempty"`
	Summary TraceSummary            `json:"summary"`
}

// ConversationEntry mirrors internal/task.ConversationEntry.
type ConversationEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id,omitempty"`
}

// Group mirrors internal/task.Group, as returned by GET /api/task-groups.
type Group struct {
	ID                  string              `json:"id"`
	SessionID           string              `json:"session_id"`
	State               string              `json:"state"`
	ConversationHistory []ConversationEntry `json:"conversation_history,omitempty"`
	WorkingFiles        []string            `json:"working_files,omitempty"`
	AccumulatedChanges  []string            `json:"accumulated_changes,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// ListGroupsResponse is the body returned by GET /api/task-groups.
type ListGroupsResponse struct {
	Namespace  string  `json:"namespace"`
	TaskGroups []Group `json:"task_groups"`
}

// ListGroupTasksResponse is the body returned by
// GET /api/task-groups/:id/tasks.
type ListGroupTasksResponse struct {
	Namespace   string           `json:"namespace"`
	TaskGroupID string           `json:"task_group_id"`
	Tasks       []TaskProjection `json:"tasks"`
}

// ListNamespacesResponse is the body returned by GET /api/namespaces.
type ListNamespacesResponse struct {
	Namespaces       []string `json:"namespaces"`
	CurrentNamespace string   `json:"current_namespace"`
}

// RunnerInfo mirrors internal/runner.Info.
type RunnerInfo struct {
	RunnerID      string    `json:"runner_id"`
	Namespace     string    `json:"namespace"`
	Status        string    `json:"status"`
	IsAlive       bool      `json:"is_alive"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	ActiveTasks   int       `json:"active_tasks"`
}

// ListRunnersResponse is the body returned by GET /api/runners.
type ListRunnersResponse struct {
	Namespace string       `json:"namespace"`
	Runners   []RunnerInfo `json:"runners"`
}

// QueueStoreInfo mirrors internal/controlplane.QueueStoreInfo.
type QueueStoreInfo struct {
	Type      string `json:"type"`
	Endpoint  string `json:"endpoint"`
	TableName string `json:"table_name,omitempty"`
}

// Health mirrors internal/controlplane.Health, the body returned by
// GET /api/health.
type Health struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Namespace  string         `json:"namespace"`
	WebPID     int            `json:"web_pid"`
	BuildSHA   string         `json:"build_sha,omitempty"`
	QueueStore QueueStoreInfo `json:"queue_store"`
}

// ErrorResponse is the body of any non-2xx response (§7's error taxonomy).
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
