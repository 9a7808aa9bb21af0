package task

import "time"

// ProgressEventType tags the variant of a ProgressEvent (spec §3).
type ProgressEventType string

const (
	ProgressHeartbeat    ProgressEventType = "heartbeat"
	ProgressToolProgress ProgressEventType = "tool_progress"
	ProgressLogChunk     ProgressEventType = "log_chunk"
)

// ProgressEvent is the tagged-variant entity from spec §3: every event
// carries a timestamp and the taskId+sessionId of the emitting run, so it
// can be tagged and filtered by the Executor Adapter's stale-output filter.
type ProgressEvent struct {
	Type      ProgressEventType `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	TaskID    string            `json:"task_id"`
	SessionID string            `json:"session_id"`
	Data      string            `json:"data,omitempty"`
}

// Heartbeat builds a {heartbeat} progress event.
func Heartbeat(taskID, sessionID string) ProgressEvent {
	return ProgressEvent{Type: ProgressHeartbeat, Timestamp: time.Now().UTC(), TaskID: taskID, SessionID: sessionID}
}

// ToolProgress builds a {tool_progress, data} progress event.
func ToolProgress(taskID, sessionID, data string) ProgressEvent {
	return ProgressEvent{Type: ProgressToolProgress, Timestamp: time.Now().UTC(), TaskID: taskID, SessionID: sessionID, Data: data}
}

// LogChunk builds a {log_chunk, data} progress event.
func LogChunk(taskID, sessionID, data string) ProgressEvent {
	return ProgressEvent{Type: ProgressLogChunk, Timestamp: time.Now().UTC(), TaskID: taskID, SessionID: sessionID, Data: data}
}

// Judgment is the Review Loop's verdict for one iteration (§4.E).
type Judgment string

const (
	JudgmentPass   Judgment = "PASS"
	JudgmentReject Judgment = "REJECT"
	JudgmentRetry  Judgment = "RETRY"
)

// ReviewIterationRecord is the append-only per-task record from spec §3.
type ReviewIterationRecord struct {
	Iteration          int      `json:"iteration"`
	Judgment           Judgment `json:"judgment"`
	FailedCriteria     []string `json:"failed_criteria,omitempty"`
	ModificationPrompt string   `json:"modification_prompt,omitempty"`
}

// SubtaskStatus is the status enum for a SubtaskDefinition (§3).
type SubtaskStatus string

const (
	SubtaskPending  SubtaskStatus = "PENDING"
	SubtaskRunning  SubtaskStatus = "RUNNING"
	SubtaskComplete SubtaskStatus = "COMPLETE"
	SubtaskFailed   SubtaskStatus = "FAILED"
)

// SubtaskDefinition is the Subtask Definition entity from spec §3.
type SubtaskDefinition struct {
	SubtaskID      string        `json:"subtask_id"`
	ParentTaskID   string        `json:"parent_task_id"`
	Prompt         string        `json:"prompt"`
	Dependencies   []string      `json:"dependencies,omitempty"`
	ExecutionOrder int           `json:"execution_order"`
	Status         SubtaskStatus `json:"status"`
	RetryCount     int           `json:"retry_count"`
	Result         string        `json:"result,omitempty"`
}
