// Package task defines the orchestration engine's core entities: the task
// record and its status machine, task groups, progress events, review
// iteration records and subtask definitions (spec §3).
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the kinds of work a task record can carry.
type Type string

const (
	TaskTypeReadInfo       Type = "READ_INFO"
	TaskTypeReport         Type = "REPORT"
	TaskTypeLightEdit      Type = "LIGHT_EDIT"
	TaskTypeImplementation Type = "IMPLEMENTATION"
	TaskTypeReviewResponse Type = "REVIEW_RESPONSE"
	TaskTypeConfigCIChange Type = "CONFIG_CI_CHANGE"
	TaskTypeDangerousOp    Type = "DANGEROUS_OP"
)

func (t Type) Valid() bool {
	switch t {
	case TaskTypeReadInfo, TaskTypeReport, TaskTypeLightEdit, TaskTypeImplementation,
		TaskTypeReviewResponse, TaskTypeConfigCIChange, TaskTypeDangerousOp:
		return true
	default:
		return false
	}
}

// Record is the Task Record entity from spec §3.
type Record struct {
	ID           string    `json:"id"`
	TaskGroupID  string    `json:"task_group_id"`
	SessionID    string    `json:"session_id"`
	Namespace    string    `json:"namespace"`
	Prompt       string    `json:"prompt"`
	TaskType     Type      `json:"task_type"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	Output       string    `json:"output,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	UserReply    string    `json:"user_reply,omitempty"`
	ParentTaskID string    `json:"parent_task_id,omitempty"`
	SubtaskIDs   []string  `json:"subtask_ids,omitempty"`

	ProgressEvents []ProgressEvent       `json:"progress_events,omitempty"`
	ReviewHistory  []ReviewIterationRecord `json:"review_history,omitempty"`
}

// New creates a Record in status QUEUED, per the enqueue contract in §4.A.
func New(sessionID, taskGroupID, prompt string, taskType Type, namespace string) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:           uuid.New().String(),
		TaskGroupID:  taskGroupID,
		SessionID:    sessionID,
		Namespace:    namespace,
		Prompt:       prompt,
		TaskType:     taskType,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
		AttemptCount: 0,
	}
}

// ToJSON serializes the record, the on-disk and Redis wire format alike.
func (r *Record) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON deserializes a record.
func FromJSON(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// LastProgressAt returns the timestamp the timeout model (§4.D) measures
// idle_elapsed against: the later of created-at and the last progress event.
func (r *Record) LastProgressAt() time.Time {
	if len(r.ProgressEvents) == 0 {
		return r.CreatedAt
	}
	last := r.ProgressEvents[len(r.ProgressEvents)-1].Timestamp
	if last.After(r.CreatedAt) {
		return last
	}
	return r.CreatedAt
}

// AppendEvent appends a progress event in emission order (ordering guarantee
// O-2) and stamps updated-at.
func (r *Record) AppendEvent(e ProgressEvent) {
	r.ProgressEvents = append(r.ProgressEvents, e)
	r.UpdatedAt = time.Now().UTC()
}

// AppendReview appends a review iteration record (append-only per §3).
func (r *Record) AppendReview(rec ReviewIterationRecord) {
	r.ReviewHistory = append(r.ReviewHistory, rec)
}
