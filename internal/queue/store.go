// Package queue implements the Queue Store (spec §4.A): a durable mapping
// of task-id to task record with atomic status transitions and namespace
// scoping. Two backends are provided, grounded on the teacher's own choice
// of two backends (Redis streams vs. nothing durable): FileStore satisfies
// the write-to-temp+rename atomicity the spec requires of a filesystem
// implementation, RedisStore satisfies the "external table with
// conditional-update" alternative the spec's Open Questions describe.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/taskorch/engine/internal/task"
)

// Errors from the taxonomy in spec §7.
var (
	ErrNotFound          = errors.New("queue: task not found")
	ErrGroupNotFound     = errors.New("queue: task group not found")
	ErrInvalidTransition = errors.New("queue: invalid status transition")
	ErrInvalidInput      = errors.New("queue: invalid input")
	ErrNotAwaiting       = errors.New("queue: task is not AWAITING_RESPONSE")
)

// StaleDecision is the outcome of consulting the Restart Detector (§4.H)
// about one stale RUNNING task record.
type StaleDecision int

const (
	// DecisionRollbackReplay resets the task to QUEUED and bumps attempt-count.
	DecisionRollbackReplay StaleDecision = iota
	// DecisionSoftResume leaves the task RUNNING, trusting an external
	// executor is still making progress (§4.H: unreachable in the default
	// in-process deployment, kept for a future out-of-process executor).
	DecisionSoftResume
)

// StaleDeciderFunc classifies one stale RUNNING record. The concrete policy
// lives in internal/restart; the queue package only needs the shape so it
// is not forced to depend on the scheduler.
type StaleDeciderFunc func(rec *task.Record) StaleDecision

// CompletePatch carries the optional payload of a RUNNING→COMPLETE write.
// SubtaskIDs is set only when the task ran through Task Chunking (§4.F);
// it records the parent-task-id → subtask-ids link the Control-Plane
// Contract's task projection surfaces as subtask_ids.
type CompletePatch struct {
	Output     string
	SubtaskIDs []string
}

// ErrorPatch carries the optional payload of a RUNNING→ERROR write.
type ErrorPatch struct {
	ErrorMessage string
}

// AwaitingResponsePatch carries the optional payload of a RUNNING→AWAITING_RESPONSE write.
type AwaitingResponsePatch struct {
	Question string
}

// BlockedPatch carries the optional payload of a RUNNING→BLOCKED write.
type BlockedPatch struct {
	Reason string
}

// Store is the contract exported by the Queue Store (§4.A).
type Store interface {
	Enqueue(ctx context.Context, sessionID, taskGroupID, prompt string, taskType task.Type, namespace string) (*task.Record, error)
	Get(ctx context.Context, taskID, namespace string) (*task.Record, error)
	ListByGroup(ctx context.Context, taskGroupID, namespace string) ([]*task.Record, error)
	ListGroups(ctx context.Context, namespace string) ([]*task.Group, error)
	ListNamespaces(ctx context.Context) ([]string, error)

	// Claim atomically selects the oldest QUEUED task in the namespace and
	// transitions it to RUNNING. Returns (nil, nil) when nothing is claimable.
	Claim(ctx context.Context, namespace string) (*task.Record, error)

	// UpdateStatus validates and writes a status transition (§4.1).
	UpdateStatus(ctx context.Context, taskID, namespace string, newStatus task.Status, patch any) (*task.Record, error)

	// ResumeWithResponse is valid only from AWAITING_RESPONSE (§4.A).
	ResumeWithResponse(ctx context.Context, taskID, namespace, replyText string) (*task.Record, error)

	AppendEvent(ctx context.Context, taskID, namespace string, event task.ProgressEvent) error
	AppendReview(ctx context.Context, taskID, namespace string, rec task.ReviewIterationRecord) error

	// RecoverStale scans RUNNING tasks whose updated-at predates maxAge and
	// applies decide's verdict to each (§4.A, §4.H).
	RecoverStale(ctx context.Context, namespace string, maxAge time.Duration, decide StaleDeciderFunc) (int, error)

	// Group operations backing the Task Group entity (§3).
	GetGroup(ctx context.Context, groupID, namespace string) (*task.Group, error)
	AppendConversationEntry(ctx context.Context, groupID, namespace string, entry task.ConversationEntry) error

	Close() error
}
