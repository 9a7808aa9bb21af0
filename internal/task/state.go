package task

import (
	"encoding/json"
	"errors"
	"time"
)

// Status represents the current status of a task record.
type Status int

const (
	StatusQueued Status = iota
	StatusRunning
	StatusAwaitingResponse
	StatusComplete
	StatusError
	StatusBlocked
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "QUEUED"
	case StatusRunning:
		return "RUNNING"
	case StatusAwaitingResponse:
		return "AWAITING_RESPONSE"
	case StatusComplete:
		return "COMPLETE"
	case StatusError:
		return "ERROR"
	case StatusBlocked:
		return "BLOCKED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus parses a status string, defaulting to StatusQueued on unknown input.
func ParseStatus(s string) Status {
	switch s {
	case "QUEUED":
		return StatusQueued
	case "RUNNING":
		return StatusRunning
	case "AWAITING_RESPONSE":
		return StatusAwaitingResponse
	case "COMPLETE":
		return StatusComplete
	case "ERROR":
		return StatusError
	case "BLOCKED":
		return StatusBlocked
	case "CANCELLED":
		return StatusCancelled
	default:
		return StatusQueued
	}
}

// MarshalJSON encodes a status by its name, so on-disk and Redis records
// stay human-readable and the Redis claim script's string comparisons work.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the status name written by MarshalJSON.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*s = ParseStatus(name)
	return nil
}

// IsTerminal reports whether a status never transitions further.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusBlocked || s == StatusCancelled
}

// ValidTransitions encodes exactly the state machine in §4.1. Every other
// (source, destination) pair is invalid.
var ValidTransitions = map[Status][]Status{
	StatusQueued:           {StatusRunning, StatusCancelled},
	StatusRunning:          {StatusComplete, StatusError, StatusAwaitingResponse, StatusBlocked, StatusQueued},
	StatusAwaitingResponse: {StatusQueued, StatusCancelled},
}

// CanTransitionTo reports whether moving from s to target is a legal edge.
func (s Status) CanTransitionTo(target Status) bool {
	for _, v := range ValidTransitions[s] {
		if v == target {
			return true
		}
	}
	return false
}

var (
	ErrInvalidTransition  = errors.New("task: invalid status transition")
	ErrBlockedNonDangerous = errors.New("task: BLOCKED is only valid for DANGEROUS_OP tasks")
	ErrMissingOutput       = errors.New("task: transition requires non-empty output")
)

// StateMachine mutates a Record's status field, enforcing §4.1 and the
// invariants in §3 (I-1..I-4, I-6) at every transition.
type StateMachine struct {
	rec *Record
}

func NewStateMachine(rec *Record) *StateMachine {
	return &StateMachine{rec: rec}
}

func (sm *StateMachine) transition(target Status) error {
	if !sm.rec.Status.CanTransitionTo(target) {
		return ErrInvalidTransition
	}
	sm.rec.Status = target
	sm.rec.UpdatedAt = time.Now().UTC()
	return nil
}

// Claim moves QUEUED → RUNNING, stamping started-at.
func (sm *StateMachine) Claim() error {
	if err := sm.transition(StatusRunning); err != nil {
		return err
	}
	now := sm.rec.UpdatedAt
	sm.rec.StartedAt = &now
	return nil
}

// Complete moves RUNNING → COMPLETE.
func (sm *StateMachine) Complete(output string) error {
	if err := sm.transition(StatusComplete); err != nil {
		return err
	}
	sm.rec.Output = output
	return nil
}

// Fail moves RUNNING → ERROR.
func (sm *StateMachine) Fail(errMsg string) error {
	if err := sm.transition(StatusError); err != nil {
		return err
	}
	sm.rec.ErrorMessage = errMsg
	return nil
}

// AwaitResponse moves RUNNING → AWAITING_RESPONSE (I-4: output must carry the question).
func (sm *StateMachine) AwaitResponse(question string) error {
	if question == "" {
		return ErrMissingOutput
	}
	if err := sm.transition(StatusAwaitingResponse); err != nil {
		return err
	}
	sm.rec.Output = question
	return nil
}

// Block moves RUNNING → BLOCKED. Only legal for DANGEROUS_OP tasks (I-3);
// callers for any other task-type must call Fail instead (the scheduler
// rewrite described in §4.1).
func (sm *StateMachine) Block(reason string) error {
	if sm.rec.TaskType != TaskTypeDangerousOp {
		return ErrBlockedNonDangerous
	}
	if reason == "" {
		return ErrMissingOutput
	}
	if err := sm.transition(StatusBlocked); err != nil {
		return err
	}
	sm.rec.Output = reason
	return nil
}

// Reply moves AWAITING_RESPONSE → QUEUED, recording the user's reply.
func (sm *StateMachine) Reply(replyText string) error {
	if err := sm.transition(StatusQueued); err != nil {
		return err
	}
	sm.rec.UserReply = replyText
	sm.rec.Output = ""
	return nil
}

// Cancel moves QUEUED or AWAITING_RESPONSE → CANCELLED.
func (sm *StateMachine) Cancel() error {
	return sm.transition(StatusCancelled)
}

// RollbackReplay moves RUNNING → QUEUED on stale recovery, incrementing
// attempt-count per §4.1 (I-6: attempt-count is monotonically nondecreasing).
func (sm *StateMachine) RollbackReplay() error {
	if err := sm.transition(StatusQueued); err != nil {
		return err
	}
	sm.rec.AttemptCount++
	return nil
}
