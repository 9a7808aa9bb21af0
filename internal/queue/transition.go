package queue

import (
	"errors"
	"fmt"

	"github.com/taskorch/engine/internal/task"
)

// applyStatusPatch dispatches UpdateStatus's (newStatus, patch) pair onto
// the typed StateMachine methods, so every transition's optional payload is
// an explicit Go type (§9 Design Notes: no untyped dictionary patches).
// Its return is always wrapped to queue.ErrInvalidTransition when the
// underlying StateMachine rejects the move, so callers (and the HTTP
// handlers translating §7's taxonomy to §6's status codes) only ever need
// to match the queue package's own sentinel, never task.ErrInvalidTransition
// directly.
func applyStatusPatch(rec *task.Record, newStatus task.Status, patch any) error {
	if err := doApplyStatusPatch(rec, newStatus, patch); err != nil {
		if errors.Is(err, task.ErrInvalidTransition) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, newStatus)
		}
		return err
	}
	return nil
}

func doApplyStatusPatch(rec *task.Record, newStatus task.Status, patch any) error {
	sm := task.NewStateMachine(rec)

	switch newStatus {
	case task.StatusRunning:
		return sm.Claim()
	case task.StatusComplete:
		p, _ := patch.(CompletePatch)
		if err := sm.Complete(p.Output); err != nil {
			return err
		}
		if len(p.SubtaskIDs) > 0 {
			rec.SubtaskIDs = p.SubtaskIDs
		}
		return nil
	case task.StatusError:
		p, _ := patch.(ErrorPatch)
		return sm.Fail(p.ErrorMessage)
	case task.StatusAwaitingResponse:
		p, _ := patch.(AwaitingResponsePatch)
		return sm.AwaitResponse(p.Question)
	case task.StatusBlocked:
		p, _ := patch.(BlockedPatch)
		return sm.Block(p.Reason)
	case task.StatusQueued:
		// RUNNING -> QUEUED is the stale-recovery rollback-replay path;
		// AWAITING_RESPONSE -> QUEUED is handled by ResumeWithResponse, not
		// this generic entry point.
		if rec.Status == task.StatusRunning {
			return sm.RollbackReplay()
		}
		return ErrInvalidTransition
	case task.StatusCancelled:
		return sm.Cancel()
	default:
		return fmt.Errorf("queue: %w: unknown target status %s", ErrInvalidTransition, newStatus)
	}
}
