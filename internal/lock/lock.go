// Package lock implements the Lock Manager (spec §4.B): an in-memory file
// lock registry with canonical-order multi-lock acquisition, a wait-for-graph
// deadlock predictor, and the executor semaphore gating how many task
// executions may run concurrently.
package lock

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type distinguishes shared from exclusive file locks.
type Type int

const (
	Read Type = iota
	Write
)

func (t Type) String() string {
	if t == Write {
		return "WRITE"
	}
	return "READ"
}

// Lock is the File Lock entity from spec §3. ExpiresAt is informational
// only: nothing in this package ever releases a lock because it expired.
type Lock struct {
	ID             string
	FilePath       string
	HolderExecutor string
	LockType       Type
	AcquiredAt     time.Time
	ExpiresAt      time.Time
}

var (
	// ErrLockAcquisitionFailure is returned when a requested lock conflicts
	// with an existing incompatible holder.
	ErrLockAcquisitionFailure = errors.New("lock: acquisition failed")
	// ErrLockReleaseForbidden is raised by any code path that would release
	// a lock solely because it looks expired (§4.B property 4).
	ErrLockReleaseForbidden = errors.New("lock: automatic release on expiry is forbidden")
	// ErrDeadlockDetected names a predicted lock-order cycle. No function in
	// this package returns it: AcquireMany does not call DetectDeadlock.
	ErrDeadlockDetected = errors.New("lock: deadlock detected")
	// ErrExecutorLimitExceeded is returned by AcquireSemaphore when N
	// executors are already in flight.
	ErrExecutorLimitExceeded = errors.New("lock: executor semaphore limit exceeded")
	// ErrLockNotFound is returned by Release for an unknown lock-id.
	ErrLockNotFound = errors.New("lock: lock not found")
)

func newLockID() string { return uuid.New().String() }
