// Package execadapter implements the Executor Adapter (spec §4.C): it spawns
// the child executor process for one task, streams its stdout/stderr tagged
// with (taskId, sessionId) into a bounded ring buffer, and produces an
// ExecutorResult.
//
// Grounded on the retrieval pack's cklxx-elephant.ai subprocess bridge
// (internal/infra/external/subprocess/subprocess.go,
// internal/infra/external/bridge/executor.go): process-group spawn with
// piped stdio, a bounded stderr tail buffer, and an auth-hint-on-stderr
// convention — adapted here from a Python bridge sidecar protocol onto the
// single-line-tagged child protocol this engine's executors speak. Shutdown
// is a single SIGKILL on context cancellation, with no SIGTERM grace period.
package execadapter

import "time"

// Status mirrors the status vocabulary an ExecutorResult can carry;
// distinct from task.Status since a run's outcome is richer (NO_EVIDENCE,
// INCOMPLETE) than the task record's terminal states.
type Status string

const (
	StatusComplete   Status = "COMPLETE"
	StatusError      Status = "ERROR"
	StatusBlocked    Status = "BLOCKED"
	StatusIncomplete Status = "INCOMPLETE"
	StatusNoEvidence Status = "NO_EVIDENCE"
)

// Reason codes for preflight and timeout failures (§4.C, §4.D).
const (
	ReasonAuthError         = "AUTH_ERROR"
	ReasonConfigError       = "CONFIG_ERROR"
	ReasonTimeoutIdle       = "TIMEOUT_IDLE"
	ReasonTimeoutHard       = "TIMEOUT_HARD"
	TerminatedPreflightFail = "PREFLIGHT_FAIL_CLOSED"
)

// Result is the ExecutorResult entity from spec §4.C.
type Result struct {
	Executed        bool
	Output          string
	FilesModified   []string
	VerifiedFiles   []string
	UnverifiedFiles []string
	DurationMs      int64
	Status          Status
	Error           string
	BlockedReason   string
	TerminatedBy    string
}

// Chunk is one tagged stdout/stderr line pushed to the ring buffer and to
// subscribers (§4.C: "every chunk is tagged with (taskId, sessionId)").
type Chunk struct {
	TaskID    string
	SessionID string
	Stream    string // "stdout" | "stderr"
	Data      string
	Timestamp time.Time
}
