package execadapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/taskorch/engine/internal/logger"
)

// resultSentinel prefixes the one stdout line a well-behaved child executor
// emits last to report its structured outcome (§4.C). Everything before it
// is an ordinary tagged transcript line pushed to the ring buffer; cmd/
// mockexecutor is the reference implementation of this protocol. A child
// that never prints the sentinel (e.g. a bare shell command used in tests)
// falls back to StatusComplete on a clean exit, same as before this line
// existed.
const resultSentinel = "@@EXECUTOR_RESULT@@ "

// childResult is the JSON payload carried after resultSentinel.
type childResult struct {
	Status        Status   `json:"status"`
	Output        string   `json:"output"`
	FilesModified []string `json:"files_modified,omitempty"`
	BlockedReason string   `json:"blocked_reason,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Config points the adapter at the child executor binary (§6: the child
// binary itself is out of scope; this only describes how to launch it).
type Config struct {
	BinaryPath      string
	AuthEnvVar      string
	RingBufferSize  int
	HeartbeatPeriod time.Duration
}

// Request is everything the adapter needs to launch one run.
type Request struct {
	TaskID     string
	SessionID  string
	Prompt     string
	WorkingDir string
	CreatedAt  time.Time
}

// Adapter spawns the child executor process for one task at a time and
// tags every stdout/stderr line with the run's (taskId, sessionId).
//
// The process-group spawn and stderr tail capture are adapted from the
// pack's subprocess.Subprocess
// (cklxx-elephant.ai/internal/infra/external/subprocess/subprocess.go);
// here there is exactly one long-lived Adapter per executor semaphore slot
// rather than a bridge-sidecar-per-request. When ctx is done the child is
// killed by exec.CommandContext's default SIGKILL; there is no SIGTERM and
// no grace period before the kill.
type Adapter struct {
	cfg     Config
	Buffer  *RingBuffer
	onChunk func(Chunk)
}

// New creates an Adapter. onChunk, if non-nil, is called for every chunk in
// addition to it being pushed onto the ring buffer — the scheduler uses
// this to persist each chunk as a tool_progress event in the queue store.
func New(cfg Config, onChunk func(Chunk)) *Adapter {
	return &Adapter{
		cfg:     cfg,
		Buffer:  NewRingBuffer(cfg.RingBufferSize),
		onChunk: onChunk,
	}
}

// Execute runs the preflight check, spawns the child, and drives its
// stdio to completion or to a caller-provided deadline. ctx carries the
// hard timeout; the adapter itself never terminates the child on stdout
// silence (§4.D: "silence = timeout" is forbidden here too — only ctx
// cancellation or process exit end the run).
func (a *Adapter) Execute(ctx context.Context, req Request) (*Result, error) {
	pre := Preflight(a.cfg.BinaryPath, a.cfg.AuthEnvVar)
	if !pre.OK {
		return &Result{
			Executed:     false,
			Status:       StatusError,
			Error:        pre.Detail,
			BlockedReason: pre.Reason,
			TerminatedBy: TerminatedPreflightFail,
		}, fmt.Errorf("%w: %s", ErrPreflightFailed, pre.Detail)
	}

	log := logger.WithSession(req.TaskID, req.SessionID)
	start := time.Now()

	cmd := exec.CommandContext(ctx, a.cfg.BinaryPath, req.Prompt)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("execadapter: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("execadapter: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return &Result{Executed: false, Status: StatusError, Error: err.Error()}, err
	}
	log.Info().Int("pid", cmd.Process.Pid).Msg("executor process started")

	var wg sync.WaitGroup
	var stderrTail strings.Builder
	var stderrMu sync.Mutex
	var lastResult *childResult

	wg.Add(2)
	go func() { defer wg.Done(); lastResult = a.pumpStdout(stdout, req) }()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrMu.Lock()
			stderrTail.WriteString(scanner.Text())
			stderrTail.WriteString("\n")
			stderrMu.Unlock()
			a.pump1(scanner.Text(), req, "stderr")
		}
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	duration := time.Since(start).Milliseconds()

	if waitErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return &Result{Executed: true, DurationMs: duration, Status: StatusError, Error: "hard deadline exceeded", TerminatedBy: "hard_deadline"}, nil
		}
		stderrMu.Lock()
		tail := stderrTail.String()
		stderrMu.Unlock()
		return &Result{Executed: true, DurationMs: duration, Status: StatusError, Error: tailOrDefault(tail, waitErr.Error())}, nil
	}

	if lastResult != nil {
		return &Result{
			Executed:      true,
			DurationMs:    duration,
			Status:        lastResult.Status,
			Output:        lastResult.Output,
			FilesModified: lastResult.FilesModified,
			BlockedReason: lastResult.BlockedReason,
			Error:         lastResult.Error,
		}, nil
	}

	return &Result{Executed: true, DurationMs: duration, Status: StatusComplete}, nil
}

func tailOrDefault(tail, fallback string) string {
	tail = strings.TrimSpace(tail)
	if tail == "" {
		return fallback
	}
	return tail
}

// pumpStdout tags and buffers each line of the child's stdout, except a line
// carrying resultSentinel with a valid JSON payload: that line is parsed as
// the run's structured outcome and is not pushed as transcript. Malformed
// sentinel payloads are pushed as a normal chunk and
// otherwise ignored, so a buggy child degrades to the no-sentinel fallback
// rather than failing the run.
func (a *Adapter) pumpStdout(r io.Reader, req Request) *childResult {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	var result *childResult
	for scanner.Scan() {
		line := scanner.Text()
		if payload, ok := strings.CutPrefix(line, resultSentinel); ok {
			var cr childResult
			if err := json.Unmarshal([]byte(payload), &cr); err == nil {
				result = &cr
				continue
			}
		}
		a.pump1(line, req, "stdout")
	}
	return result
}

func (a *Adapter) pump1(line string, req Request, stream string) {
	c := Chunk{
		TaskID:    req.TaskID,
		SessionID: req.SessionID,
		Stream:    stream,
		Data:      line,
		Timestamp: time.Now().UTC(),
	}
	a.Buffer.Push(c)
	if a.onChunk != nil {
		a.onChunk(c)
	}
}

// Trace returns the buffered chunks for one run, with the stale-output
// filter applied (§4.C).
func (a *Adapter) Trace(taskID, sessionID string, createdAt time.Time) []Chunk {
	all := a.Buffer.Snapshot()
	out := make([]Chunk, 0, len(all))
	for _, c := range all {
		if IsStale(c, taskID, sessionID, createdAt) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// VerifyFiles re-stats each candidate path from the filesystem after
// execution ends and splits it into verified vs unverified (§4.C).
func VerifyFiles(workingDir string, candidates []string) (verified, unverified []string) {
	for _, rel := range candidates {
		path := rel
		if workingDir != "" {
			path = workingDir + string(os.PathSeparator) + rel
		}
		if _, err := os.Stat(path); err == nil {
			verified = append(verified, rel)
		} else {
			unverified = append(unverified, rel)
		}
	}
	return verified, unverified
}
