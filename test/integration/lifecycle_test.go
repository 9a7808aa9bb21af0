//go:build integration
// +build integration

// Package integration drives the control-plane HTTP surface against a
// real Scheduler, Queue Store and cmd/mockexecutor child process — no
// mocks below the HTTP boundary. Grounded on the teacher's
// test/integration/task_lifecycle_test.go: a setup helper builds the
// server, each test drives it with httptest requests, and a deferred
// cleanup tears the backing store down. Run with:
//
//	go test -tags=integration ./test/integration/...
//
// ORCHTEST_MOCKEXECUTOR may point at a prebuilt cmd/mockexecutor binary;
// otherwise the suite builds one into t.TempDir() once via `go build`.
package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskorch/engine/internal/api"
	"github.com/taskorch/engine/internal/config"
	"github.com/taskorch/engine/internal/controlplane"
	"github.com/taskorch/engine/internal/lock"
	"github.com/taskorch/engine/internal/logger"
	"github.com/taskorch/engine/internal/queue"
	"github.com/taskorch/engine/internal/runner"
	"github.com/taskorch/engine/internal/scheduler"
)

func init() {
	logger.Init("error", false)
}

var (
	mockExecutorOnce sync.Once
	mockExecutorPath string
	mockExecutorErr  error
)

// buildMockExecutor returns a path to a runnable cmd/mockexecutor binary,
// building it once per test binary invocation.
func buildMockExecutor(t *testing.T) string {
	t.Helper()
	if p := os.Getenv("ORCHTEST_MOCKEXECUTOR"); p != "" {
		return p
	}
	mockExecutorOnce.Do(func() {
		dir, err := os.MkdirTemp("", "mockexecutor-bin")
		if err != nil {
			mockExecutorErr = err
			return
		}
		mockExecutorPath = filepath.Join(dir, "mockexecutor")
		cmd := exec.Command("go", "build", "-o", mockExecutorPath, "github.com/taskorch/engine/cmd/mockexecutor")
		cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
		mockExecutorErr = cmd.Run()
	})
	require.NoError(t, mockExecutorErr, "build cmd/mockexecutor")
	return mockExecutorPath
}

// testHarness bundles a running Scheduler and its API server, backed by
// one FileStore rooted in t.TempDir().
type testHarness struct {
	server     *api.Server
	store      *queue.FileStore
	sched      *scheduler.Scheduler
	projectDir string
	stateDir   string
}

func newHarness(t *testing.T, reviewMaxIterations int) *testHarness {
	t.Helper()
	stateDir := t.TempDir()
	projectDir := t.TempDir()

	store, err := queue.NewFileStore(stateDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{
		Namespace: config.NamespaceConfig{Default: "dev", ProjectDir: projectDir},
		Queue: config.QueueBackendConfig{
			Backend:      "file",
			StateDir:     stateDir,
			PollInterval: 20 * time.Millisecond,
			StaleAfter:   30 * time.Second,
			RecoveryTick: time.Hour,
		},
		Lock: config.LockConfig{MaxConcurrentExecutors: 4},
		Review: config.ReviewConfig{
			MaxIterations: reviewMaxIterations,
			EscalateOnMax: true,
			RetryDelay:    5 * time.Millisecond,
		},
		Chunking: config.ChunkingConfig{
			MinSubtasks: 2,
			MaxSubtasks: 10,
			MaxRetries:  1,
			RetryDelay:  5 * time.Millisecond,
		},
		Executor: config.ExecutorConfig{
			BinaryPath:     buildMockExecutor(t),
			RingBufferSize: 2000,
		},
		Metrics: config.MetricsConfig{Enabled: false},
	}

	registry := runner.NewRegistry(0)
	locks := lock.NewManager(cfg.Lock.MaxConcurrentExecutors)
	sched := scheduler.New(cfg, store, locks, registry)

	cp := controlplane.New(store, registry, "test", "file", stateDir, os.Getpid())
	server := api.NewServer(cfg, cp)
	sched.SetTracePublisher(server.Hub())

	ctx, cancel := context.WithCancel(context.Background())
	server.Start(ctx)
	require.NoError(t, sched.Start(ctx))

	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = sched.Stop(stopCtx)
		server.Stop()
		cancel()
	})

	return &testHarness{server: server, store: store, sched: sched, projectDir: projectDir, stateDir: stateDir}
}

func (h *testHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func (h *testHarness) createTask(t *testing.T, prompt, taskType string) map[string]any {
	t.Helper()
	body := `{"task_group_id":"group-1","prompt":` + jsonStr(prompt) + `,"task_type":"` + taskType + `"}`
	rec := h.do(t, http.MethodPost, "/api/tasks", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (h *testHarness) getTask(t *testing.T, taskID string) map[string]any {
	t.Helper()
	rec := h.do(t, http.MethodGet, "/api/tasks/"+taskID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// waitForStatus polls GetTask until status is one of want, or the
// deadline passes.
func (h *testHarness) waitForStatus(t *testing.T, taskID string, deadline time.Duration, want ...string) map[string]any {
	t.Helper()
	end := time.Now().Add(deadline)
	var last map[string]any
	for time.Now().Before(end) {
		last = h.getTask(t, taskID)
		status, _ := last["status"].(string)
		for _, w := range want {
			if status == w {
				return last
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach any of %v before deadline; last=%v", taskID, want, last)
	return nil
}

func jsonStr(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// TestHappyPath_SimpleImplementationCompletes drives a single
// IMPLEMENTATION task that writes a file straight through to COMPLETE
// with no review rejections and no chunking fan-out.
func TestHappyPath_SimpleImplementationCompletes(t *testing.T) {
	h := newHarness(t, 1)

	created := h.createTask(t, "TOUCH out.txt", "IMPLEMENTATION")
	taskID := created["task_id"].(string)
	assert.Equal(t, "QUEUED", created["status"])

	final := h.waitForStatus(t, taskID, 3*time.Second, "COMPLETE", "ERROR", "BLOCKED", "AWAITING_RESPONSE")
	require.Equal(t, "COMPLETE", final["status"], "final task state: %v", final)
	assert.Contains(t, final["output"], "wrote out.txt")

	_, statErr := os.Stat(filepath.Join(h.projectDir, "out.txt"))
	assert.NoError(t, statErr, "mockexecutor's TOUCH target must exist under the task's project dir")
}

// TestAwaitingResponse_ReplyResumesToComplete exercises the
// ASK ME -> AWAITING_RESPONSE -> reply -> COMPLETE thread-continuation
// path (§4.E / §6 reply-to-task).
func TestAwaitingResponse_ReplyResumesToComplete(t *testing.T) {
	h := newHarness(t, 1)

	created := h.createTask(t, "ASK ME something, then TOUCH answer.txt", "IMPLEMENTATION")
	taskID := created["task_id"].(string)

	awaiting := h.waitForStatus(t, taskID, 3*time.Second, "AWAITING_RESPONSE", "COMPLETE", "ERROR", "BLOCKED")
	require.Equal(t, "AWAITING_RESPONSE", awaiting["status"], "final task state: %v", awaiting)
	assert.True(t, awaiting["show_reply_ui"].(bool))
	assert.Contains(t, awaiting["output"], "Which environment")

	rec := h.do(t, http.MethodPost, "/api/tasks/"+taskID+"/reply", `{"reply":"staging"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	final := h.waitForStatus(t, taskID, 3*time.Second, "COMPLETE", "ERROR", "BLOCKED", "AWAITING_RESPONSE")
	require.Equal(t, "COMPLETE", final["status"], "final task state after reply: %v", final)
}

// TestDangerousOp_BlockedStaysBlocked_NonDangerousBecomesError checks the
// asymmetric BLOCKED handling from §4.E/§4.G's rewriteStatus: a BLOCKED
// executor outcome on a DANGEROUS_OP task surfaces as BLOCKED, but the
// same outcome on any other task type is rewritten to ERROR, since only
// DANGEROUS_OP tasks are allowed to pause for operator approval.
func TestDangerousOp_BlockedStaysBlocked_NonDangerousBecomesError(t *testing.T) {
	h := newHarness(t, 1)

	dangerous := h.createTask(t, "BLOCK ME: rm -rf /data", "DANGEROUS_OP")
	dangerousID := dangerous["task_id"].(string)
	final := h.waitForStatus(t, dangerousID, 3*time.Second, "BLOCKED", "COMPLETE", "ERROR", "AWAITING_RESPONSE")
	assert.Equal(t, "BLOCKED", final["status"], "DANGEROUS_OP task must stay BLOCKED: %v", final)

	ordinary := h.createTask(t, "BLOCK ME: rm -rf /data", "IMPLEMENTATION")
	ordinaryID := ordinary["task_id"].(string)
	final = h.waitForStatus(t, ordinaryID, 3*time.Second, "ERROR", "COMPLETE", "BLOCKED", "AWAITING_RESPONSE")
	assert.Equal(t, "ERROR", final["status"], "non-DANGEROUS_OP task must never be left BLOCKED: %v", final)
}

// TestReviewLoop_RejectThenPass exercises a REJECT -> RETRY -> PASS
// sequence of the bounded Review Loop (§4.E): the first attempt reports
// completion with no file evidence (Q5 fails, REJECT), and the re-prompt
// carries the Review Loop's "Address every item above" marker, on which
// mockexecutor writes a file, so the second iteration produces verifiable
// file evidence and passes.
func TestReviewLoop_RejectThenPass(t *testing.T) {
	h := newHarness(t, 3)

	created := h.createTask(t, "summarize the deploy log", "IMPLEMENTATION")
	taskID := created["task_id"].(string)

	final := h.waitForStatus(t, taskID, 3*time.Second, "COMPLETE", "ERROR", "BLOCKED", "AWAITING_RESPONSE")
	require.Equal(t, "COMPLETE", final["status"], "final task state: %v", final)
	assert.GreaterOrEqual(t, final["review_iteration_count"].(float64), float64(1))
}

// TestChunking_DecomposablePromptFansOutAndCompletes exercises §4.F: a
// prompt naming the whole system plus several bullet lines is decomposed
// into subtasks that each run their own Review Loop, and the parent task
// completes only once every subtask does.
func TestChunking_DecomposablePromptFansOutAndCompletes(t *testing.T) {
	h := newHarness(t, 1)

	prompt := "Update the entire system:\n" +
		"- TOUCH part-one.txt\n" +
		"- TOUCH part-two.txt\n" +
		"- TOUCH part-three.txt\n"
	created := h.createTask(t, prompt, "IMPLEMENTATION")
	taskID := created["task_id"].(string)

	final := h.waitForStatus(t, taskID, 5*time.Second, "COMPLETE", "ERROR", "BLOCKED", "AWAITING_RESPONSE")
	require.Equal(t, "COMPLETE", final["status"], "final task state: %v", final)

	subtaskIDs, _ := final["subtask_ids"].([]any)
	assert.GreaterOrEqual(t, len(subtaskIDs), 2, "a decomposable prompt must fan out into at least 2 subtasks")
}

// TestPersistence_TaskSurvivesStoreReopen confirms a task written by one
// FileStore handle is readable, with its terminal state intact, from a
// fresh FileStore opened against the same state dir — the durability
// guarantee a process restart depends on (§4.H Restart Detector).
func TestPersistence_TaskSurvivesStoreReopen(t *testing.T) {
	h := newHarness(t, 1)

	created := h.createTask(t, "TOUCH persisted.txt", "IMPLEMENTATION")
	taskID := created["task_id"].(string)
	h.waitForStatus(t, taskID, 3*time.Second, "COMPLETE", "ERROR", "BLOCKED", "AWAITING_RESPONSE")

	reopened, err := queue.NewFileStore(h.stateDir)
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.Get(context.Background(), taskID, "dev")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETE", rec.Status.String())
}
