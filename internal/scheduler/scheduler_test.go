package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskorch/engine/internal/config"
	"github.com/taskorch/engine/internal/execadapter"
	"github.com/taskorch/engine/internal/lock"
	"github.com/taskorch/engine/internal/queue"
	"github.com/taskorch/engine/internal/task"
)

func testConfig(binaryPath string) *config.Config {
	return &config.Config{
		Queue: config.QueueBackendConfig{
			PollInterval: 20 * time.Millisecond,
			StaleAfter:   30 * time.Second,
			RecoveryTick: time.Hour,
		},
		Namespace: config.NamespaceConfig{ProjectDir: ""},
		Lock:      config.LockConfig{MaxConcurrentExecutors: 4},
		Review: config.ReviewConfig{
			MaxIterations: 1,
			EscalateOnMax: true,
		},
		Chunking: config.ChunkingConfig{
			MinSubtasks: 2,
			MaxSubtasks: 10,
			MaxRetries:  0,
			RetryDelay:  time.Millisecond,
		},
		Executor: config.ExecutorConfig{
			BinaryPath:      binaryPath,
			RingBufferSize:  100,
			HeartbeatPeriod: 2 * time.Second,
		},
	}
}

func TestRewriteStatus_NonDangerousBlockedBecomesError(t *testing.T) {
	rec := task.New("s1", "g1", "do it", task.TaskTypeImplementation, "dev")
	outcome := executionOutcome{
		result:       &execadapter.Result{Status: execadapter.StatusBlocked, BlockedReason: "touches prod config"},
		reviewStatus: "COMPLETE",
	}
	status, patch := rewriteStatus(rec, outcome)
	assert.Equal(t, task.StatusError, status)
	assert.Equal(t, queue.ErrorPatch{ErrorMessage: "touches prod config"}, patch)
}

func TestRewriteStatus_DangerousBlockedStaysBlocked(t *testing.T) {
	rec := task.New("s1", "g1", "rm -rf /data", task.TaskTypeDangerousOp, "dev")
	outcome := executionOutcome{
		result:       &execadapter.Result{Status: execadapter.StatusBlocked, BlockedReason: "destructive operation"},
		reviewStatus: "COMPLETE",
	}
	status, patch := rewriteStatus(rec, outcome)
	assert.Equal(t, task.StatusBlocked, status)
	assert.Equal(t, queue.BlockedPatch{Reason: "destructive operation"}, patch)
}

func TestRewriteStatus_NonDangerousBlockedEmptyReasonGetsFallback(t *testing.T) {
	rec := task.New("s1", "g1", "do it", task.TaskTypeImplementation, "dev")
	outcome := executionOutcome{
		result:       &execadapter.Result{Status: execadapter.StatusBlocked, BlockedReason: ""},
		reviewStatus: "COMPLETE",
	}
	status, patch := rewriteStatus(rec, outcome)
	assert.Equal(t, task.StatusError, status)
	errPatch, ok := patch.(queue.ErrorPatch)
	require.True(t, ok)
	assert.NotEmpty(t, errPatch.ErrorMessage)
}

func TestRewriteStatus_DangerousBlockedEmptyReasonGetsFallback(t *testing.T) {
	rec := task.New("s1", "g1", "rm -rf /data", task.TaskTypeDangerousOp, "dev")
	outcome := executionOutcome{
		result:       &execadapter.Result{Status: execadapter.StatusBlocked, BlockedReason: ""},
		reviewStatus: "COMPLETE",
	}
	status, patch := rewriteStatus(rec, outcome)
	assert.Equal(t, task.StatusBlocked, status)
	blockedPatch, ok := patch.(queue.BlockedPatch)
	require.True(t, ok)
	assert.NotEmpty(t, blockedPatch.Reason)
}

func TestRewriteStatus_ReadInfoQuestionBecomesAwaiting(t *testing.T) {
	rec := task.New("s1", "g1", "what port does the service use?", task.TaskTypeReadInfo, "dev")
	outcome := executionOutcome{
		result:       &execadapter.Result{Status: execadapter.StatusComplete, Output: "Which environment do you mean?"},
		reviewStatus: "COMPLETE",
	}
	status, patch := rewriteStatus(rec, outcome)
	assert.Equal(t, task.StatusAwaitingResponse, status)
	assert.Equal(t, queue.AwaitingResponsePatch{Question: "Which environment do you mean?"}, patch)
}

func TestRewriteStatus_CompleteStaysComplete(t *testing.T) {
	rec := task.New("s1", "g1", "add a function", task.TaskTypeImplementation, "dev")
	outcome := executionOutcome{
		result:       &execadapter.Result{Status: execadapter.StatusComplete, Output: "added the function"},
		reviewStatus: "COMPLETE",
	}
	status, patch := rewriteStatus(rec, outcome)
	assert.Equal(t, task.StatusComplete, status)
	assert.Equal(t, queue.CompletePatch{Output: "added the function"}, patch)
}

func TestRewriteStatus_IncompleteEscalatesToAwaiting(t *testing.T) {
	rec := task.New("s1", "g1", "add a function", task.TaskTypeImplementation, "dev")
	outcome := executionOutcome{
		result:       &execadapter.Result{Status: execadapter.StatusComplete, Output: "partial work"},
		reviewStatus: "INCOMPLETE",
	}
	status, _ := rewriteStatus(rec, outcome)
	assert.Equal(t, task.StatusAwaitingResponse, status)
}

func TestProgressTracker_TouchOnlyAdvances(t *testing.T) {
	base := time.Now().UTC()
	tr := newProgressTracker(base)
	assert.Equal(t, base, tr.Last())

	earlier := base.Add(-time.Minute)
	tr.touch(earlier)
	assert.Equal(t, base, tr.Last(), "touch with an earlier timestamp must not move the tracker backwards")

	later := base.Add(time.Minute)
	tr.touch(later)
	assert.Equal(t, later, tr.Last())
}

// TestSchedulerExecuteTask_EndToEnd drives one claimed task through the
// real pipeline with /bin/echo standing in for the executor binary. echo
// never reports FilesModified, so Q5 (evidence present) fails every
// iteration and the task is expected to land on AWAITING_RESPONSE once the
// single-iteration review budget is exhausted.
func TestSchedulerExecuteTask_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	store, err := queue.NewFileStore(dir)
	require.NoError(t, err)
	defer store.Close()

	cfg := testConfig("/bin/echo")
	s := New(cfg, store, lock.NewManager(cfg.Lock.MaxConcurrentExecutors), nil)

	ctx := context.Background()
	rec, err := store.Enqueue(ctx, "session-1", "group-1", "summarize the deploy log", task.TaskTypeImplementation, "dev")
	require.NoError(t, err)

	claimed, err := store.Claim(ctx, "dev")
	require.NoError(t, err)
	require.Equal(t, rec.ID, claimed.ID)

	s.executeTask(ctx, claimed)

	deadline := time.Now().Add(3 * time.Second)
	var final *task.Record
	for time.Now().Before(deadline) {
		final, err = store.Get(ctx, rec.ID, "dev")
		require.NoError(t, err)
		if final.Status.IsTerminal() || final.Status == task.StatusAwaitingResponse {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.NotNil(t, final)
	assert.Equal(t, task.StatusAwaitingResponse, final.Status)
}
