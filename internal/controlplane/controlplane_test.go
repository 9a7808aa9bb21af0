package controlplane

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskorch/engine/internal/queue"
	"github.com/taskorch/engine/internal/runner"
	"github.com/taskorch/engine/internal/task"
)

func newTestCP(t *testing.T) (*ControlPlane, queue.Store) {
	t.Helper()
	store, err := queue.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	reg := runner.NewRegistry(time.Minute)
	return New(store, reg, "deadbeef", "file", t.TempDir(), 1234), store
}

func TestEnqueueTask_RejectsEmptyPrompt(t *testing.T) {
	cp, _ := newTestCP(t)
	_, err := cp.EnqueueTask(context.Background(), "s1", "g1", "", "dev", task.TaskTypeImplementation)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEnqueueTask_ThenGet_RoundTripsPromptByteForByte(t *testing.T) {
	cp, _ := newTestCP(t)
	rec, err := cp.EnqueueTask(context.Background(), "s1", "g1", "fix the flaky test", "dev", task.TaskTypeImplementation)
	require.NoError(t, err)

	proj, err := cp.GetTask(context.Background(), rec.ID, "dev")
	require.NoError(t, err)
	assert.Equal(t, "fix the flaky test", proj.Prompt)
	assert.Equal(t, "QUEUED", proj.Status)
	assert.False(t, proj.ShowReplyUI)
}

func TestEnqueueTaskGroup_CreatesDistinctGroupIDs(t *testing.T) {
	cp, _ := newTestCP(t)
	ctx := context.Background()
	r1, err := cp.EnqueueTaskGroup(ctx, "s1", "first", "dev", task.TaskTypeImplementation)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	r2, err := cp.EnqueueTaskGroup(ctx, "s1", "second", "dev", task.TaskTypeImplementation)
	require.NoError(t, err)
	assert.NotEqual(t, r1.TaskGroupID, r2.TaskGroupID)
}

func TestGetTask_NotFound(t *testing.T) {
	cp, _ := newTestCP(t)
	_, err := cp.GetTask(context.Background(), "nonexistent", "dev")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTaskStatus_OnlyCancelledAccepted(t *testing.T) {
	cp, _ := newTestCP(t)
	rec, err := cp.EnqueueTask(context.Background(), "s1", "g1", "do it", "dev", task.TaskTypeImplementation)
	require.NoError(t, err)

	_, _, err = cp.UpdateTaskStatus(context.Background(), rec.ID, "dev", "COMPLETE")
	assert.ErrorIs(t, err, ErrInvalidInput)

	old, cur, err := cp.UpdateTaskStatus(context.Background(), rec.ID, "dev", "CANCELLED")
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, old)
	assert.Equal(t, task.StatusCancelled, cur)
}

func TestUpdateTaskStatus_CancelOnTerminalTaskIsInvalidTransition(t *testing.T) {
	cp, store := newTestCP(t)
	ctx := context.Background()
	rec, err := cp.EnqueueTask(ctx, "s1", "g1", "do it", "dev", task.TaskTypeImplementation)
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, rec.ID, "dev", task.StatusRunning, nil)
	require.NoError(t, err)
	_, err = store.UpdateStatus(ctx, rec.ID, "dev", task.StatusComplete, queue.CompletePatch{Output: "done"})
	require.NoError(t, err)

	_, _, err = cp.UpdateTaskStatus(ctx, rec.ID, "dev", "CANCELLED")
	assert.ErrorIs(t, err, queue.ErrInvalidTransition)
}

func TestReplyToTask_RejectsEmptyReply(t *testing.T) {
	cp, _ := newTestCP(t)
	rec, err := cp.EnqueueTask(context.Background(), "s1", "g1", "do it", "dev", task.TaskTypeImplementation)
	require.NoError(t, err)
	_, err = cp.ReplyToTask(context.Background(), rec.ID, "dev", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReplyToTask_RequiresAwaitingResponse(t *testing.T) {
	cp, _ := newTestCP(t)
	rec, err := cp.EnqueueTask(context.Background(), "s1", "g1", "do it", "dev", task.TaskTypeImplementation)
	require.NoError(t, err)
	_, err = cp.ReplyToTask(context.Background(), rec.ID, "dev", "here is more context")
	assert.ErrorIs(t, err, queue.ErrNotAwaiting)
}

func TestGetTraceForTask_LatestReturnsOnlyNewestEntry(t *testing.T) {
	cp, store := newTestCP(t)
	ctx := context.Background()
	rec, err := cp.EnqueueTask(ctx, "s1", "g1", "do it", "dev", task.TaskTypeImplementation)
	require.NoError(t, err)
	require.NoError(t, store.AppendEvent(ctx, rec.ID, "dev", task.Heartbeat(rec.ID, "s1")))
	require.NoError(t, store.AppendEvent(ctx, rec.ID, "dev", task.LogChunk(rec.ID, "s1", "second")))

	full, err := cp.GetTraceForTask(ctx, rec.ID, "dev", false)
	require.NoError(t, err)
	assert.Len(t, full.Entries, 2)
	assert.Equal(t, 2, full.Summary.EventCount)

	latest, err := cp.GetTraceForTask(ctx, rec.ID, "dev", true)
	require.NoError(t, err)
	require.Len(t, latest.Entries, 1)
	assert.Equal(t, "second", latest.Entries[0].Data)
}

func TestListRunnersWithStatus_FiltersByNamespace(t *testing.T) {
	reg := runner.NewRegistry(time.Minute)
	reg.Heartbeat("runner-a", "dev", "busy", 2)
	reg.Heartbeat("runner-b", "staging", "idle", 0)

	store, err := queue.NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	cp := New(store, reg, "", "file", "", 1)

	devRunners := cp.ListRunnersWithStatus("dev")
	require.Len(t, devRunners, 1)
	assert.Equal(t, "runner-a", devRunners[0].RunnerID)
	assert.True(t, devRunners[0].IsAlive)
}

func TestHealth_ReportsOK(t *testing.T) {
	cp, _ := newTestCP(t)
	h := cp.Health(context.Background(), "dev")
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "file", h.QueueStore.Type)
	assert.Equal(t, "deadbeef", h.BuildSHA)
}
