package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskorch/engine/internal/task"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFileStore_EnqueueAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Enqueue(ctx, "sess-1", "group-1", "do the thing", task.TaskTypeLightEdit, "ns-a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, rec.Status)
	assert.Equal(t, 0, rec.AttemptCount)

	got, err := s.Get(ctx, rec.ID, "ns-a")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "do the thing", got.Prompt)

	g, err := s.GetGroup(ctx, "group-1", "ns-a")
	require.NoError(t, err)
	assert.Equal(t, task.GroupActive, g.State)
	require.Len(t, g.ConversationHistory, 1)
	assert.Equal(t, "user", g.ConversationHistory[0].Role)
}

func TestFileStore_Enqueue_RequiresPromptAndGroup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, "sess-1", "", "prompt", task.TaskTypeReport, "ns-a")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Enqueue(ctx, "sess-1", "group-1", "", task.TaskTypeReport, "ns-a")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFileStore_Claim_FIFOOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Enqueue(ctx, "sess-1", "group-1", "first", task.TaskTypeReport, "ns-a")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := s.Enqueue(ctx, "sess-1", "group-1", "second", task.TaskTypeReport, "ns-a")
	require.NoError(t, err)

	claimed, err := s.Claim(ctx, "ns-a")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, task.StatusRunning, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)

	claimed2, err := s.Claim(ctx, "ns-a")
	require.NoError(t, err)
	require.NotNil(t, claimed2)
	assert.Equal(t, second.ID, claimed2.ID)

	claimed3, err := s.Claim(ctx, "ns-a")
	require.NoError(t, err)
	assert.Nil(t, claimed3)
}

func TestFileStore_Claim_Concurrent_NoDoubleClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		_, err := s.Enqueue(ctx, "sess-1", "group-1", "task", task.TaskTypeReport, "ns-a")
		require.NoError(t, err)
	}

	seen := make(chan string, n)
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			rec, err := s.Claim(ctx, "ns-a")
			if err == nil && rec != nil {
				seen <- rec.ID
			}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	close(seen)

	ids := make(map[string]bool)
	for id := range seen {
		assert.False(t, ids[id], "task %s claimed more than once", id)
		ids[id] = true
	}
	assert.Len(t, ids, n)
}

func TestFileStore_UpdateStatus_CompleteAndFail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Enqueue(ctx, "sess-1", "group-1", "prompt", task.TaskTypeReport, "ns-a")
	require.NoError(t, err)
	_, err = s.Claim(ctx, "ns-a")
	require.NoError(t, err)

	updated, err := s.UpdateStatus(ctx, rec.ID, "ns-a", task.StatusComplete, CompletePatch{Output: "done"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusComplete, updated.Status)
	assert.Equal(t, "done", updated.Output)

	_, err = s.UpdateStatus(ctx, rec.ID, "ns-a", task.StatusError, ErrorPatch{ErrorMessage: "nope"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestFileStore_AwaitResponse_ThenResume(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Enqueue(ctx, "sess-1", "group-1", "prompt", task.TaskTypeImplementation, "ns-a")
	require.NoError(t, err)
	_, err = s.Claim(ctx, "ns-a")
	require.NoError(t, err)

	awaiting, err := s.UpdateStatus(ctx, rec.ID, "ns-a", task.StatusAwaitingResponse, AwaitingResponsePatch{Question: "which file?"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusAwaitingResponse, awaiting.Status)

	_, err = s.ResumeWithResponse(ctx, rec.ID, "ns-a", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	resumed, err := s.ResumeWithResponse(ctx, rec.ID, "ns-a", "main.go")
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, resumed.Status)
	assert.Equal(t, "main.go", resumed.UserReply)
}

func TestFileStore_Block_OnlyDangerousOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Enqueue(ctx, "sess-1", "group-1", "rm -rf", task.TaskTypeLightEdit, "ns-a")
	require.NoError(t, err)
	_, err = s.Claim(ctx, "ns-a")
	require.NoError(t, err)

	_, err = s.UpdateStatus(ctx, rec.ID, "ns-a", task.StatusBlocked, BlockedPatch{Reason: "dangerous"})
	assert.ErrorIs(t, err, task.ErrBlockedNonDangerous)
}

func TestFileStore_RecoverStale_RollbackReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Enqueue(ctx, "sess-1", "group-1", "prompt", task.TaskTypeReport, "ns-a")
	require.NoError(t, err)
	claimed, err := s.Claim(ctx, "ns-a")
	require.NoError(t, err)
	require.Equal(t, rec.ID, claimed.ID)

	n, err := s.RecoverStale(ctx, "ns-a", 0, func(*task.Record) StaleDecision {
		return DecisionRollbackReplay
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := s.Get(ctx, rec.ID, "ns-a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, after.Status)
	assert.Equal(t, 1, after.AttemptCount)
}

func TestFileStore_RecoverStale_SoftResumeLeavesRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Enqueue(ctx, "sess-1", "group-1", "prompt", task.TaskTypeReport, "ns-a")
	require.NoError(t, err)
	_, err = s.Claim(ctx, "ns-a")
	require.NoError(t, err)

	n, err := s.RecoverStale(ctx, "ns-a", 0, func(*task.Record) StaleDecision {
		return DecisionSoftResume
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	after, err := s.Get(ctx, rec.ID, "ns-a")
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, after.Status)
}

func TestFileStore_NamespacesAreIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, "sess-1", "group-1", "a", task.TaskTypeReport, "ns-a")
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "sess-1", "group-1", "b", task.TaskTypeReport, "ns-b")
	require.NoError(t, err)

	claimed, err := s.Claim(ctx, "ns-b")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "b", claimed.Prompt)

	namespaces, err := s.ListNamespaces(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ns-a", "ns-b"}, namespaces)
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := NewFileStore(dir)
	require.NoError(t, err)
	rec, err := s1.Enqueue(ctx, "sess-1", "group-1", "survive restart", task.TaskTypeReport, "ns-a")
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := s2.Get(ctx, rec.ID, "ns-a")
	require.NoError(t, err)
	assert.Equal(t, "survive restart", got.Prompt)
}
