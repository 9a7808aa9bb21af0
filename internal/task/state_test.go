package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
	}{
		{StatusQueued, "QUEUED"},
		{StatusRunning, "RUNNING"},
		{StatusAwaitingResponse, "AWAITING_RESPONSE"},
		{StatusComplete, "COMPLETE"},
		{StatusError, "ERROR"},
		{StatusBlocked, "BLOCKED"},
		{StatusCancelled, "CANCELLED"},
		{Status(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusRunning, ParseStatus("RUNNING"))
	assert.Equal(t, StatusQueued, ParseStatus("bogus"))
	assert.Equal(t, StatusQueued, ParseStatus(""))
}

func TestStatus_IsTerminal(t *testing.T) {
	terminal := []Status{StatusComplete, StatusError, StatusBlocked, StatusCancelled}
	nonTerminal := []Status{StatusQueued, StatusRunning, StatusAwaitingResponse}

	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %s terminal", s)
	}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "expected %s non-terminal", s)
	}
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusComplete, false},
		{StatusRunning, StatusComplete, true},
		{StatusRunning, StatusError, true},
		{StatusRunning, StatusAwaitingResponse, true},
		{StatusRunning, StatusBlocked, true},
		{StatusRunning, StatusQueued, true},
		{StatusRunning, StatusCancelled, false},
		{StatusAwaitingResponse, StatusQueued, true},
		{StatusAwaitingResponse, StatusCancelled, true},
		{StatusAwaitingResponse, StatusRunning, false},
		{StatusComplete, StatusQueued, false},
	}
	for _, tt := range tests {
		got := tt.from.CanTransitionTo(tt.to)
		assert.Equal(t, tt.want, got, "%s -> %s", tt.from, tt.to)
	}
}

func newRunningRecord(taskType Type) *Record {
	r := New("sess-1", "group-1", "do the thing", taskType, "ns-1")
	require.NoError(nil, nil) // no-op to keep require imported for subtests below
	sm := NewStateMachine(r)
	_ = sm.Claim()
	return r
}

func TestStateMachine_ClaimCompleteFail(t *testing.T) {
	r := New("sess-1", "group-1", "prompt", TaskTypeImplementation, "ns-1")
	sm := NewStateMachine(r)

	require.NoError(t, sm.Claim())
	assert.Equal(t, StatusRunning, r.Status)
	require.NotNil(t, r.StartedAt)

	require.NoError(t, sm.Complete("done"))
	assert.Equal(t, StatusComplete, r.Status)
	assert.Equal(t, "done", r.Output)

	// terminal: further transitions rejected
	assert.ErrorIs(t, sm.Complete("again"), ErrInvalidTransition)
}

func TestStateMachine_Fail(t *testing.T) {
	r := New("sess-1", "group-1", "prompt", TaskTypeImplementation, "ns-1")
	sm := NewStateMachine(r)
	require.NoError(t, sm.Claim())
	require.NoError(t, sm.Fail("boom"))
	assert.Equal(t, StatusError, r.Status)
	assert.Equal(t, "boom", r.ErrorMessage)
}

func TestStateMachine_AwaitResponseRequiresQuestion(t *testing.T) {
	r := New("sess-1", "group-1", "prompt", TaskTypeReadInfo, "ns-1")
	sm := NewStateMachine(r)
	require.NoError(t, sm.Claim())

	assert.ErrorIs(t, sm.AwaitResponse(""), ErrMissingOutput)
	require.NoError(t, sm.AwaitResponse("which file?"))
	assert.Equal(t, StatusAwaitingResponse, r.Status)
	assert.Equal(t, "which file?", r.Output)
}

func TestStateMachine_BlockRequiresDangerousOp(t *testing.T) {
	r := New("sess-1", "group-1", "prompt", TaskTypeImplementation, "ns-1")
	sm := NewStateMachine(r)
	require.NoError(t, sm.Claim())
	assert.ErrorIs(t, sm.Block("rm -rf"), ErrBlockedNonDangerous)

	r2 := New("sess-1", "group-1", "prompt", TaskTypeDangerousOp, "ns-1")
	sm2 := NewStateMachine(r2)
	require.NoError(t, sm2.Claim())
	require.NoError(t, sm2.Block("would delete production data"))
	assert.Equal(t, StatusBlocked, r2.Status)
}

func TestStateMachine_ReplyAndCancel(t *testing.T) {
	r := New("sess-1", "group-1", "prompt", TaskTypeReadInfo, "ns-1")
	sm := NewStateMachine(r)
	require.NoError(t, sm.Claim())
	require.NoError(t, sm.AwaitResponse("which env?"))

	require.NoError(t, sm.Reply("staging"))
	assert.Equal(t, StatusQueued, r.Status)
	assert.Equal(t, "staging", r.UserReply)
	assert.Empty(t, r.Output)

	require.NoError(t, sm.Claim())
	require.NoError(t, sm.AwaitResponse("again?"))
	require.NoError(t, sm.Cancel())
	assert.Equal(t, StatusCancelled, r.Status)
}

func TestStateMachine_RollbackReplayIncrementsAttempts(t *testing.T) {
	r := New("sess-1", "group-1", "prompt", TaskTypeImplementation, "ns-1")
	sm := NewStateMachine(r)
	require.NoError(t, sm.Claim())
	require.Equal(t, 0, r.AttemptCount)

	require.NoError(t, sm.RollbackReplay())
	assert.Equal(t, StatusQueued, r.Status)
	assert.Equal(t, 1, r.AttemptCount)
}
