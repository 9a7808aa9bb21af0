package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_ReadLocksCompatible(t *testing.T) {
	m := NewManager(4)
	_, err := m.Acquire("a.go", "exec-1", Read)
	require.NoError(t, err)
	_, err = m.Acquire("a.go", "exec-2", Read)
	assert.NoError(t, err)
}

func TestAcquire_WriteExclusive(t *testing.T) {
	m := NewManager(4)
	_, err := m.Acquire("a.go", "exec-1", Write)
	require.NoError(t, err)

	_, err = m.Acquire("a.go", "exec-2", Read)
	assert.ErrorIs(t, err, ErrLockAcquisitionFailure)

	_, err = m.Acquire("a.go", "exec-2", Write)
	assert.ErrorIs(t, err, ErrLockAcquisitionFailure)
}

func TestAcquireMany_SortsAndReleasesOnFailure(t *testing.T) {
	m := NewManager(4)
	_, err := m.Acquire("b.go", "exec-1", Write)
	require.NoError(t, err)

	_, err = m.AcquireMany([]string{"a.go", "b.go", "c.go"}, "exec-2", Write)
	assert.ErrorIs(t, err, ErrLockAcquisitionFailure)

	// a.go must have been released after b.go's failed acquisition, since
	// acquisition proceeds in sorted order and rolls back in reverse.
	l, err := m.Acquire("a.go", "exec-3", Write)
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = m.Acquire("c.go", "exec-3", Write)
	assert.NoError(t, err)
}

func TestAcquireMany_IdenticalOrderRegardlessOfInputOrder(t *testing.T) {
	m1 := NewManager(4)
	locks1, err := m1.AcquireMany([]string{"b", "a"}, "exec-1", Write)
	require.NoError(t, err)

	m2 := NewManager(4)
	locks2, err := m2.AcquireMany([]string{"a", "b"}, "exec-1", Write)
	require.NoError(t, err)

	require.Len(t, locks1, 2)
	require.Len(t, locks2, 2)
	assert.Equal(t, locks1[0].FilePath, locks2[0].FilePath)
	assert.Equal(t, locks1[1].FilePath, locks2[1].FilePath)
	assert.Equal(t, "a", locks1[0].FilePath)
	assert.Equal(t, "b", locks1[1].FilePath)
}

func TestRelease_UnknownLockID(t *testing.T) {
	m := NewManager(4)
	err := m.Release("does-not-exist")
	assert.ErrorIs(t, err, ErrLockNotFound)
}

func TestSemaphore_LimitsConcurrency(t *testing.T) {
	m := NewManager(4)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.AcquireSemaphore(string(rune('a'+i))))
	}
	assert.Equal(t, 4, m.InFlight())

	err := m.AcquireSemaphore("fifth")
	assert.ErrorIs(t, err, ErrExecutorLimitExceeded)

	m.ReleaseSemaphore("a")
	assert.NoError(t, m.AcquireSemaphore("fifth"))
}

func TestReleaseExpired_AlwaysForbidden(t *testing.T) {
	m := NewManager(4)
	l, err := m.Acquire("a.go", "exec-1", Write)
	require.NoError(t, err)

	err = m.ReleaseExpired(l.ID)
	assert.ErrorIs(t, err, ErrLockReleaseForbidden)

	// the lock must still be held: ReleaseExpired must not have released it.
	_, err = m.Acquire("a.go", "exec-2", Read)
	assert.ErrorIs(t, err, ErrLockAcquisitionFailure)
}

func TestDetectDeadlock_TwoNodeCycle(t *testing.T) {
	graph := map[string][]string{
		"exec-1": {"exec-2"}, // holds X, wants Y held by exec-2
		"exec-2": {"exec-1"}, // holds Y, wants X held by exec-1
	}
	assert.True(t, DetectDeadlock(graph))
}

func TestDetectDeadlock_NoCycle(t *testing.T) {
	graph := map[string][]string{
		"exec-1": {"exec-2"},
		"exec-2": {},
	}
	assert.False(t, DetectDeadlock(graph))
}
