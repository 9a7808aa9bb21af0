package execadapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRingBuffer_DropsOldestOnOverflow(t *testing.T) {
	b := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		b.Push(Chunk{Data: string(rune('a' + i))})
	}
	snap := b.Snapshot()
	assert.Len(t, snap, 3)
	assert.Equal(t, "c", snap[0].Data)
	assert.Equal(t, "e", snap[2].Data)
}

func TestIsStale_MismatchedTaskID(t *testing.T) {
	c := Chunk{TaskID: "task-a", SessionID: "sess-1", Timestamp: time.Now()}
	assert.True(t, IsStale(c, "task-b", "sess-1", time.Time{}))
	assert.False(t, IsStale(c, "task-a", "sess-1", time.Time{}))
}

func TestIsStale_NoContextFailsClosed(t *testing.T) {
	c := Chunk{Timestamp: time.Now()}
	assert.True(t, IsStale(c, "task-a", "sess-1", time.Time{}))
}

func TestIsStale_PredatesCreatedAt(t *testing.T) {
	created := time.Now()
	c := Chunk{TaskID: "task-a", SessionID: "sess-1", Timestamp: created.Add(-time.Hour)}
	assert.True(t, IsStale(c, "task-a", "sess-1", created))
}

func TestIsStale_KnownMarker(t *testing.T) {
	c := Chunk{TaskID: "task-a", SessionID: "sess-1", Data: "[stale] leftover banner", Timestamp: time.Now()}
	assert.True(t, IsStale(c, "task-a", "sess-1", time.Time{}))
}
