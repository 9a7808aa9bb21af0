package execadapter

import (
	"strings"
	"sync"
	"time"
)

// staleNotificationSubstrings are known stale-notification markers some
// executors print after their real work is done (e.g. shell prompt banners
// replayed from a detached session). Any chunk matching one is dropped.
var staleNotificationSubstrings = []string{
	"session resumed from",
	"replaying previous output",
	"[stale]",
}

// RingBuffer is a bounded, single-writer/many-reader buffer of tagged
// output chunks. On overflow it drops the oldest entry rather than
// blocking the writer or growing unbounded (spec §5: "must tolerate
// subscriber slowness by dropping oldest events").
type RingBuffer struct {
	mu       sync.Mutex
	chunks   []Chunk
	capacity int
}

// NewRingBuffer creates a buffer holding at most capacity chunks.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 2000
	}
	return &RingBuffer{capacity: capacity}
}

// Push appends a chunk, dropping the oldest entry first if at capacity.
func (b *RingBuffer) Push(c Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) >= b.capacity {
		b.chunks = b.chunks[1:]
	}
	b.chunks = append(b.chunks, c)
}

// Snapshot returns a copy of the buffer's current contents, oldest first.
func (b *RingBuffer) Snapshot() []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Chunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// IsStale reports whether a chunk should be dropped by the stale-output
// filter (§4.C): mismatched taskId/sessionId, a timestamp predating the
// task's created-at, or a recognized stale-notification marker. A chunk
// carrying neither a taskId nor a sessionId is treated as stale — fail
// closed, since there is no context to prove it belongs to this run.
func IsStale(c Chunk, expectedTaskID, expectedSessionID string, createdAt time.Time) bool {
	if c.TaskID == "" && c.SessionID == "" {
		return true
	}
	if c.TaskID != "" && c.TaskID != expectedTaskID {
		return true
	}
	if c.SessionID != "" && c.SessionID != expectedSessionID {
		return true
	}
	if !createdAt.IsZero() && c.Timestamp.Before(createdAt) {
		return true
	}
	lower := strings.ToLower(c.Data)
	for _, marker := range staleNotificationSubstrings {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
