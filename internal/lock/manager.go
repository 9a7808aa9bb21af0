package lock

import (
	"sort"
	"sync"
	"time"

	"github.com/taskorch/engine/internal/logger"
)

// Manager owns the file-lock registry and the executor semaphore — the
// process's only other piece of shared mutable state besides the queue
// store (spec §5: "the lock manager is the single shared in-memory state").
// The semaphore follows the teacher's worker.Pool buffered-channel pattern
// (internal/worker/pool.go: concurrencySem chan struct{}), generalized from
// a fixed worker-goroutine count to the acquire/release pair §4.B asks for.
type Manager struct {
	mu    sync.Mutex
	locks map[string][]*Lock // filePath -> holders

	sem          chan struct{}
	semHoldersMu sync.Mutex
	semHolders   map[string]struct{}
}

// NewManager creates a Manager whose semaphore admits at most maxConcurrent
// executors at once (default 4 per spec §4.B property 3).
func NewManager(maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Manager{
		locks:      make(map[string][]*Lock),
		sem:        make(chan struct{}, maxConcurrent),
		semHolders: make(map[string]struct{}),
	}
}

func compatible(existing []*Lock, requested Type) bool {
	if requested == Read {
		for _, l := range existing {
			if l.LockType == Write {
				return false
			}
		}
		return true
	}
	return len(existing) == 0
}

// Acquire takes one lock on filePath for executorID, failing immediately
// (never blocking) if an incompatible holder is present.
func (m *Manager) Acquire(filePath, executorID string, lockType Type) (*Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.locks[filePath]
	if !compatible(existing, lockType) {
		return nil, ErrLockAcquisitionFailure
	}

	l := &Lock{
		ID:             newLockID(),
		FilePath:       filePath,
		HolderExecutor: executorID,
		LockType:       lockType,
		AcquiredAt:     time.Now().UTC(),
	}
	m.locks[filePath] = append(existing, l)
	logger.WithComponent("lock").Debug().
		Str("file_path", filePath).Str("executor_id", executorID).Str("lock_type", lockType.String()).
		Msg("lock acquired")
	return l, nil
}

// AcquireMany sorts filePaths into canonical order before acquiring each
// lock in turn; on any failure it releases everything it had acquired, in
// reverse order, and returns the error (§4.B property 1).
func (m *Manager) AcquireMany(filePaths []string, executorID string, lockType Type) ([]*Lock, error) {
	sorted := make([]string, len(filePaths))
	copy(sorted, filePaths)
	sort.Strings(sorted)

	acquired := make([]*Lock, 0, len(sorted))
	for _, p := range sorted {
		l, err := m.Acquire(p, executorID, lockType)
		if err != nil {
			for i := len(acquired) - 1; i >= 0; i-- {
				_ = m.Release(acquired[i].ID)
			}
			return nil, err
		}
		acquired = append(acquired, l)
	}
	return acquired, nil
}

// Release drops a lock by id. This is the only legitimate way a lock ever
// goes away; nothing in this package releases based on ExpiresAt.
func (m *Manager) Release(lockID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for path, holders := range m.locks {
		for i, l := range holders {
			if l.ID == lockID {
				m.locks[path] = append(holders[:i], holders[i+1:]...)
				if len(m.locks[path]) == 0 {
					delete(m.locks, path)
				}
				return nil
			}
		}
	}
	return ErrLockNotFound
}

// AcquireSemaphore takes one of the N executor slots. It never blocks: if
// the semaphore is full it returns ErrExecutorLimitExceeded immediately so
// the poller can back off (§4.B property 3).
func (m *Manager) AcquireSemaphore(executorID string) error {
	select {
	case m.sem <- struct{}{}:
		m.semHoldersMu.Lock()
		m.semHolders[executorID] = struct{}{}
		m.semHoldersMu.Unlock()
		return nil
	default:
		return ErrExecutorLimitExceeded
	}
}

// ReleaseSemaphore returns executorID's slot to the pool.
func (m *Manager) ReleaseSemaphore(executorID string) {
	m.semHoldersMu.Lock()
	_, held := m.semHolders[executorID]
	delete(m.semHolders, executorID)
	m.semHoldersMu.Unlock()

	if held {
		<-m.sem
	}
}

// ReleaseExpired exists only to be the one codepath that could auto-release
// an expired lock, and refuses to: §4.B property 4 forbids proactive
// release based on ExpiresAt. Any caller tempted to reclaim a "dead"
// holder's lock by expiry must go through Release with an explicit
// lock-id obtained some other way (e.g. after confirming the holding
// executor is gone), not through this entry point.
func (m *Manager) ReleaseExpired(lockID string) error {
	return ErrLockReleaseForbidden
}

// InFlight reports how many executor slots are currently held.
func (m *Manager) InFlight() int {
	m.semHoldersMu.Lock()
	defer m.semHoldersMu.Unlock()
	return len(m.semHolders)
}

// DetectDeadlock performs a depth-first cycle search over waitGraph (node →
// nodes it waits on) and returns true on the first back-edge found (§4.B
// property 5). Callers predicting a two-executor deadlock present the
// two-node graph {this holds X wants Y} ∪ {other holds Y wants X}.
func DetectDeadlock(waitGraph map[string][]string) bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(waitGraph))

	var visit func(node string) bool
	visit = func(node string) bool {
		switch state[node] {
		case visiting:
			return true
		case done:
			return false
		}
		state[node] = visiting
		for _, next := range waitGraph[node] {
			if visit(next) {
				return true
			}
		}
		state[node] = done
		return false
	}

	for node := range waitGraph {
		if state[node] == unvisited {
			if visit(node) {
				return true
			}
		}
	}
	return false
}
