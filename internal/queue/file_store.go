package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/taskorch/engine/internal/logger"
	"github.com/taskorch/engine/internal/task"
)

// FileStore is the file-backed Queue Store (§6's on-disk layout):
//
//	<stateDir>/queue/<namespace>/tasks/<task-id>.json
//	<stateDir>/queue/<namespace>/groups/<group-id>.json
//	<stateDir>/queue/<namespace>/events/<task-id>.jsonl
//
// Every write goes through write-to-temp + rename (§4.2), which makes a
// single write atomic at the filesystem level. Claim additionally needs
// serialization across concurrent claimers within this process, which a
// per-namespace mutex provides. Claimers in separate processes are not
// serialized against each other.
type FileStore struct {
	root string

	mu      sync.Mutex // guards nsLocks map itself
	nsLocks map[string]*sync.Mutex
}

// NewFileStore creates a FileStore rooted at stateDir.
func NewFileStore(stateDir string) (*FileStore, error) {
	root := filepath.Join(stateDir, "queue")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("queue: create state dir: %w", err)
	}
	return &FileStore{root: root, nsLocks: make(map[string]*sync.Mutex)}, nil
}

func (s *FileStore) nsLock(namespace string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.nsLocks[namespace]
	if !ok {
		l = &sync.Mutex{}
		s.nsLocks[namespace] = l
	}
	return l
}

func (s *FileStore) tasksDir(namespace string) string  { return filepath.Join(s.root, namespace, "tasks") }
func (s *FileStore) groupsDir(namespace string) string { return filepath.Join(s.root, namespace, "groups") }
func (s *FileStore) eventsDir(namespace string) string { return filepath.Join(s.root, namespace, "events") }

func (s *FileStore) taskPath(namespace, taskID string) string {
	return filepath.Join(s.tasksDir(namespace), taskID+".json")
}
func (s *FileStore) groupPath(namespace, groupID string) string {
	return filepath.Join(s.groupsDir(namespace), groupID+".json")
}
func (s *FileStore) eventsPath(namespace, taskID string) string {
	return filepath.Join(s.eventsDir(namespace), taskID+".jsonl")
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by rename, satisfying the write-to-temp+rename atomicity rule.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

func (s *FileStore) readTask(namespace, taskID string) (*task.Record, error) {
	data, err := os.ReadFile(s.taskPath(namespace, taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return task.FromJSON(data)
}

func (s *FileStore) writeTask(rec *task.Record) error {
	data, err := rec.ToJSON()
	if err != nil {
		return err
	}
	return writeAtomic(s.taskPath(rec.Namespace, rec.ID), data)
}

func (s *FileStore) readGroup(namespace, groupID string) (*task.Group, error) {
	data, err := os.ReadFile(s.groupPath(namespace, groupID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return task.GroupFromJSON(data)
}

// Enqueue creates a task record (and its group on first sight) in QUEUED.
func (s *FileStore) Enqueue(ctx context.Context, sessionID, taskGroupID, prompt string, taskType task.Type, namespace string) (*task.Record, error) {
	if prompt == "" || taskGroupID == "" {
		return nil, ErrInvalidInput
	}
	lock := s.nsLock(namespace)
	lock.Lock()
	defer lock.Unlock()

	rec := task.New(sessionID, taskGroupID, prompt, taskType, namespace)
	if err := s.writeTask(rec); err != nil {
		return nil, err
	}

	g, err := s.readGroup(namespace, taskGroupID)
	if err == ErrGroupNotFound {
		g = task.NewGroup(taskGroupID, sessionID)
	} else if err != nil {
		return nil, err
	}
	g.State = task.GroupActive
	g.AppendEntry(task.ConversationEntry{Role: "user", Content: prompt, Timestamp: rec.CreatedAt, TaskID: rec.ID})
	if err := s.writeGroupNS(namespace, g); err != nil {
		return nil, err
	}

	logger.WithNamespace(namespace).Info().Str("task_id", rec.ID).Str("task_group_id", taskGroupID).Msg("task enqueued")
	return rec, nil
}

func (s *FileStore) writeGroupNS(namespace string, g *task.Group) error {
	data, err := g.ToJSON()
	if err != nil {
		return err
	}
	return writeAtomic(s.groupPath(namespace, g.ID), data)
}

func (s *FileStore) Get(ctx context.Context, taskID, namespace string) (*task.Record, error) {
	return s.readTask(namespace, taskID)
}

func (s *FileStore) ListByGroup(ctx context.Context, taskGroupID, namespace string) ([]*task.Record, error) {
	entries, err := os.ReadDir(s.tasksDir(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*task.Record
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := trimJSONExt(e.Name())
		rec, err := s.readTask(namespace, id)
		if err != nil {
			continue
		}
		if rec.TaskGroupID == taskGroupID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) ListGroups(ctx context.Context, namespace string) ([]*task.Group, error) {
	entries, err := os.ReadDir(s.groupsDir(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*task.Group
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id := trimJSONExt(e.Name())
		g, err := s.readGroup(namespace, id)
		if err != nil {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *FileStore) ListNamespaces(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Claim atomically selects the oldest QUEUED task in namespace (O-1).
func (s *FileStore) Claim(ctx context.Context, namespace string) (*task.Record, error) {
	lock := s.nsLock(namespace)
	lock.Lock()
	defer lock.Unlock()

	entries, err := os.ReadDir(s.tasksDir(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var candidates []*task.Record
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rec, err := s.readTask(namespace, trimJSONExt(e.Name()))
		if err != nil || rec.Status != task.StatusQueued {
			continue
		}
		candidates = append(candidates, rec)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	rec := candidates[0]
	if err := applyStatusPatch(rec, task.StatusRunning, nil); err != nil {
		return nil, err
	}
	if err := s.writeTask(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *FileStore) UpdateStatus(ctx context.Context, taskID, namespace string, newStatus task.Status, patch any) (*task.Record, error) {
	lock := s.nsLock(namespace)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.readTask(namespace, taskID)
	if err != nil {
		return nil, err
	}
	if err := applyStatusPatch(rec, newStatus, patch); err != nil {
		return nil, err
	}
	if err := s.writeTask(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *FileStore) ResumeWithResponse(ctx context.Context, taskID, namespace, replyText string) (*task.Record, error) {
	if replyText == "" {
		return nil, ErrInvalidInput
	}
	lock := s.nsLock(namespace)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.readTask(namespace, taskID)
	if err != nil {
		return nil, err
	}
	if rec.Status != task.StatusAwaitingResponse {
		return nil, ErrNotAwaiting
	}
	sm := task.NewStateMachine(rec)
	if err := sm.Reply(replyText); err != nil {
		return nil, err
	}
	if err := s.writeTask(rec); err != nil {
		return nil, err
	}

	g, err := s.readGroup(namespace, rec.TaskGroupID)
	if err == nil {
		g.AppendEntry(task.ConversationEntry{Role: "user", Content: replyText, Timestamp: time.Now().UTC(), TaskID: rec.ID})
		_ = s.writeGroupNS(namespace, g)
	}

	return rec, nil
}

func (s *FileStore) AppendEvent(ctx context.Context, taskID, namespace string, event task.ProgressEvent) error {
	lock := s.nsLock(namespace)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.readTask(namespace, taskID)
	if err != nil {
		return err
	}
	rec.AppendEvent(event)
	if err := s.writeTask(rec); err != nil {
		return err
	}

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return appendLine(s.eventsPath(namespace, taskID), line)
}

func (s *FileStore) AppendReview(ctx context.Context, taskID, namespace string, rec task.ReviewIterationRecord) error {
	lock := s.nsLock(namespace)
	lock.Lock()
	defer lock.Unlock()

	t, err := s.readTask(namespace, taskID)
	if err != nil {
		return err
	}
	t.AppendReview(rec)
	return s.writeTask(t)
}

func (s *FileStore) RecoverStale(ctx context.Context, namespace string, maxAge time.Duration, decide StaleDeciderFunc) (int, error) {
	lock := s.nsLock(namespace)
	lock.Lock()
	defer lock.Unlock()

	entries, err := os.ReadDir(s.tasksDir(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	now := time.Now().UTC()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		rec, err := s.readTask(namespace, trimJSONExt(e.Name()))
		if err != nil || rec.Status != task.StatusRunning {
			continue
		}
		if now.Sub(rec.UpdatedAt) < maxAge {
			continue
		}

		switch decide(rec) {
		case DecisionRollbackReplay:
			sm := task.NewStateMachine(rec)
			if err := sm.RollbackReplay(); err != nil {
				continue
			}
			if err := s.writeTask(rec); err != nil {
				continue
			}
			count++
		case DecisionSoftResume:
			// Leave RUNNING; nothing to persist.
		}
	}
	return count, nil
}

func (s *FileStore) GetGroup(ctx context.Context, groupID, namespace string) (*task.Group, error) {
	return s.readGroup(namespace, groupID)
}

func (s *FileStore) AppendConversationEntry(ctx context.Context, groupID, namespace string, entry task.ConversationEntry) error {
	lock := s.nsLock(namespace)
	lock.Lock()
	defer lock.Unlock()

	g, err := s.readGroup(namespace, groupID)
	if err != nil {
		return err
	}
	g.AppendEntry(entry)
	return s.writeGroupNS(namespace, g)
}

func (s *FileStore) Close() error { return nil }

func trimJSONExt(name string) string {
	const ext = ".json"
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		return name[:len(name)-len(ext)]
	}
	return name
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return err
	}
	_, err = f.Write([]byte("\n"))
	return err
}
