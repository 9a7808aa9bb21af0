package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskorch/engine/internal/config"
	"github.com/taskorch/engine/internal/logger"
	"github.com/taskorch/engine/internal/task"
)

// claimScript is the conditional-update primitive the spec's Open Question
// asks for from an "external table" backend: it atomically pops the
// oldest queued task-id, re-verifies the record is still QUEUED, and
// rewrites it to RUNNING in one round trip, so two concurrent claimers can
// never observe and transition the same record (O-1).
//
// Re-grounded from the teacher's XCLAIM/XReadGroup claim pattern in
// internal/queue/redis_streams.go onto a ZSET index + JSON blob, since task
// records here are addressed by id rather than consumed as stream entries.
const claimScript = `
local popped = redis.call('ZPOPMIN', KEYS[1], 1)
if #popped == 0 then
  return false
end
local taskID = popped[1]
local taskKey = ARGV[1] .. taskID
local data = redis.call('GET', taskKey)
if not data then
  return false
end
local rec = cjson.decode(data)
if rec.status ~= 'QUEUED' then
  return false
end
rec.status = 'RUNNING'
rec.updated_at = ARGV[2]
rec.started_at = ARGV[2]
local newData = cjson.encode(rec)
redis.call('SET', taskKey, newData)
redis.call('ZADD', KEYS[2], ARGV[3], taskID)
return newData
`

// RedisStore is the Queue Store's "external table" backend (§9 Open
// Questions): task records are JSON blobs addressed by id, with a
// ZADD-scored sorted set as the claimable-queue index per namespace.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials Redis and verifies connectivity before returning.
func NewRedisStore(cfg *config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue: connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) taskKeyPrefix(namespace string) string { return "orch:" + namespace + ":task:" }
func (s *RedisStore) taskKey(namespace, id string) string   { return s.taskKeyPrefix(namespace) + id }
func (s *RedisStore) groupKey(namespace, id string) string  { return "orch:" + namespace + ":group:" + id }
func (s *RedisStore) queuedKey(namespace string) string     { return "orch:" + namespace + ":queued" }
func (s *RedisStore) runningKey(namespace string) string    { return "orch:" + namespace + ":running" }
func (s *RedisStore) eventsKey(namespace, id string) string { return "orch:" + namespace + ":events:" + id }
func (s *RedisStore) namespacesKey() string                 { return "orch:namespaces" }

func (s *RedisStore) Enqueue(ctx context.Context, sessionID, taskGroupID, prompt string, taskType task.Type, namespace string) (*task.Record, error) {
	if prompt == "" || taskGroupID == "" {
		return nil, ErrInvalidInput
	}
	rec := task.New(sessionID, taskGroupID, prompt, taskType, namespace)
	data, err := rec.ToJSON()
	if err != nil {
		return nil, err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.taskKey(namespace, rec.ID), data, 0)
	pipe.ZAdd(ctx, s.queuedKey(namespace), redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.ID})
	pipe.SAdd(ctx, s.namespacesKey(), namespace)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue: enqueue: %w", err)
	}

	g, err := s.GetGroup(ctx, taskGroupID, namespace)
	if err == ErrGroupNotFound {
		g = task.NewGroup(taskGroupID, sessionID)
	} else if err != nil {
		return nil, err
	}
	g.State = task.GroupActive
	g.AppendEntry(task.ConversationEntry{Role: "user", Content: prompt, Timestamp: rec.CreatedAt, TaskID: rec.ID})
	if err := s.putGroup(ctx, namespace, g); err != nil {
		return nil, err
	}

	logger.WithNamespace(namespace).Info().Str("task_id", rec.ID).Msg("task enqueued")
	return rec, nil
}

func (s *RedisStore) putGroup(ctx context.Context, namespace string, g *task.Group) error {
	data, err := g.ToJSON()
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.groupKey(namespace, g.ID), data, 0).Err()
}

func (s *RedisStore) Get(ctx context.Context, taskID, namespace string) (*task.Record, error) {
	data, err := s.client.Get(ctx, s.taskKey(namespace, taskID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task.FromJSON(data)
}

func (s *RedisStore) ListByGroup(ctx context.Context, taskGroupID, namespace string) ([]*task.Record, error) {
	keys, err := s.client.Keys(ctx, s.taskKeyPrefix(namespace)+"*").Result()
	if err != nil {
		return nil, err
	}
	var out []*task.Record
	for _, k := range keys {
		data, err := s.client.Get(ctx, k).Bytes()
		if err != nil {
			continue
		}
		rec, err := task.FromJSON(data)
		if err != nil || rec.TaskGroupID != taskGroupID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *RedisStore) ListGroups(ctx context.Context, namespace string) ([]*task.Group, error) {
	keys, err := s.client.Keys(ctx, "orch:"+namespace+":group:*").Result()
	if err != nil {
		return nil, err
	}
	var out []*task.Group
	for _, k := range keys {
		data, err := s.client.Get(ctx, k).Bytes()
		if err != nil {
			continue
		}
		g, err := task.GroupFromJSON(data)
		if err != nil {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *RedisStore) ListNamespaces(ctx context.Context) ([]string, error) {
	ns, err := s.client.SMembers(ctx, s.namespacesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ns)
	return ns, nil
}

func (s *RedisStore) Claim(ctx context.Context, namespace string) (*task.Record, error) {
	now := time.Now().UTC()
	res, err := s.client.Eval(ctx, claimScript,
		[]string{s.queuedKey(namespace), s.runningKey(namespace)},
		s.taskKeyPrefix(namespace), now.Format(time.RFC3339Nano), float64(now.UnixNano()),
	).Result()
	if err == redis.Nil {
		// The script returns false when nothing is claimable.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: claim: %w", err)
	}
	str, ok := res.(string)
	if !ok || str == "" {
		return nil, nil
	}
	return task.FromJSON([]byte(str))
}

func (s *RedisStore) UpdateStatus(ctx context.Context, taskID, namespace string, newStatus task.Status, patch any) (*task.Record, error) {
	rec, err := s.Get(ctx, taskID, namespace)
	if err != nil {
		return nil, err
	}
	if err := applyStatusPatch(rec, newStatus, patch); err != nil {
		return nil, err
	}
	data, err := rec.ToJSON()
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, s.taskKey(namespace, taskID), data, 0).Err(); err != nil {
		return nil, err
	}
	if newStatus == task.StatusComplete || newStatus == task.StatusError || newStatus == task.StatusBlocked || newStatus == task.StatusCancelled {
		s.client.ZRem(ctx, s.runningKey(namespace), taskID)
	}
	return rec, nil
}

func (s *RedisStore) ResumeWithResponse(ctx context.Context, taskID, namespace, replyText string) (*task.Record, error) {
	if replyText == "" {
		return nil, ErrInvalidInput
	}
	rec, err := s.Get(ctx, taskID, namespace)
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
	data, err := rec.ToJSON()
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, s.taskKey(namespace, taskID), data, 0).Err(); err != nil {
		return nil, err
	}
	if err := s.client.ZAdd(ctx, s.queuedKey(namespace), redis.Z{Score: float64(time.Now().UnixNano()), Member: taskID}).Err(); err != nil {
		return nil, err
	}

	g, err := s.GetGroup(ctx, rec.TaskGroupID, namespace)
	if err == nil {
		g.AppendEntry(task.ConversationEntry{Role: "user", Content: replyText, Timestamp: time.Now().UTC(), TaskID: taskID})
		_ = s.putGroup(ctx, namespace, g)
	}
	return rec, nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, taskID, namespace string, event task.ProgressEvent) error {
	rec, err := s.Get(ctx, taskID, namespace)
	if err != nil {
		return err
	}
	rec.AppendEvent(event)
	data, err := rec.ToJSON()
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.taskKey(namespace, taskID), data, 0).Err(); err != nil {
		return err
	}
	if rec.Status == task.StatusRunning {
		s.client.ZAdd(ctx, s.runningKey(namespace), redis.Z{Score: float64(rec.UpdatedAt.UnixNano()), Member: taskID})
	}
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.RPush(ctx, s.eventsKey(namespace, taskID), line).Err()
}

func (s *RedisStore) AppendReview(ctx context.Context, taskID, namespace string, rec task.ReviewIterationRecord) error {
	t, err := s.Get(ctx, taskID, namespace)
	if err != nil {
		return err
	}
	t.AppendReview(rec)
	data, err := t.ToJSON()
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.taskKey(namespace, taskID), data, 0).Err()
}

func (s *RedisStore) RecoverStale(ctx context.Context, namespace string, maxAge time.Duration, decide StaleDeciderFunc) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	ids, err := s.client.ZRangeByScore(ctx, s.runningKey(namespace), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", cutoff.UnixNano()),
	}).Result()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		rec, err := s.Get(ctx, id, namespace)
		if err != nil || rec.Status != task.StatusRunning {
			s.client.ZRem(ctx, s.runningKey(namespace), id)
			continue
		}
		switch decide(rec) {
		case DecisionRollbackReplay:
			sm := task.NewStateMachine(rec)
			if err := sm.RollbackReplay(); err != nil {
				continue
			}
			data, err := rec.ToJSON()
			if err != nil {
				continue
			}
			if err := s.client.Set(ctx, s.taskKey(namespace, id), data, 0).Err(); err != nil {
				continue
			}
			s.client.ZRem(ctx, s.runningKey(namespace), id)
			s.client.ZAdd(ctx, s.queuedKey(namespace), redis.Z{Score: float64(time.Now().UnixNano()), Member: id})
			count++
		case DecisionSoftResume:
			s.client.ZAdd(ctx, s.runningKey(namespace), redis.Z{Score: float64(time.Now().UnixNano()), Member: id})
		}
	}
	return count, nil
}

func (s *RedisStore) GetGroup(ctx context.Context, groupID, namespace string) (*task.Group, error) {
	data, err := s.client.Get(ctx, s.groupKey(namespace, groupID)).Bytes()
	if err == redis.Nil {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	return task.GroupFromJSON(data)
}

func (s *RedisStore) AppendConversationEntry(ctx context.Context, groupID, namespace string, entry task.ConversationEntry) error {
	g, err := s.GetGroup(ctx, groupID, namespace)
	if err != nil {
		return err
	}
	g.AppendEntry(entry)
	return s.putGroup(ctx, namespace, g)
}

func (s *RedisStore) Close() error { return s.client.Close() }

// Client exposes the underlying client for health probes and admin tooling.
func (s *RedisStore) Client() *redis.Client { return s.client }
