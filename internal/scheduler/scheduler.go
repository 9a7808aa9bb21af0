// Package scheduler implements the Queue Poller/Scheduler (spec §4.G): it
// claims tasks from the Queue Store, drives each through the chunking,
// review and executor-adapter chain under the Timeout & Progress Model, and
// periodically sweeps for stale RUNNING tasks via the Restart Detector.
//
// Grounded on the teacher's worker.Pool (internal/worker/pool.go): the same
// State/stopCh/wg shutdown shape and semaphore-gated claim loop, re-targeted
// from a Redis-stream consumer group onto the Queue Store's Claim call and
// generalized from a fixed handler-map dispatch onto the
// chunking→review→executor pipeline this engine runs per task.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskorch/engine/internal/config"
	"github.com/taskorch/engine/internal/lock"
	"github.com/taskorch/engine/internal/logger"
	"github.com/taskorch/engine/internal/metrics"
	"github.com/taskorch/engine/internal/queue"
	"github.com/taskorch/engine/internal/restart"
	"github.com/taskorch/engine/internal/runner"
	"github.com/taskorch/engine/internal/task"
)

// State mirrors the teacher's worker.State enum.
type State int

const (
	StateIdle State = iota
	StateBusy
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Scheduler is the process-wide Queue Poller. One Scheduler owns one Queue
// Store and one Lock Manager; namespaces are discovered dynamically from
// the store rather than configured statically, since the control plane can
// enqueue into a namespace the scheduler has never seen before.
// TracePublisher fans out one observable trace event for a task to any
// live subscribers (the control plane's WebSocket trace-tail stream). It
// is optional: a Scheduler with none set simply persists events to the
// store without also streaming them live.
type TracePublisher interface {
	Publish(taskID, name string, data map[string]any)
}

type Scheduler struct {
	cfg      *config.Config
	store    queue.Store
	locks    *lock.Manager
	runnerID string
	registry *runner.Registry
	tracePub TracePublisher

	state   State
	stateMu sync.RWMutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Scheduler bound to store and locks. reg may be nil, in
// which case runner heartbeats are reported into a private registry that
// nothing else observes (e.g. in tests that do not exercise list-runners).
func New(cfg *config.Config, store queue.Store, locks *lock.Manager, reg *runner.Registry) *Scheduler {
	if reg == nil {
		reg = runner.NewRegistry(0)
	}
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		locks:    locks,
		runnerID: uuid.New().String(),
		registry: reg,
		state:    StateIdle,
		stopCh:   make(chan struct{}),
	}
}

// RunnerID identifies this scheduler to the control plane's
// list-runners-with-status operation (§4.I).
func (s *Scheduler) RunnerID() string {
	return s.runnerID
}

// SetTracePublisher wires a live trace fan-out sink. Must be called before
// Start if it is to be used.
func (s *Scheduler) SetTracePublisher(pub TracePublisher) {
	s.tracePub = pub
}

// Start begins the poll loop, the heartbeat loop and the stale-recovery
// sweep.
func (s *Scheduler) Start(ctx context.Context) error {
	s.setState(StateBusy)
	s.registry.Register(s.runnerID, s.cfg.Namespace.Default)

	s.wg.Add(3)
	go s.pollLoop(ctx)
	go s.recoveryLoop(ctx)
	go s.heartbeatLoop(ctx)

	logger.Info().Str("runner_id", s.runnerID).Msg("scheduler started")
	return nil
}

// Stop signals the poll and recovery loops to exit and waits for every
// in-flight task goroutine to finish, up to a grace period. It never
// cancels a running child process: the only path that kills a child is the
// hard deadline set in executeTask. A RUNNING task has no CANCELLED edge in
// the state machine, so a user cancel never reaches a running child.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.setState(StateShuttingDown)
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("scheduler stopped gracefully")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("scheduler shutdown grace period elapsed with tasks still in flight")
	case <-ctx.Done():
		logger.Warn().Msg("scheduler shutdown canceled")
	}
	s.registry.Deregister(s.runnerID)
	return nil
}

// heartbeatLoop reports this scheduler's liveness into the runner registry
// on the same cadence it polls the queue, so list-runners-with-status never
// lags claim latency by more than one poll interval.
func (s *Scheduler) heartbeatLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.Queue.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	beat := func() {
		s.registry.Heartbeat(s.runnerID, s.cfg.Namespace.Default, s.State().String(), s.locks.InFlight())
	}
	beat()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			beat()
		}
	}
}

func (s *Scheduler) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.Queue.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	namespaces, err := s.store.ListNamespaces(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("scheduler: list namespaces")
		return
	}
	for _, ns := range namespaces {
		s.tryClaim(ctx, ns)
	}
}

// tryClaim claims one task and then takes a non-blocking semaphore slot for
// it (§4.B property 3, §4.G backpressure). The claim comes first: when the
// semaphore is full, the already-claimed task is put back to QUEUED through
// the RUNNING->QUEUED edge, which increments its attempt-count.
func (s *Scheduler) tryClaim(ctx context.Context, namespace string) {
	rec, err := s.store.Claim(ctx, namespace)
	if err != nil {
		logger.WithNamespace(namespace).Error().Err(err).Msg("scheduler: claim failed")
		return
	}
	if rec == nil {
		return
	}

	if err := s.locks.AcquireSemaphore(rec.ID); err != nil {
		metrics.RecordExecutorLimitExceeded(namespace)
		// No slot available: put the task back so a future tick can claim
		// it once capacity frees up, rather than losing the claim. This
		// goes through the same RUNNING->QUEUED edge the Restart Detector
		// uses, so it costs an attempt-count increment with no real
		// execution attempt behind it; saturating the semaphore is expected
		// to be rare enough for that to be fine, but a deployment that sees
		// sustained saturation (Lock.MaxConcurrentExecutors too low for its
		// enqueue rate) will see attempt-count inflate faster than retries
		// alone would explain.
		if _, rerr := s.store.UpdateStatus(ctx, rec.ID, namespace, task.StatusQueued, nil); rerr != nil {
			logger.WithTask(rec.ID).Warn().Err(rerr).Msg("scheduler: failed to requeue after semaphore saturation")
		}
		return
	}

	metrics.RecordClaim(namespace, time.Since(rec.CreatedAt).Seconds())
	metrics.SetSemaphoreInUse(namespace, s.locks.InFlight())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.locks.ReleaseSemaphore(rec.ID)
		defer metrics.SetSemaphoreInUse(namespace, s.locks.InFlight())
		s.executeTask(ctx, rec)
	}()
}

func (s *Scheduler) recoveryLoop(ctx context.Context) {
	defer s.wg.Done()

	tick := s.cfg.Queue.RecoveryTick
	if tick <= 0 {
		tick = 60 * time.Second
	}
	staleAfter := s.cfg.Queue.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 30 * time.Second
	}

	// Run one sweep at startup so a crash-restart cycle recovers orphaned
	// RUNNING tasks before the first tick fires (§4.H).
	s.sweepStale(ctx, staleAfter)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepStale(ctx, staleAfter)
		}
	}
}

func (s *Scheduler) sweepStale(ctx context.Context, staleAfter time.Duration) {
	namespaces, err := s.store.ListNamespaces(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("scheduler: list namespaces for recovery sweep")
		return
	}
	if len(namespaces) == 0 {
		return
	}
	if _, err := restart.ScanAll(ctx, s.store, namespaces, staleAfter); err != nil {
		logger.Error().Err(err).Msg("scheduler: stale recovery sweep failed")
	}
}
