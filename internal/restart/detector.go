// Package restart implements the Restart/Resume Detector (spec §4.H): it
// classifies a stale RUNNING task record as either a rollback-replay (reset
// to QUEUED, attempt-count bumped) or a soft-resume (left RUNNING, trusting
// an external executor is still making progress).
//
// Grounded on the teacher's worker.recoverOrphanedTasks
// (internal/worker/pool.go): the same "periodically reclaim what a dead
// worker left behind" shape, re-targeted from Redis consumer-group XCLAIM
// orphan reclaim onto the Queue Store's RecoverStale sweep, and on
// internal/queue/scheduler.go for the periodic-tick wiring.
package restart

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskorch/engine/internal/logger"
	"github.com/taskorch/engine/internal/metrics"
	"github.com/taskorch/engine/internal/queue"
	"github.com/taskorch/engine/internal/task"
)

// Decide classifies one stale RUNNING record per §4.H. In the in-process
// default deployment the soft-resume branch is unreachable: a step log and
// a saved output can only both be present if some other process — an
// out-of-process executor this engine does not itself run — kept writing
// after the in-process scheduler that launched it died. It is kept so a
// future out-of-process executor integration has somewhere to land
// (§9 Open Questions).
func Decide(rec *task.Record) queue.StaleDecision {
	if hasStepLog(rec) && rec.Output != "" {
		return queue.DecisionSoftResume
	}
	return queue.DecisionRollbackReplay
}

func hasStepLog(rec *task.Record) bool {
	for _, e := range rec.ProgressEvents {
		if e.Type == task.ProgressLogChunk || e.Type == task.ProgressToolProgress {
			return true
		}
	}
	return false
}

// ScanNamespace runs one RecoverStale pass for namespace and logs/records
// the outcome.
func ScanNamespace(ctx context.Context, store queue.Store, namespace string, maxAge time.Duration) (int, error) {
	count, err := store.RecoverStale(ctx, namespace, maxAge, Decide)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		logger.WithNamespace(namespace).Info().Int("count", count).Msg("stale tasks recovered")
	}
	metrics.RecordStaleRecovered(namespace, count)
	return count, nil
}

// ScanAll runs ScanNamespace concurrently across every given namespace,
// bounded by errgroup (per SPEC_FULL's domain-stack wiring of
// golang.org/x/sync/errgroup into this package's concurrent stale scan).
// The first namespace scan to fail aborts the remaining ones; callers that
// want best-effort semantics across namespaces should scan them
// individually instead.
func ScanAll(ctx context.Context, store queue.Store, namespaces []string, maxAge time.Duration) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	totals := make([]int, len(namespaces))
	for i, ns := range namespaces {
		i, ns := i, ns
		g.Go(func() error {
			n, err := ScanNamespace(gctx, store, ns, maxAge)
			totals[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	total := 0
	for _, n := range totals {
		total += n
	}
	return total, nil
}
