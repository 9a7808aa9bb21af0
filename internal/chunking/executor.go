package chunking

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/taskorch/engine/internal/config"
	"github.com/taskorch/engine/internal/execadapter"
	"github.com/taskorch/engine/internal/review"
	"github.com/taskorch/engine/internal/task"
)

// ReviewRunner drives one subtask prompt through the Review Loop (§4.E) and
// returns its terminal Outcome.
type ReviewRunner func(ctx context.Context, prompt string) review.Outcome

// EventSink receives chunking-level observable events for the control
// plane's trace endpoint.
type EventSink func(name string, data map[string]any)

// subtaskResult pairs a subtask definition with its final Outcome, kept
// alongside the slice index so aggregation can restore execution order
// after a parallel fan-out.
type subtaskResult struct {
	index   int
	subtask task.SubtaskDefinition
	outcome review.Outcome
}

// Execute runs every subtask in an Analysis, sequentially or in parallel
// per §4.F, applying per-subtask retry with exponential backoff, and
// aggregates the terminal ExecutorResult.
func Execute(ctx context.Context, analysis Analysis, cfg config.ChunkingConfig, maxWorkers int, run ReviewRunner, emit EventSink) (*execadapter.Result, []task.SubtaskDefinition) {
	if emit == nil {
		emit = func(string, map[string]any) {}
	}
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	emit("CHUNKING_START", map[string]any{"subtasks": len(analysis.Subtasks), "sequential": analysis.Sequential})

	results := make([]subtaskResult, len(analysis.Subtasks))

	runOne := func(ctx context.Context, i int) {
		st := analysis.Subtasks[i]
		st.Status = task.SubtaskRunning
		outcome, attempts := runWithRetry(ctx, st, cfg, run, emit)
		st.RetryCount = attempts
		if outcome.Status == "COMPLETE" {
			st.Status = task.SubtaskComplete
		} else {
			st.Status = task.SubtaskFailed
		}
		if outcome.Result != nil {
			st.Result = outcome.Result.Output
		}
		results[i] = subtaskResult{index: i, subtask: st, outcome: outcome}
	}

	if analysis.Sequential {
		for i := range analysis.Subtasks {
			runOne(ctx, i)
			if results[i].subtask.Status == task.SubtaskFailed && cfg.FailFast {
				for j := i + 1; j < len(analysis.Subtasks); j++ {
					skipped := analysis.Subtasks[j]
					skipped.Status = task.SubtaskFailed
					results[j] = subtaskResult{index: j, subtask: skipped}
				}
				break
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxWorkers)
		for i := range analysis.Subtasks {
			i := i
			g.Go(func() error {
				runOne(gctx, i)
				return nil
			})
		}
		_ = g.Wait()
	}

	emit("CHUNKING_END", map[string]any{"subtasks": len(analysis.Subtasks)})

	return aggregate(results), finalSubtasks(results)
}

// runWithRetry re-invokes the Review Loop for one subtask until it passes,
// exhausts cfg.MaxRetries, or the caller's context is done (§4.F).
func runWithRetry(ctx context.Context, st task.SubtaskDefinition, cfg config.ChunkingConfig, run ReviewRunner, emit EventSink) (review.Outcome, int) {
	maxRetries := cfg.MaxRetries
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	factor := cfg.RetryBackoffFactor
	if factor <= 0 {
		factor = 2.0
	}

	var outcome review.Outcome
	for attempt := 0; attempt <= maxRetries; attempt++ {
		emit("SUBTASK_ATTEMPT", map[string]any{"subtask_id": st.SubtaskID, "attempt": attempt})
		outcome = run(ctx, st.Prompt)
		if outcome.Status == "COMPLETE" {
			return outcome, attempt
		}
		if !retryable(outcome.Status) || attempt == maxRetries {
			return outcome, attempt
		}
		backoff := time.Duration(float64(delay) * pow(factor, attempt))
		sleepCtx(ctx, backoff)
	}
	return outcome, maxRetries
}

func retryable(status string) bool {
	switch status {
	case "INCOMPLETE", "ERROR", "TIMEOUT":
		return true
	default:
		return false
	}
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// aggregate builds the parent ExecutorResult from terminal subtask
// outcomes per §4.F: union of files-modified, concatenated output in
// execution order, COMPLETE iff every subtask is COMPLETE.
func aggregate(results []subtaskResult) *execadapter.Result {
	sorted := append([]subtaskResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].index < sorted[j].index })

	var (
		outputs       []string
		filesModified []string
		verifiedFiles []string
		seenFiles     = map[string]bool{}
		seenVerified  = map[string]bool{}
		allComplete   = true
		anyExecuted   = false
	)

	for _, r := range sorted {
		if r.subtask.Status != task.SubtaskComplete {
			allComplete = false
		}
		if r.outcome.Result == nil {
			continue
		}
		anyExecuted = anyExecuted || r.outcome.Result.Executed
		if r.outcome.Result.Output != "" {
			outputs = append(outputs, r.outcome.Result.Output)
		}
		for _, f := range r.outcome.Result.FilesModified {
			if !seenFiles[f] {
				seenFiles[f] = true
				filesModified = append(filesModified, f)
			}
		}
		for _, f := range r.outcome.Result.VerifiedFiles {
			if !seenVerified[f] {
				seenVerified[f] = true
				verifiedFiles = append(verifiedFiles, f)
			}
		}
	}

	status := execadapter.StatusError
	if allComplete {
		status = execadapter.StatusComplete
	}

	return &execadapter.Result{
		Executed:      anyExecuted,
		Output:        strings.Join(outputs, "\n\n"),
		FilesModified: filesModified,
		VerifiedFiles: verifiedFiles,
		Status:        status,
	}
}

func finalSubtasks(results []subtaskResult) []task.SubtaskDefinition {
	sorted := append([]subtaskResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].index < sorted[j].index })
	out := make([]task.SubtaskDefinition, len(sorted))
	for i, r := range sorted {
		out[i] = r.subtask
	}
	return out
}
