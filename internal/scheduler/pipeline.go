package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/taskorch/engine/internal/chunking"
	"github.com/taskorch/engine/internal/execadapter"
	"github.com/taskorch/engine/internal/logger"
	"github.com/taskorch/engine/internal/metrics"
	"github.com/taskorch/engine/internal/queue"
	"github.com/taskorch/engine/internal/review"
	"github.com/taskorch/engine/internal/task"
	"github.com/taskorch/engine/internal/timeoutmodel"
)

// fallbackClarificationQuestion stands in for an empty BlockedReason, so a
// BLOCKED verdict with no reason still satisfies §4.1's "error-message = the
// would-be clarification question" and never persists an empty output
// (§3 I-3/I-4, §7).
const fallbackClarificationQuestion = "The executor blocked on this task but did not report why; please clarify how to proceed."

// executionOutcome is the terminal result of running one claimed task
// through the chunking/review/executor chain, independent of whichever
// branch (decomposed or single-shot) produced it.
type executionOutcome struct {
	result           *execadapter.Result
	reviewStatus     string
	reviewIterations []task.ReviewIterationRecord
	subtasks         []task.SubtaskDefinition
}

// executeTask runs the full pipeline for one claimed record. It never lets
// the caller's ctx cancellation kill the child process on its own: the
// hard deadline is enforced by wrapping ctx in its own timeout, and idle
// timeout is supervised separately and never cancels the inner pipeline
// (§4.D: "the idle timeout must never terminate the running process").
func (s *Scheduler) executeTask(ctx context.Context, rec *task.Record) {
	log := logger.WithTask(rec.ID)
	profile := timeoutmodel.ForPrompt(rec.Prompt, "")
	startedAt := time.Now().UTC()

	hardCtx, cancel := context.WithTimeout(context.Background(), profile.Hard)
	// cancel is deliberately NOT deferred here: executeTask can return early
	// on an idle timeout while the pipeline goroutine keeps running
	// detached on hardCtx, and canceling it would kill that still-running
	// child — exactly what the idle path must never do. The finalize
	// goroutine below owns calling cancel, once the pipeline has actually
	// finished (or hardCtx's own deadline fires it).

	progress := newProgressTracker(rec.CreatedAt)
	adapter := execadapter.New(execadapter.Config{
		BinaryPath:      s.cfg.Executor.BinaryPath,
		AuthEnvVar:      s.cfg.Executor.AuthEnvVar,
		RingBufferSize:  s.cfg.Executor.RingBufferSize,
		HeartbeatPeriod: s.cfg.Executor.HeartbeatPeriod,
	}, func(c execadapter.Chunk) {
		progress.touch(c.Timestamp)
		if err := s.store.AppendEvent(hardCtx, rec.ID, rec.Namespace, task.ToolProgress(c.TaskID, c.SessionID, c.Data)); err != nil {
			log.Debug().Err(err).Msg("scheduler: failed to persist progress event")
		}
	})

	done := make(chan struct{})
	var outcome executionOutcome
	go func() {
		defer close(done)
		outcome = s.runPipeline(hardCtx, rec, profile, adapter)
	}()

	// finalizeTask always runs once the pipeline goroutine exits, even if
	// the supervisor loop below exits early on an idle timeout — a closed
	// channel broadcasts to every receiver, so both goroutines observe it.
	go func() {
		<-done
		cancel() // hardCtx has done its job; release its deadline timer
		finalizeCtx, finalizeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer finalizeCancel()
		s.finalizeTask(finalizeCtx, rec, outcome)
	}()

	heartbeatPeriod := s.cfg.Executor.HeartbeatPeriod
	if heartbeatPeriod <= 0 {
		heartbeatPeriod = 5 * time.Second
	}
	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			verdict := timeoutmodel.Evaluate(profile, rec.CreatedAt, startedAt, progress.Last(), now)
			if !verdict.TimedOut {
				continue
			}
			metrics.RecordTimeout(rec.Namespace, verdict.Reason)
			if verdict.Action == "AWAITING_RESPONSE" {
				_, err := s.store.UpdateStatus(ctx, rec.ID, rec.Namespace, task.StatusAwaitingResponse, queue.AwaitingResponsePatch{
					Question: "No progress observed before the idle timeout; the executor is still running in the background.",
				})
				if err != nil {
					log.Warn().Err(err).Msg("scheduler: failed to move idle task to AWAITING_RESPONSE")
					continue
				}
				log.Info().Str("profile", string(profile.Name)).Msg("idle timeout: task moved to AWAITING_RESPONSE, executor left running")
				return
			}
			// Action == "ERROR": hardCtx's own timeout will cancel the
			// child shortly; nothing else to do here but wait for done.
		}
	}
}

// runPipeline decides between the single-shot Review Loop and the
// chunking fan-out, per §4.F's decomposability test.
func (s *Scheduler) runPipeline(ctx context.Context, rec *task.Record, profile timeoutmodel.Profile, adapter *execadapter.Adapter) executionOutcome {
	reviewCfg := review.Config{
		MaxIterations:  s.cfg.Review.MaxIterations,
		EscalateOnMax:  s.cfg.Review.EscalateOnMax,
		RetryDelay:     s.cfg.Review.RetryDelay,
		GoalDriftGuard: s.cfg.Review.GoalDriftGuard,
	}
	emit := s.traceEmitter(rec)
	execFn := s.buildExecutor(rec, adapter)
	prompt := effectivePrompt(rec)

	analysis := chunking.Analyze(rec.ID, prompt, s.cfg.Chunking)
	if !analysis.Decomposable {
		outcome := review.Run(ctx, reviewCfg, prompt, execFn, emit)
		return executionOutcome{result: outcome.Result, reviewStatus: outcome.Status, reviewIterations: outcome.Iterations}
	}

	metrics.RecordChunking(rec.Namespace, len(analysis.Subtasks))
	runner := func(ctx context.Context, prompt string) review.Outcome {
		return review.Run(ctx, reviewCfg, prompt, execFn, emit)
	}
	result, subtasks := chunking.Execute(ctx, analysis, s.cfg.Chunking, s.cfg.Lock.MaxConcurrentExecutors, runner, emit)
	for _, st := range subtasks {
		if st.RetryCount > 0 {
			metrics.RecordSubtaskRetry(rec.Namespace)
		}
	}
	return executionOutcome{result: result, reviewStatus: string(result.Status), subtasks: subtasks}
}

// effectivePrompt folds a resumed task's user-reply onto its immutable
// prompt (§4.A: prompt itself never changes; §8 scenario 5 expects the
// re-claimed run to see the reply "in conversation history"). A task
// resumed without ever having asked a question has no UserReply and runs
// with its original prompt unchanged.
func effectivePrompt(rec *task.Record) string {
	if rec.UserReply == "" {
		return rec.Prompt
	}
	return rec.Prompt + "\n\nUser reply: " + rec.UserReply
}

// buildExecutor adapts the Executor Adapter into the Review Loop's
// Executor contract: one call in, one ExecutorResult plus trace previews
// out (§4.C, §4.E).
func (s *Scheduler) buildExecutor(rec *task.Record, adapter *execadapter.Adapter) review.Executor {
	return func(ctx context.Context, prompt string) (*execadapter.Result, []string, bool, error) {
		req := execadapter.Request{
			TaskID:     rec.ID,
			SessionID:  rec.SessionID,
			Prompt:     prompt,
			WorkingDir: s.cfg.Namespace.ProjectDir,
			CreatedAt:  rec.CreatedAt,
		}
		res, err := adapter.Execute(ctx, req)
		if res == nil {
			return nil, nil, false, err
		}
		if len(res.FilesModified) > 0 {
			verified, unverified := execadapter.VerifyFiles(req.WorkingDir, res.FilesModified)
			res.VerifiedFiles = verified
			res.UnverifiedFiles = unverified
		}
		trace := adapter.Trace(rec.ID, rec.SessionID, rec.CreatedAt)
		previews := previewLines(trace, 20)
		truncated := s.cfg.Executor.RingBufferSize > 0 && len(trace) >= s.cfg.Executor.RingBufferSize
		return res, previews, truncated, err
	}
}

func previewLines(trace []execadapter.Chunk, n int) []string {
	if len(trace) <= n {
		out := make([]string, len(trace))
		for i, c := range trace {
			out[i] = c.Data
		}
		return out
	}
	out := make([]string, n)
	start := len(trace) - n
	for i := 0; i < n; i++ {
		out[i] = trace[start+i].Data
	}
	return out
}

// traceEmitter persists the Review Loop's and Chunking's observable events
// as log_chunk progress events, so the control plane's trace endpoint sees
// them alongside executor output (§4.E, §4.F, §4.I).
func (s *Scheduler) traceEmitter(rec *task.Record) func(string, map[string]any) {
	log := logger.WithTask(rec.ID)
	return func(name string, data map[string]any) {
		log.Debug().Str("event", name).Interface("data", data).Msg("trace event")
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.AppendEvent(bgCtx, rec.ID, rec.Namespace, task.LogChunk(rec.ID, rec.SessionID, name)); err != nil {
			log.Debug().Err(err).Msg("scheduler: failed to persist trace event")
		}
		if s.tracePub != nil {
			s.tracePub.Publish(rec.ID, name, data)
		}
	}
}

// finalizeTask writes the pipeline's terminal outcome back to the queue
// store, applying the §4.1 status-rewrite rules before the write.
func (s *Scheduler) finalizeTask(ctx context.Context, rec *task.Record, outcome executionOutcome) {
	log := logger.WithTask(rec.ID)

	for _, r := range outcome.reviewIterations {
		if err := s.store.AppendReview(ctx, rec.ID, rec.Namespace, r); err != nil {
			log.Warn().Err(err).Msg("scheduler: failed to append review iteration")
		}
		metrics.RecordJudgment(rec.Namespace, string(r.Judgment))
	}
	metrics.RecordReviewLoop(rec.Namespace, outcome.reviewStatus, len(outcome.reviewIterations))

	if outcome.result == nil {
		if _, err := s.store.UpdateStatus(ctx, rec.ID, rec.Namespace, task.StatusError, queue.ErrorPatch{ErrorMessage: "pipeline produced no result"}); err != nil {
			log.Warn().Err(err).Msg("scheduler: failed to finalize task with no result")
		}
		metrics.RecordTerminal(rec.Namespace, task.StatusError.String())
		return
	}

	status, patch := rewriteStatus(rec, outcome)
	if _, err := s.store.UpdateStatus(ctx, rec.ID, rec.Namespace, status, patch); err != nil {
		// The idle-timeout supervisor may already have moved this task to
		// AWAITING_RESPONSE before the pipeline goroutine finished; that
		// is the documented soft-resume race and is not an error worth
		// surfacing loudly.
		log.Info().Err(err).Str("attempted_status", status.String()).Msg("scheduler: finalize status write rejected")
		return
	}
	metrics.RecordTerminal(rec.Namespace, status.String())
}

// rewriteStatus applies the §4.1 status-rewrite rules on top of the
// Review Loop's own terminal verdict: a BLOCKED verdict on anything but a
// DANGEROUS_OP task becomes ERROR (only DANGEROUS_OP tasks are allowed to
// end BLOCKED), a COMPLETE verdict carrying a trailing question on a
// READ_INFO or REPORT task becomes AWAITING_RESPONSE instead, and an
// INCOMPLETE verdict (the loop exhausted its iterations without a PASS)
// is escalated to AWAITING_RESPONSE rather than silently failing, so a
// human gets a chance to redirect the task instead of it dead-ending.
func rewriteStatus(rec *task.Record, outcome executionOutcome) (task.Status, any) {
	res := outcome.result

	// A BLOCKED verdict is decided before the generic INCOMPLETE-exhaustion
	// check below: the Review Loop's judge() never PASSes a BLOCKED result,
	// so a BLOCKED run always exhausts its iteration budget and would
	// otherwise be mislabeled AWAITING_RESPONSE by the same branch that
	// handles a genuinely-incomplete, non-blocked run.
	if res.Status == execadapter.StatusBlocked {
		reason := res.BlockedReason
		if reason == "" {
			reason = fallbackClarificationQuestion
		}
		if rec.TaskType != task.TaskTypeDangerousOp {
			return task.StatusError, queue.ErrorPatch{ErrorMessage: reason}
		}
		return task.StatusBlocked, queue.BlockedPatch{Reason: reason}
	}

	if outcome.reviewStatus == "INCOMPLETE" {
		question := "Review loop exhausted its iteration budget without a passing result; manual review requested."
		if res.Output != "" {
			question = res.Output
		}
		return task.StatusAwaitingResponse, queue.AwaitingResponsePatch{Question: question}
	}

	switch res.Status {
	case execadapter.StatusComplete:
		if outcome.reviewStatus == "ERROR" {
			return task.StatusError, queue.ErrorPatch{ErrorMessage: res.Error}
		}
		if looksLikeQuestion(res.Output) && (rec.TaskType == task.TaskTypeReadInfo || rec.TaskType == task.TaskTypeReport) {
			return task.StatusAwaitingResponse, queue.AwaitingResponsePatch{Question: res.Output}
		}
		return task.StatusComplete, queue.CompletePatch{Output: res.Output, SubtaskIDs: subtaskIDs(outcome.subtasks)}

	default:
		errMsg := res.Error
		if errMsg == "" {
			errMsg = "task run did not complete"
		}
		return task.StatusError, queue.ErrorPatch{ErrorMessage: errMsg}
	}
}

func subtaskIDs(subs []task.SubtaskDefinition) []string {
	if len(subs) == 0 {
		return nil
	}
	ids := make([]string, len(subs))
	for i, s := range subs {
		ids[i] = s.SubtaskID
	}
	return ids
}

func looksLikeQuestion(output string) bool {
	trimmed := strings.TrimSpace(output)
	return strings.HasSuffix(trimmed, "?")
}
