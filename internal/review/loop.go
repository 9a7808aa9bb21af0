package review

import (
	"context"
	"strings"
	"time"

	"github.com/taskorch/engine/internal/execadapter"
	"github.com/taskorch/engine/internal/task"
)

// Config carries the iteration bounds from §4.E.
type Config struct {
	MaxIterations  int
	EscalateOnMax  bool
	RetryDelay     time.Duration
	GoalDriftGuard bool
}

// Executor is the single-call contract the Review Loop drives: one
// invocation of the executor adapter for one (possibly re-prompted) run.
type Executor func(ctx context.Context, prompt string) (*execadapter.Result, []string, bool, error)

// EventSink receives the observable events named in §4.E so the control
// plane's trace endpoint can render them live.
type EventSink func(name string, data map[string]any)

// Outcome is the Review Loop's terminal verdict for one task.
type Outcome struct {
	Result     *execadapter.Result
	Status     string // COMPLETE | INCOMPLETE | ERROR
	Iterations []task.ReviewIterationRecord
}

func judge(res *execadapter.Result, previews []string, truncated bool, goalDrift bool) (task.Judgment, []Criterion) {
	if res.Status == execadapter.StatusError || res.Status == execadapter.StatusBlocked || res.Status == execadapter.StatusIncomplete {
		return task.JudgmentRetry, nil
	}

	failed := Evaluate(res, previews, truncated)
	if goalDrift {
		failed = append(failed, EvaluateGoalDrift(res.Output)...)
		failed = dedupe(failed)
	}
	if len(failed) == 0 {
		return task.JudgmentPass, nil
	}
	return task.JudgmentReject, failed
}

// buildModificationPrompt composes a re-prompt naming every failed
// criterion, per §4.E's REJECT iteration contract.
func buildModificationPrompt(original string, failed []Criterion) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\n\nThe previous attempt failed review on:\n")
	for _, c := range failed {
		b.WriteString("- ")
		b.WriteString(string(c))
		b.WriteString("\n")
	}
	b.WriteString("Address every item above before reporting completion.")
	return b.String()
}

// Run drives the bounded review iteration loop for one task (§4.E). exec
// is called once per iteration with the (possibly rewritten) prompt.
func Run(ctx context.Context, cfg Config, prompt string, exec Executor, emit EventSink) Outcome {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 3
	}
	if emit == nil {
		emit = func(string, map[string]any) {}
	}

	emit("REVIEW_LOOP_START", map[string]any{"prompt": prompt})

	var records []task.ReviewIterationRecord
	currentPrompt := prompt

	exhausted := func(res *execadapter.Result) Outcome {
		status := "INCOMPLETE"
		if !cfg.EscalateOnMax {
			status = "ERROR"
		}
		emit("REVIEW_LOOP_END", map[string]any{"status": status})
		return Outcome{Result: res, Status: status, Iterations: records}
	}

	for i := 1; i <= cfg.MaxIterations; i++ {
		lastIteration := i == cfg.MaxIterations
		emit("REVIEW_ITERATION_START", map[string]any{"iteration": i})

		res, previews, truncated, err := exec(ctx, currentPrompt)
		if err != nil {
			records = append(records, task.ReviewIterationRecord{Iteration: i, Judgment: task.JudgmentRetry})
			emit("REVIEW_ITERATION_END", map[string]any{"iteration": i, "judgment": "RETRY", "error": err.Error()})
			if lastIteration {
				return exhausted(nil)
			}
			sleepRetryDelay(ctx, cfg.RetryDelay)
			continue
		}

		verdict, failed := judge(res, previews, truncated, cfg.GoalDriftGuard)
		failedNames := criteriaNames(failed)
		emit("QUALITY_JUDGMENT", map[string]any{"judgment": string(verdict), "failed_criteria": failedNames})

		switch verdict {
		case task.JudgmentPass:
			records = append(records, task.ReviewIterationRecord{Iteration: i, Judgment: task.JudgmentPass})
			emit("REVIEW_ITERATION_END", map[string]any{"iteration": i, "judgment": "PASS"})
			emit("REVIEW_LOOP_END", map[string]any{"status": "COMPLETE"})
			return Outcome{Result: res, Status: "COMPLETE", Iterations: records}

		case task.JudgmentReject:
			modPrompt := buildModificationPrompt(prompt, failed)
			emit("REJECTION_DETAILS", map[string]any{"iteration": i, "failed_criteria": failedNames})
			emit("MODIFICATION_PROMPT", map[string]any{"iteration": i, "prompt": modPrompt})
			records = append(records, task.ReviewIterationRecord{
				Iteration: i, Judgment: task.JudgmentReject,
				FailedCriteria: failedNames, ModificationPrompt: modPrompt,
			})
			emit("REVIEW_ITERATION_END", map[string]any{"iteration": i, "judgment": "REJECT"})
			if lastIteration {
				return exhausted(res)
			}
			currentPrompt = modPrompt

		case task.JudgmentRetry:
			records = append(records, task.ReviewIterationRecord{Iteration: i, Judgment: task.JudgmentRetry})
			emit("REVIEW_ITERATION_END", map[string]any{"iteration": i, "judgment": "RETRY"})
			if lastIteration {
				return exhausted(res)
			}
			sleepRetryDelay(ctx, cfg.RetryDelay)
		}
	}

	return exhausted(nil)
}

func sleepRetryDelay(ctx context.Context, d time.Duration) {
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

func criteriaNames(cs []Criterion) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}
