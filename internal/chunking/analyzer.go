// Package chunking implements Task Chunking (spec §4.F): it decides
// whether a prompt decomposes into subtasks, fans them out sequentially or
// in parallel, and aggregates their results into one ExecutorResult.
//
// The fan-out executor is grounded on the teacher pack's
// cklxx-elephant.ai SubAgentOrchestrator (internal/agent/app/subagent.go),
// adapted from its errgroup.WithContext/SetLimit worker-pool pattern for
// subtask definitions instead of sub-agent delegations.
package chunking

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/taskorch/engine/internal/config"
	"github.com/taskorch/engine/internal/task"
)

var bulletLineRE = regexp.MustCompile(`(?m)^\s*(?:[-*]|\d+[.)])\s+\S`)

var largeScopeIndicators = []string{"entire", "full", "module", "system", "whole", "全体", "システム全体"}

var orderingWords = []string{"first", "then", "finally", "次に", "最後に", "まず"}

// Analysis is the decomposition decision for one prompt.
type Analysis struct {
	Decomposable bool
	Subtasks     []task.SubtaskDefinition
	Sequential   bool
}

// Analyze inspects a prompt for enumeration markers combined with
// large-scope indicators (§4.F). A prompt is decomposable only when both
// are present and the resulting subtask count falls within
// [cfg.MinSubtasks, cfg.MaxSubtasks]; otherwise it is run as a single task.
func Analyze(parentTaskID, prompt string, cfg config.ChunkingConfig) Analysis {
	lines := bulletLineRE.FindAllString(prompt, -1)
	hasLargeScope := containsAny(strings.ToLower(prompt), largeScopeIndicators)

	if len(lines) < 2 || !hasLargeScope {
		return Analysis{Decomposable: false}
	}

	min, max := cfg.MinSubtasks, cfg.MaxSubtasks
	if min <= 0 {
		min = 2
	}
	if max <= 0 {
		max = 10
	}
	if len(lines) < min || len(lines) > max {
		return Analysis{Decomposable: false}
	}

	subtasks := make([]task.SubtaskDefinition, 0, len(lines))
	for i, line := range lines {
		subtasks = append(subtasks, task.SubtaskDefinition{
			SubtaskID:      newSubtaskID(parentTaskID, i),
			ParentTaskID:   parentTaskID,
			Prompt:         strings.TrimSpace(stripBulletMarker(line)),
			ExecutionOrder: i,
			Status:         task.SubtaskPending,
		})
	}
	if len(subtasks) > 1 {
		for i := 1; i < len(subtasks); i++ {
			if isSequential(prompt) {
				subtasks[i].Dependencies = []string{subtasks[i-1].SubtaskID}
			}
		}
	}

	return Analysis{Decomposable: true, Subtasks: subtasks, Sequential: isSequential(prompt)}
}

func isSequential(prompt string) bool {
	return containsAny(strings.ToLower(prompt), orderingWords)
}

func stripBulletMarker(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	if idx := strings.IndexAny(trimmed, " \t"); idx >= 0 {
		marker := trimmed[:idx]
		if marker == "-" || marker == "*" || isNumberedMarker(marker) {
			return trimmed[idx+1:]
		}
	}
	return trimmed
}

func isNumberedMarker(s string) bool {
	s = strings.TrimSuffix(strings.TrimSuffix(s, "."), ")")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func newSubtaskID(parentTaskID string, index int) string {
	return parentTaskID + "-sub-" + strconv.Itoa(index)
}
