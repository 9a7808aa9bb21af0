package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateGoalDrift_CleanOutputFailsChecklistAndCompletionLine(t *testing.T) {
	failed := EvaluateGoalDrift("implemented the feature as requested.")
	assert.Contains(t, failed, gd3ChecklistPresent)
	assert.Contains(t, failed, gd4CompletionLine)
	assert.NotContains(t, failed, gd1EscapePhrase)
	assert.NotContains(t, failed, gd5ScopeReduction)
}

func TestEvaluateGoalDrift_EscapePhraseDetected(t *testing.T) {
	failed := EvaluateGoalDrift("I cannot complete this within the given constraints.")
	assert.Contains(t, failed, gd1EscapePhrase)
}

func TestEvaluateGoalDrift_PrematureCompletionPhrase(t *testing.T) {
	failed := EvaluateGoalDrift("this covers the main cases for now.")
	assert.Contains(t, failed, gd2PrematureCompletion)
}

func TestEvaluateGoalDrift_ScopeReductionPhrase(t *testing.T) {
	failed := EvaluateGoalDrift("only implemented the happy path for this task.")
	assert.Contains(t, failed, gd5ScopeReduction)
}

func TestEvaluateGoalDrift_ChecklistAndCompletionLinePresentSatisfyGD3AndGD4(t *testing.T) {
	output := "- [x] update handler\n- [x] add tests\n\nCOMPLETE: All 2 requirements fulfilled"
	failed := EvaluateGoalDrift(output)
	assert.NotContains(t, failed, gd3ChecklistPresent)
	assert.NotContains(t, failed, gd4CompletionLine)
}

func TestEvaluateGoalDrift_IncompleteCompletionLineSatisfiesGD4(t *testing.T) {
	output := "- [ ] remaining item\n\nINCOMPLETE: Requirements 2 remain"
	failed := EvaluateGoalDrift(output)
	assert.NotContains(t, failed, gd4CompletionLine)
}

func TestEvaluateGoalDrift_Dedupes(t *testing.T) {
	// gd2, gd3, gd4 all map onto Q5EvidencePresent; triggering gd2 alone
	// should not also report gd3/gd4 as separate entries in the slice.
	output := "should be sufficient for now."
	failed := EvaluateGoalDrift(output)
	count := 0
	for _, c := range failed {
		if c == Q5EvidencePresent {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
